package host

import (
	"golang.org/x/sync/errgroup"

	"github.com/ascend-vs/annserve/cmn/cos"
)

// forEachDevice is the CALL_PARALLEL_FUNCTOR fan-out (spec §4.5/§9):
// fn runs once per device index concurrently via errgroup.Group, but
// every goroutine runs to completion regardless of earlier failures —
// per §7 "façade aggregation over per-device failures (no partial
// success)", a caller needs to know about every device that failed,
// not just the first. Errors are collected into a cos.Errs and
// returned as one joined error.
func forEachDevice(n int, fn func(i int) error) error {
	var (
		g    errgroup.Group
		errs cos.Errs
	)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := fn(i); err != nil {
				errs.Add(err)
			}
			return nil
		})
	}
	g.Wait()
	if _, err := errs.JoinErr(); err != nil {
		return err
	}
	return nil
}

// mapEachDevice is forEachDevice plus per-device result collection,
// used by Search/GetBase-style calls that need every device's partial
// result before merging.
func mapEachDevice[T any](n int, fn func(i int) (T, error)) ([]T, error) {
	out := make([]T, n)
	err := forEachDevice(n, func(i int) error {
		v, err := fn(i)
		if err != nil {
			return err
		}
		out[i] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

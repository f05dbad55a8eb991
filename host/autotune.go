package host

import "github.com/ascend-vs/annserve/daemon"

// autoTuneNProbeCandidates enumerates nprobe as powers of two in
// [1, 2^12), bounded by min(nlist, MAX_K_SELECTION) (spec §4.7 and the
// hardware cap noted in §9).
func autoTuneNProbeCandidates(nlist int) []int {
	cap := nlist
	if cap > daemon.MaxKSelection {
		cap = daemon.MaxKSelection
	}
	var out []int
	for p := 1; p < 1<<12; p *= 2 {
		if p > cap {
			break
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		out = []int{1}
	}
	return out
}

// AutoTuneNProbe runs the candidate nprobe values from smallest to
// largest, calling eval(nprobe) for each and keeping the smallest
// nprobe whose eval returns true (the caller's own recall/latency
// acceptance test); it returns the largest candidate if none satisfy
// eval, matching "bounded enumeration, not unbounded search" from
// §4.7.
func AutoTuneNProbe(nlist int, eval func(nprobe int) bool) int {
	candidates := autoTuneNProbeCandidates(nlist)
	for _, p := range candidates {
		if eval(p) {
			return p
		}
	}
	return candidates[len(candidates)-1]
}

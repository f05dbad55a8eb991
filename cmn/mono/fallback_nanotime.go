//go:build !mono

// Package mono provides low-level monotonic time
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns a monotonic-clock reading in nanoseconds. The "mono"
// build tag switches this to a go:linkname'd runtime.nanotime for
// allocation-free reads on the request path; absent that tag, time.Now's
// own monotonic reading is good enough.
func NanoTime() int64 {
	return int64(time.Since(start))
}

// Package cmn provides the error taxonomy, shared constants, and small
// utilities used across host, client, and daemon.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is one of the four error classes from the design's error taxonomy.
type Code string

const (
	// Precondition: operation called in the wrong state (add before train,
	// n outside 32-bit range, mismatched dim, empty device list).
	Precondition Code = "PRECONDITION"
	// Transport: framing, serialization, link, or remote-side RPC failure.
	Transport Code = "TRANSPORT"
	// Device: allocator exhaustion, kernel failure, model load failure.
	Device Code = "DEVICE"
	// Invariant: internal consistency check (LIFO violation, codes/ids
	// size mismatch, post-remove count mismatch).
	Invariant Code = "INVARIANT"
)

// Err is the one error type every host/client/daemon boundary returns.
// Op names the failing operation (e.g. "IndexIVFPQAdd"); Device, when >= 0,
// names the offending device.
type Err struct {
	Op     string
	Device int
	Code   Code
	Inner  error
}

func (e *Err) Error() string {
	if e.Device >= 0 {
		return fmt.Sprintf("%s: device %d: %s: %v", e.Op, e.Device, e.Code, e.Inner)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Inner)
}

func (e *Err) Unwrap() error { return e.Inner }

// NewErr wraps cause with a stack-annotated trace (via pkg/errors) and
// tags it with op/code/device for the caller's aggregator.
func NewErr(op string, code Code, device int, cause error) *Err {
	return &Err{Op: op, Device: device, Code: code, Inner: errors.WithStack(cause)}
}

func NewErrf(op string, code Code, device int, format string, args ...any) *Err {
	return NewErr(op, code, device, fmt.Errorf(format, args...))
}

// IsCode reports whether err (or anything it wraps) is a *Err of the given code.
func IsCode(err error, code Code) bool {
	var e *Err
	for err != nil {
		if ae, ok := err.(*Err); ok {
			e = ae
			break
		}
		err = errors.Unwrap(err)
	}
	return e != nil && e.Code == code
}

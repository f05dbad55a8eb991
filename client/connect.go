// Package client implements the host-side transport session: connect
// with retry, one request/response round trip per call serialized by a
// per-session mutex, and the bulk fast-receive side channel.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package client

import (
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/ascend-vs/annserve/cmn/cos"
	"github.com/ascend-vs/annserve/cmn/nlog"
)

const (
	connectRetries = 5
	connectSpacing = 20 * time.Second
)

// Connect dials addr, retrying up to connectRetries times spaced
// connectSpacing apart while cos.IsRetriableConnErr classifies the
// failure as retriable; the last attempt's error is returned, wrapped
// with the number of attempts made.
func Connect(addr string, dialTimeout time.Duration) (net.Conn, error) {
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= connectRetries; attempt++ {
		attempts = attempt
		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err == nil {
			nlog.Infof("client: connected to %s on attempt %d", addr, attempt)
			return conn, nil
		}
		lastErr = errors.Wrapf(err, "attempt %d/%d", attempt, connectRetries)
		nlog.Warningf("client: dial %s failed (attempt %d/%d): %v", addr, attempt, connectRetries, err)
		if !cos.IsRetriableConnErr(err) {
			break
		}
		if attempt < connectRetries {
			time.Sleep(connectSpacing)
		}
	}
	return nil, errors.Wrapf(lastErr, "client: failed to connect to %s after %d attempts", addr, attempts)
}

package client_test

import (
	"net"
	"testing"
	"time"

	"github.com/ascend-vs/annserve/client"
)

// echoListener accepts connections and does nothing with them beyond
// keeping the socket open, enough for Registry.Acquire/Release to
// exercise real net.Conn lifecycles.
func echoListener(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				buf := make([]byte, 1024)
				for {
					if _, err := conn.Read(buf); err != nil {
						conn.Close()
						return
					}
				}
			}()
		}
	}()
	return ln.Addr().String()
}

func TestRegistryAcquireSharesOneSessionPerAddr(t *testing.T) {
	addr := echoListener(t)
	reg := client.NewRegistry()

	s1, err := reg.Acquire(addr, time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	s2, err := reg.Acquire(addr, time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if s1 != s2 {
		t.Fatalf("expected the same *Session for repeated Acquire(%s)", addr)
	}
	if n := reg.Len(); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
	reg.Release(addr)
	reg.Release(addr)
}

func TestRegistryReleaseDoesNotCloseUntilReaped(t *testing.T) {
	addr := echoListener(t)
	reg := client.NewRegistry()

	sess, err := reg.Acquire(addr, time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	reg.Release(addr)

	// Immediately re-acquiring before any reap sweep must reuse the
	// same still-open session rather than reconnecting.
	again, err := reg.Acquire(addr, time.Second)
	if err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
	if again != sess {
		t.Fatalf("Release tore the session down eagerly; expected reuse")
	}
	reg.Release(addr)
}

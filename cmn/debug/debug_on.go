//go:build debug

// Package debug provides assertion and invariant-checking utilities that
// compile to no-ops unless built with the "debug" build tag.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"fmt"
	"sync"
)

func ON() bool { return true }

func Func(f func()) { f() }

// Assert panics on the LIFO and id/dim invariants called out across
// the allocator, device vector, and IVF list bookkeeping. Building
// without "debug" compiles these checks away entirely.
func Assert(cond bool, args ...any) {
	if !cond {
		panic(fmt.Sprint("assertion failed: ", fmt.Sprint(args...)))
	}
}

func AssertFunc(f func() bool, args ...any) {
	if !f() {
		panic(fmt.Sprint("assertion failed: ", fmt.Sprint(args...)))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panic("assertion failed: " + err.Error())
	}
}

func Assertf(cond bool, f string, args ...any) {
	if !cond {
		panic("assertion failed: " + fmt.Sprintf(f, args...))
	}
}

func AssertMutexLocked(m *sync.Mutex) {
	if m.TryLock() {
		m.Unlock()
		panic("mutex not locked")
	}
}

func AssertRWMutexLocked(m *sync.RWMutex) {
	if m.TryLock() {
		m.Unlock()
		panic("rwmutex not locked")
	}
}

func AssertRWMutexRLocked(m *sync.RWMutex) {
	if m.TryLock() {
		m.Unlock()
		panic("rwmutex not even rlocked")
	}
}

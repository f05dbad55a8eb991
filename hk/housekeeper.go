// Package hk provides a mechanism for registering cleanup functions
// that are invoked at specified intervals: idle-session teardown for
// client.Registry, periodic log flushing for the daemon process.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package hk

import (
	"container/heap"
	"sync"
	"time"
)

// CleanupFunc runs one housekeeping tick and returns the delay until its
// next tick. Returning <= 0 unregisters it.
type CleanupFunc func() time.Duration

type entry struct {
	name     string
	f        CleanupFunc
	due      time.Time
	index    int
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *entryHeap) Push(x any)         { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Housekeeper runs a heap of registered cleanups, always waking for the
// soonest-due one.
type Housekeeper struct {
	mu      sync.Mutex
	byName  map[string]*entry
	h       entryHeap
	wake    chan struct{}
	stop    chan struct{}
	started chan struct{}
	once    sync.Once
}

func New() *Housekeeper {
	return &Housekeeper{
		byName:  make(map[string]*entry),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		started: make(chan struct{}),
	}
}

var DefaultHK = New()

// TestInit resets DefaultHK for a fresh test run.
func TestInit() {
	DefaultHK = New()
}

// WaitStarted blocks until DefaultHK.Run has entered its loop.
func WaitStarted() {
	<-DefaultHK.started
}

// Reg registers (or replaces) a named cleanup, due after delay.
func (hk *Housekeeper) Reg(name string, f CleanupFunc, delay time.Duration) {
	hk.mu.Lock()
	if old, ok := hk.byName[name]; ok {
		old.f = nil // tombstoned; Pop skips nil f
	}
	e := &entry{name: name, f: f, due: time.Now().Add(delay)}
	hk.byName[name] = e
	heap.Push(&hk.h, e)
	hk.mu.Unlock()
	hk.poke()
}

func (hk *Housekeeper) Unreg(name string) {
	hk.mu.Lock()
	if e, ok := hk.byName[name]; ok {
		e.f = nil
		delete(hk.byName, name)
	}
	hk.mu.Unlock()
}

func (hk *Housekeeper) poke() {
	select {
	case hk.wake <- struct{}{}:
	default:
	}
}

// Run drives the heap until Stop is called; launch with `go hk.Run()`.
func (hk *Housekeeper) Run() {
	hk.once.Do(func() { close(hk.started) })
	for {
		hk.mu.Lock()
		var timer <-chan time.Time
		if len(hk.h) > 0 {
			d := time.Until(hk.h[0].due)
			if d < 0 {
				d = 0
			}
			timer = time.After(d)
		}
		hk.mu.Unlock()

		select {
		case <-hk.stop:
			return
		case <-hk.wake:
			continue
		case <-orNever(timer):
			hk.tick()
		}
	}
}

func orNever(c <-chan time.Time) <-chan time.Time {
	if c == nil {
		return make(chan time.Time) // blocks forever
	}
	return c
}

func (hk *Housekeeper) tick() {
	hk.mu.Lock()
	if len(hk.h) == 0 || hk.h[0].due.After(time.Now()) {
		hk.mu.Unlock()
		return
	}
	e := heap.Pop(&hk.h).(*entry)
	f := e.f
	name := e.name
	hk.mu.Unlock()

	if f == nil {
		return // tombstoned by Reg/Unreg
	}
	if next := f(); next > 0 {
		hk.Reg(name, f, next)
	} else {
		hk.Unreg(name)
	}
}

func (hk *Housekeeper) Stop() { close(hk.stop) }

func Reg(name string, f CleanupFunc, delay time.Duration) { DefaultHK.Reg(name, f, delay) }
func Unreg(name string)                                   { DefaultHK.Unreg(name) }

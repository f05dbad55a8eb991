// Package stats exposes prometheus metrics for the daemon and host
// sides: daemon resource/allocator gauges (stack high-water mark,
// session count) and host façade counters (adds, searches, removes per
// device), grounded on the teacher's stats package in spirit (a single
// process-wide tracker instance) but built directly on
// github.com/prometheus/client_golang rather than the teacher's
// StatsD/Prometheus dual-build machinery, which this repo has no
// equivalent deployment story for.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// DaemonStats tracks one daemon process's per-device gauges and
// request counters. Device is fixed at construction since a daemon
// process owns exactly one device (spec §2).
type DaemonStats struct {
	device string

	stackHighWater prometheus.Gauge
	sessionCount   prometheus.Gauge
	allocatorCap   prometheus.Gauge

	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
}

// NewDaemonStats registers the daemon's gauges and counters against
// reg, labeling every series with device so a single Prometheus
// instance can scrape multiple daemon processes.
func NewDaemonStats(reg prometheus.Registerer, device int) *DaemonStats {
	d := strconv.Itoa(device)
	s := &DaemonStats{
		device: d,
		stackHighWater: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "annserve",
			Subsystem:   "daemon",
			Name:        "stack_high_water_bytes",
			Help:        "Largest concurrent stack-allocator reservation observed on this device.",
			ConstLabels: prometheus.Labels{"device": d},
		}),
		sessionCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "annserve",
			Subsystem:   "daemon",
			Name:        "contexts_open",
			Help:        "Number of open CreateContext handles on this device.",
			ConstLabels: prometheus.Labels{"device": d},
		}),
		allocatorCap: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "annserve",
			Subsystem:   "daemon",
			Name:        "allocator_capacity_bytes",
			Help:        "Configured stack allocator capacity on this device.",
			ConstLabels: prometheus.Labels{"device": d},
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "annserve",
			Subsystem:   "daemon",
			Name:        "requests_total",
			Help:        "RPC requests handled, by command.",
			ConstLabels: prometheus.Labels{"device": d},
		}, []string{"command"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "annserve",
			Subsystem:   "daemon",
			Name:        "errors_total",
			Help:        "RPC requests that returned a non-OK status, by command and status.",
			ConstLabels: prometheus.Labels{"device": d},
		}, []string{"command", "status"}),
	}
	reg.MustRegister(s.stackHighWater, s.sessionCount, s.allocatorCap, s.requests, s.errors)
	return s
}

func (s *DaemonStats) SetStackHighWater(bytes int64)  { s.stackHighWater.Set(float64(bytes)) }
func (s *DaemonStats) SetSessionCount(n int)           { s.sessionCount.Set(float64(n)) }
func (s *DaemonStats) SetAllocatorCapacity(bytes int)  { s.allocatorCap.Set(float64(bytes)) }

func (s *DaemonStats) ObserveRequest(command string)              { s.requests.WithLabelValues(command).Inc() }
func (s *DaemonStats) ObserveError(command, status string) {
	s.errors.WithLabelValues(command, status).Inc()
}

// HostStats tracks the host façade's per-device operation counters
// (spec: "adds, searches, removes per device").
type HostStats struct {
	adds    *prometheus.CounterVec
	removes *prometheus.CounterVec
	searchN *prometheus.CounterVec
	errors  *prometheus.CounterVec
}

// NewHostStats registers the host's counters against reg. One
// HostStats instance is shared across every host.Index in a process.
func NewHostStats(reg prometheus.Registerer) *HostStats {
	s := &HostStats{
		adds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "annserve", Subsystem: "host", Name: "add_vectors_total",
			Help: "Vectors placed on a device via Index.Add.",
		}, []string{"device"}),
		removes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "annserve", Subsystem: "host", Name: "removed_ids_total",
			Help: "Ids removed from a device via RemoveIds/RemoveRangeIds.",
		}, []string{"device"}),
		searchN: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "annserve", Subsystem: "host", Name: "search_queries_total",
			Help: "Queries fanned out to a device via Index.Search.",
		}, []string{"device"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "annserve", Subsystem: "host", Name: "rpc_errors_total",
			Help: "RPC errors observed by the host façade, by device and operation.",
		}, []string{"device", "op"}),
	}
	reg.MustRegister(s.adds, s.removes, s.searchN, s.errors)
	return s
}

func (s *HostStats) ObserveAdd(device string, n int)    { s.adds.WithLabelValues(device).Add(float64(n)) }
func (s *HostStats) ObserveRemove(device string, n int) { s.removes.WithLabelValues(device).Add(float64(n)) }
func (s *HostStats) ObserveSearch(device string, n int) { s.searchN.WithLabelValues(device).Add(float64(n)) }
func (s *HostStats) ObserveError(device, op string)     { s.errors.WithLabelValues(device, op).Inc() }

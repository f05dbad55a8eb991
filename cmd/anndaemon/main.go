// Package main is the per-device daemon process: one TCP listener
// speaking the proto.Envelope wire format, backed by one daemon.Server
// bound to a single accelerator device (spec §2).
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ascend-vs/annserve/cmn/nlog"
	"github.com/ascend-vs/annserve/daemon"
	"github.com/ascend-vs/annserve/hk"
	"github.com/ascend-vs/annserve/proto"
	"github.com/ascend-vs/annserve/stats"
)

const logFlushInterval = time.Minute

var (
	device       int
	listenAddr   string
	metricsAddr  string
	logDir       string
	resourceSize int
	altStreams   int
)

func init() {
	flag.IntVar(&device, "device", 0, "accelerator device id this daemon answers for")
	flag.StringVar(&listenAddr, "listen", ":7900", "address to accept proto.Envelope connections on")
	flag.StringVar(&metricsAddr, "metrics", "", "address to serve /metrics on; empty disables it")
	flag.StringVar(&logDir, "log-dir", "", "directory for nlog output files; empty writes no log files (warnings and errors still go to stderr)")
	flag.IntVar(&resourceSize, "resource-size", 256<<20, "stack allocator capacity in bytes, 0 disables it")
	flag.IntVar(&altStreams, "alt-streams", 2, "alternate compute stream count")
	nlog.InitFlags(flag.CommandLine)
}

func main() {
	flag.Parse()
	if logDir != "" {
		nlog.SetLogDirRole(logDir, "daemon")
	}
	nlog.SetTitle(fmt.Sprintf("anndaemon device=%d", device))
	installSignalHandler()

	srv := daemon.NewServer(device)
	srv.ResourceSize = resourceSize
	srv.AltStreams = altStreams

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		srv.Stats = stats.NewDaemonStats(reg, device)
		go serveMetrics(metricsAddr, reg)
	}

	hk.DefaultHK.Reg("log-flush", func() time.Duration {
		nlog.Flush(false)
		return logFlushInterval
	}, logFlushInterval)
	go hk.DefaultHK.Run()

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		nlog.Errorf("anndaemon: listen %s: %v", listenAddr, err)
		os.Exit(1)
	}
	nlog.Infof("anndaemon: device %d listening on %s", device, listenAddr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			nlog.Warningf("anndaemon: accept: %v", err)
			continue
		}
		go serveConn(srv, conn)
	}
}

// serveConn runs one client's request/response loop until the
// connection closes or a frame fails to parse; every RPC on a session
// is strictly serialized by the client (client.Session), so reading one
// full envelope, dispatching, and writing the reply is all this loop
// needs to do.
func serveConn(srv *daemon.Server, conn net.Conn) {
	defer conn.Close()
	for {
		env, err := proto.ReadEnvelope(conn)
		if err != nil {
			return
		}
		req := &proto.Request{}
		if _, err := req.UnmarshalMsg(env.Payload); err != nil {
			nlog.Errorf("anndaemon: malformed request on %s: %v", conn.RemoteAddr(), err)
			return
		}
		resp := srv.Dispatch(env.Command, req)
		payload, err := resp.MarshalMsg(nil)
		if err != nil {
			nlog.Errorf("anndaemon: marshal response: %v", err)
			return
		}
		out := &proto.Envelope{Command: env.Command, Payload: payload}
		if _, err := out.WriteTo(conn); err != nil {
			return
		}
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		nlog.Errorf("anndaemon: metrics server: %v", err)
	}
}

func installSignalHandler() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		nlog.Flush(true)
		os.Exit(0)
	}()
}

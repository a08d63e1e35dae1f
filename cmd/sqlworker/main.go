// Command sqlworker is the subprocess side of the bridge. It speaks the
// length-prefixed frame protocol on stdin/stdout, serves the SQL session
// method catalog, and logs diagnostics to stderr.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"sqlbridge/codec"
	"sqlbridge/config"
	"sqlbridge/endpoint"
	"sqlbridge/logger"
	"sqlbridge/middleware"
	"sqlbridge/session"
	"sqlbridge/stdio"
)

// Version is the protocol/worker version announced in the ready handshake.
const Version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "sqlworker: invalid configuration:", err)
		os.Exit(1)
	}
	log := logger.New(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File})

	tr := stdio.New(os.Stdin, os.Stdout, codec.Get(codec.TypeBinary), log)
	ep := endpoint.New(tr, log)
	ep.SetTimeout(time.Duration(cfg.InvokeTimeoutMS) * time.Millisecond)
	ep.Use(middleware.Logging(log))
	if cfg.RateLimit.PerSecond > 0 {
		ep.Use(middleware.RateLimit(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst))
	}

	sess := session.New(log)
	sess.Register(ep)

	done := make(chan error, 1)
	tr.OnFrame(ep.OnFrame)
	tr.OnClose(func(cause error) {
		ep.FailPending(cause)
		done <- cause
	})
	tr.Start()

	// Announce readiness before the host issues its first call.
	instanceID := uuid.NewString()
	if err := ep.Notify("ready", cfg.WorkerName, Version, instanceID); err != nil {
		log.Error("could not send ready handshake", "error", err)
		os.Exit(1)
	}
	log.Info("worker started", "name", cfg.WorkerName, "version", Version, "instance", instanceID)

	cause := <-done
	sess.Shutdown()
	log.Info("worker exiting", "cause", cause)
}

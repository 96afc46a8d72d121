// Package main runs the standalone mock agent backend.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/lxyhes/iflow-engine/internal/logging"
	"github.com/lxyhes/iflow-engine/internal/mockbackend"
)

func main() {
	addr := flag.String("addr", ":7800", "listen address")
	delay := flag.Duration("stream-delay", 30*time.Millisecond, "pause between stream frames")
	level := flag.String("log-level", "INFO", "log level")
	flag.Parse()

	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(*level)
	cfg.Pretty = true
	logging.Init(cfg)

	srv := mockbackend.New(mockbackend.WithStreamDelay(*delay))
	if err := srv.ListenAndServe(*addr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

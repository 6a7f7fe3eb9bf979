package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"intercheck/internal/app"
)

var version = "dev"

func main() {
	var (
		cfgPath     string
		port        int
		interval    int
		exact       bool
		showVersion bool
	)
	flag.StringVar(&cfgPath, "config", "./intercheck.json", "path to config json or yaml")
	flag.IntVar(&port, "port", 0, "port for the web server (saved to settings)")
	flag.IntVar(&port, "p", 0, "shorthand for -port")
	flag.IntVar(&interval, "interval", 0, "seconds between checks (saved to settings)")
	flag.IntVar(&interval, "i", 0, "shorthand for -interval")
	flag.BoolVar(&exact, "interval-exact", true, "snap checks to whole minutes (saved to settings)")
	flag.BoolVar(&exact, "e", true, "shorthand for -interval-exact")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.BoolVar(&showVersion, "v", false, "shorthand for -version")
	flag.Parse()

	if showVersion {
		fmt.Println("intercheck", version)
		return
	}

	opt := app.Options{ConfigPath: cfgPath, Version: version, Port: port, Interval: interval}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "interval-exact" || f.Name == "e" {
			opt.IntervalExact = &exact
		}
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(opt)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = a.Stop(context.Background())
		os.Exit(1)
	}
	// Not running under systemd is fine; SdNotify reports false, nil.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	err = a.Stop(stopCtx)
	if fatal := a.Err(); fatal != nil {
		fmt.Fprintln(os.Stderr, "fatal:", fatal)
		os.Exit(1)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "stop:", err)
		os.Exit(1)
	}
}

package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	logx "intercheck/pkg/logx"
)

type ListenConfig struct {
	Addr string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func (c ListenConfig) withDefaults() ListenConfig {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = ":5000"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	// Profiles and exports can take a while to stream.
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	return c
}

// Serve listens on cfg.Addr and serves the router until ctx is cancelled.
// A cancelled ctx yields context.Canceled; any other return is a failure the
// caller may restart.
func (s *Server) Serve(ctx context.Context, cfg ListenConfig) error {
	cfg = cfg.withDefaults()
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		s.log.Error("http listen failed", logx.String("addr", cfg.Addr), logx.Err(err))
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	return s.ServeListener(ctx, ln, cfg)
}

// ServeListener is Serve on an existing listener. The listener is closed on
// return.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener, cfg ListenConfig) error {
	cfg = cfg.withDefaults()
	defer func() { _ = ln.Close() }()

	if s.pprof && !isLoopbackAddr(ln.Addr().String()) {
		s.log.Warn("pprof exposed on non-loopback addr", logx.String("addr", ln.Addr().String()))
	}

	srv := &http.Server{
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	defer func() { _ = srv.Close() }()

	serveCtx, stop := context.WithCancel(ctx)
	defer stop()
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-serveCtx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			s.log.Warn("http shutdown error", logx.Err(err))
		}
	}()

	addr := ln.Addr().String()
	s.log.Info("http started", logx.String("addr", addr), logx.String("hint", fmt.Sprintf("http://%s/", addr)), logx.Bool("pprof", s.pprof))

	err := srv.Serve(ln)
	if ctx.Err() != nil {
		<-stopped
		s.log.Info("http stopped", logx.String("addr", addr))
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("http server exited unexpectedly")
	}
	return err
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

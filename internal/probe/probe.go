// Package probe runs one connectivity measurement and turns its outcome into
// a log record.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"intercheck/internal/record"
	"intercheck/pkg/speedtest"
)

// Measurement holds the metrics a probe produced. A nil metric was not
// measured.
type Measurement struct {
	Ping     *float64 // ms
	Download *float64 // Mbit/s
	Upload   *float64 // Mbit/s
}

// Client executes one measurement.
type Client interface {
	Run(ctx context.Context) (Measurement, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context) (Measurement, error)

func (f ClientFunc) Run(ctx context.Context) (Measurement, error) { return f(ctx) }

var ErrTimeout = errors.New("probe timed out")

// Measure runs c under timeout (0 disables it) and always returns a record.
// Failures, including a timeout, produce a record with every metric absent;
// the error is returned alongside for logging.
func Measure(ctx context.Context, c Client, timeout time.Duration) (record.ProbeRecord, error) {
	start := time.Now()

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		m   Measurement
		err error
	}
	// Run in its own goroutine so a client that ignores ctx cannot hang the
	// caller past the deadline.
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- outcome{err: fmt.Errorf("probe panicked: %v", p)}
			}
		}()
		m, err := c.Run(runCtx)
		ch <- outcome{m: m, err: err}
	}()

	var out outcome
	select {
	case out = <-ch:
	case <-runCtx.Done():
		out.err = runCtx.Err()
	}
	elapsed := time.Since(start)

	if out.err != nil {
		if errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
			out.err = fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return record.Failed(start, elapsed), out.err
	}
	return record.New(start, elapsed, out.m.Ping, out.m.Download, out.m.Upload), nil
}

// SpeedtestClient measures through speedtest.net servers.
type SpeedtestClient struct {
	runner *speedtest.Runner
}

func NewSpeedtestClient(r *speedtest.Runner) *SpeedtestClient {
	return &SpeedtestClient{runner: r}
}

func (c *SpeedtestClient) Run(ctx context.Context) (Measurement, error) {
	res, err := c.runner.Run(ctx)
	if err != nil {
		return Measurement{}, err
	}
	ping, down, up := res.PingMs, res.DownloadMbps, res.UploadMbps
	return Measurement{Ping: &ping, Download: &down, Upload: &up}, nil
}

package speedtest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"
)

// RunConfig controls how a speedtest run is executed.
type RunConfig struct {
	// Candidate servers to consider (sorted by distance, then pinged).
	ServerCount int
	// Number of lowest-latency servers to run a full download/upload test on.
	// Full tests run sequentially to keep peak memory low.
	FullTestServers int

	// UserConfig passed to speedtest-go.
	SavingMode     bool
	MaxConnections int

	// PingConcurrency caps how many ping tests run concurrently.
	PingConcurrency int

	// DialTimeout bounds connection setup for every request of the run.
	DialTimeout time.Duration

	// PostRunFreeOSMemory calls debug.FreeOSMemory after the run.
	PostRunFreeOSMemory bool
}

var ErrNoServers = errors.New("no speedtest servers available")

// Runner executes speedtests.
type Runner struct {
	cfg     RunConfig
	spawner Spawner
}

// Option customizes a Runner.
type Option func(*Runner)

// WithSpawner makes the runner use the provided spawner for its ping
// goroutines, enabling ownership under a supervisor.
func WithSpawner(s Spawner) Option { return func(r *Runner) { r.spawner = s } }

func NewRunner(cfg RunConfig, opts ...Option) *Runner {
	if cfg.ServerCount <= 0 {
		cfg.ServerCount = 5
	}
	if cfg.FullTestServers <= 0 {
		cfg.FullTestServers = 1
	}
	if cfg.FullTestServers > cfg.ServerCount {
		cfg.FullTestServers = cfg.ServerCount
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 4
	}
	if cfg.PingConcurrency <= 0 {
		cfg.PingConcurrency = 4
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	r := &Runner{cfg: cfg}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes a single speedtest. It honours ctx for cancellation; callers
// wanting a deadline wrap ctx themselves.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := r.cfg

	runCtx, cancelRun := context.WithCancel(ctx)
	ctx = runCtx

	start := time.Now()

	hc, tr := newHTTPClient(cfg)
	// Avoid package-level speedtest helpers; speedtest-go keeps package-level state.
	stc := st.New(
		st.WithUserConfig(&st.UserConfig{
			SavingMode:     cfg.SavingMode,
			MaxConnections: cfg.MaxConnections,
		}),
		st.WithDoer(hc),
	)
	stc.SetNThread(cfg.MaxConnections)

	defer func() {
		cancelRun()
		stc.Snapshots().Clean()
		stc.Reset()
		tr.CloseIdleConnections()
		if cfg.PostRunFreeOSMemory {
			debug.FreeOSMemory()
		}
	}()

	user, err := stc.FetchUserInfoContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}

	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return nil, ErrNoServers
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	candidateN := min(cfg.ServerCount, len(servers))
	candidates := servers[:candidateN]

	pinged := r.pingCandidates(ctx, candidates, cfg.PingConcurrency)
	if len(pinged) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("all latency tests failed")
	}

	sort.Slice(pinged, func(i, j int) bool { return pinged[i].Latency < pinged[j].Latency })
	fullSet := pinged[:min(cfg.FullTestServers, len(pinged))]

	results := make([]serverResult, 0, len(fullSet))
	for _, s := range fullSet {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.DownloadTestContext(ctx); err != nil {
			continue
		}
		if err := s.UploadTestContext(ctx); err != nil {
			continue
		}
		results = append(results, serverResult{
			server:   s,
			download: s.DLSpeed.Mbps(),
			upload:   s.ULSpeed.Mbps(),
			ping:     s.Latency,
		})

		// Drop per-test snapshots early.
		stc.Snapshots().Clean()
		stc.Reset()
	}
	if len(results) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("full test failed for all servers")
	}

	avg := averageResults(results)
	best := bestResult(results)

	return &Result{
		Timestamp:      start,
		DownloadMbps:   avg.download,
		UploadMbps:     avg.upload,
		PingMs:         float64(avg.ping.Microseconds()) / 1000,
		JitterMs:       float64(best.server.Jitter.Microseconds()) / 1000,
		ISP:            user.Isp,
		ServerName:     best.server.Sponsor,
		ServerCountry:  best.server.Country,
		Duration:       time.Since(start),
		CandidateCount: candidateN,
		FullTestCount:  len(results),
	}, nil
}

func (r *Runner) pingCandidates(ctx context.Context, servers []*st.Server, maxConcurrent int) []*st.Server {
	sem := make(chan struct{}, maxConcurrent)
	out := make(chan *st.Server, len(servers))
	var wg sync.WaitGroup

	launch := func(name string, fn func()) {
		if r.spawner != nil {
			r.spawner.Go(name, fn)
			return
		}
		go fn()
	}

	for i, s := range servers {
		s := s // per-iteration copy (go directive is < 1.22)
		wg.Add(1)
		launch(fmt.Sprintf("speedtest.ping.%d", i), func() {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}
			defer func() { <-sem }()

			if err := s.PingTestContext(ctx, nil); err != nil || s.Latency <= 0 {
				return
			}
			out <- s
		})
	}

	wg.Wait()
	close(out)

	pinged := make([]*st.Server, 0, len(servers))
	for s := range out {
		pinged = append(pinged, s)
	}
	return pinged
}

type serverResult struct {
	server   *st.Server
	download float64
	upload   float64
	ping     time.Duration
}

func averageResults(results []serverResult) serverResult {
	var out serverResult
	if len(results) == 0 {
		return out
	}
	for _, r := range results {
		out.download += r.download
		out.upload += r.upload
		out.ping += r.ping
	}
	n := len(results)
	out.download /= float64(n)
	out.upload /= float64(n)
	out.ping /= time.Duration(n)
	return out
}

// bestResult prefers lower ping, then higher download speed.
func bestResult(results []serverResult) serverResult {
	best := results[0]
	for _, r := range results[1:] {
		if r.ping < best.ping || (r.ping == best.ping && r.download > best.download) {
			best = r
		}
	}
	return best
}

func newHTTPClient(cfg RunConfig) (*http.Client, *http.Transport) {
	d := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   max(2, cfg.MaxConnections),
		IdleConnTimeout:       10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: tr}, tr
}

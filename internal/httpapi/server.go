// Package httpapi exposes status, stats, settings and the force trigger over
// HTTP for the dashboard.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"intercheck/internal/force"
	"intercheck/internal/record"
	"intercheck/internal/settings"
	"intercheck/internal/stats"
	"intercheck/internal/status"
	logx "intercheck/pkg/logx"
)

// Windows reported by /summary/, in days.
var SummaryDays = []int{1, 30}

// PointsDays is the window served by /points/.
const PointsDays = 30

// LogReader is the read side of the probe log, used for exports.
type LogReader interface {
	ReadAll(ctx context.Context) ([]record.ProbeRecord, error)
}

type Deps struct {
	Log      logx.Logger
	Status   *status.Tracker
	Stats    *stats.Engine
	Settings settings.Provider
	Force    *force.Signal
	Store    LogReader
}

type Options struct {
	Version string

	// ForceRate limits /force/, in requests per second.
	// 0 disables the limit.
	ForceRate  float64
	ForceBurst int

	// Pprof mounts net/http/pprof under /debug.
	Pprof bool
}

type Server struct {
	log      logx.Logger
	status   *status.Tracker
	stats    *stats.Engine
	settings settings.Provider
	force    *force.Signal
	store    LogReader

	version string
	limiter *rate.Limiter
	pprof   bool
}

func New(d Deps, opt Options) *Server {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	st := d.Status
	if st == nil {
		st = status.NewTracker()
	}
	fs := d.Force
	if fs == nil {
		fs = force.New()
	}
	s := &Server{
		log:      log,
		status:   st,
		stats:    d.Stats,
		settings: d.Settings,
		force:    fs,
		store:    d.Store,
		version:  opt.Version,
		pprof:    opt.Pprof,
	}
	if opt.ForceRate > 0 {
		burst := opt.ForceBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opt.ForceRate), burst)
	}
	return s
}

// Router builds the HTTP handler. Every route answers with and without a
// trailing slash.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.log))
	r.Use(cors.AllowAll().Handler)

	get := func(path string, h http.HandlerFunc) {
		r.Get(path, h)
		r.Get(path+"/", h)
	}
	get("/healthz", s.handleHealth)
	get("/status", s.handleStatus)
	get("/summary", s.handleSummary)
	get("/points", s.handlePoints)
	get("/force", s.handleForce)
	get("/settings", s.handleGetSettings)
	r.Put("/settings", s.handlePutSettings)
	r.Put("/settings/", s.handlePutSettings)
	r.Get("/download/log.csv", s.handleDownloadCSV)
	r.Get("/download/log.json", s.handleDownloadJSON)

	if s.pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

func (s *Server) allowForce() bool {
	if s.limiter == nil {
		return true
	}
	return s.limiter.Allow()
}

// requestLogger logs one line per request at debug level.
func requestLogger(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Int("bytes", ww.BytesWritten()),
				logx.Duration("took", time.Since(start)),
				logx.String("remote", r.RemoteAddr),
			)
		})
	}
}

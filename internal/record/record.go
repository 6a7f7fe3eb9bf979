// Package record defines the probe log entry shared by the scheduler and the
// statistics engine.
package record

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/guregu/null/v5"
)

// ProbeRecord is one measurement outcome. Metrics are null when the probe could
// not measure them; a record with any null metric counts as disconnected.
//
// IMPORTANT: JSON keys are kept stable because records are persisted to the
// NDJSON log. Changing them breaks existing logs.
type ProbeRecord struct {
	Start    time.Time  `json:"-"`
	Duration float64    `json:"duration"` // seconds
	Ping     null.Float `json:"ping"`     // ms
	Download null.Float `json:"download"` // Mbit/s
	Upload   null.Float `json:"upload"`   // Mbit/s
}

// New builds a record from a probe outcome. Nil, negative, NaN and infinite
// metrics are stored as absent.
func New(start time.Time, duration time.Duration, ping, download, upload *float64) ProbeRecord {
	return ProbeRecord{
		Start:    start,
		Duration: duration.Seconds(),
		Ping:     metric(ping),
		Download: metric(download),
		Upload:   metric(upload),
	}
}

// Failed builds a record with every metric absent.
func Failed(start time.Time, duration time.Duration) ProbeRecord {
	return New(start, duration, nil, nil, nil)
}

func metric(v *float64) null.Float {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
		return null.Float{}
	}
	return null.FloatFrom(*v)
}

// Success reports whether all three metrics are present.
func (r ProbeRecord) Success() bool {
	return r.Ping.Valid && r.Download.Valid && r.Upload.Valid
}

// StartUnix returns the start timestamp as fractional seconds since the epoch.
func (r ProbeRecord) StartUnix() float64 { return Unix(r.Start) }

// Unix converts t to fractional seconds since the epoch.
func Unix(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// FromUnix converts fractional epoch seconds to a time.Time.
func FromUnix(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9)))
}

// Metric names, in the order they are reported.
const (
	MetricPing     = "ping"
	MetricDownload = "download"
	MetricUpload   = "upload"
)

// Metrics lists the measured metrics.
var Metrics = []string{MetricPing, MetricDownload, MetricUpload}

// Value returns the named metric.
func (r ProbeRecord) Value(name string) null.Float {
	switch name {
	case MetricPing:
		return r.Ping
	case MetricDownload:
		return r.Download
	case MetricUpload:
		return r.Upload
	default:
		return null.Float{}
	}
}

type wireRecord struct {
	Start    float64    `json:"start"`
	Duration float64    `json:"duration"`
	Ping     null.Float `json:"ping"`
	Download null.Float `json:"download"`
	Upload   null.Float `json:"upload"`
}

// MarshalJSON writes start as epoch seconds, the format the log has always used.
func (r ProbeRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireRecord{
		Start:    r.StartUnix(),
		Duration: r.Duration,
		Ping:     r.Ping,
		Download: r.Download,
		Upload:   r.Upload,
	})
}

func (r *ProbeRecord) UnmarshalJSON(b []byte) error {
	var w wireRecord
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if w.Start <= 0 {
		return fmt.Errorf("record: missing start")
	}
	*r = ProbeRecord{
		Start:    FromUnix(w.Start),
		Duration: w.Duration,
		Ping:     w.Ping,
		Download: w.Download,
		Upload:   w.Upload,
	}
	return nil
}

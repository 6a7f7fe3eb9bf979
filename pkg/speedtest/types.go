package speedtest

import "time"

// Result is a single speedtest measurement.
type Result struct {
	Timestamp     time.Time
	DownloadMbps  float64
	UploadMbps    float64
	PingMs        float64
	JitterMs      float64
	ISP           string
	ServerName    string
	ServerCountry string

	Duration       time.Duration
	CandidateCount int
	FullTestCount  int
}

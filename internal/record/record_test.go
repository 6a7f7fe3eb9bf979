package record

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"
)

func f(v float64) *float64 { return &v }

func TestSuccessRequiresAllMetrics(t *testing.T) {
	start := time.Unix(1700000000, 0)
	cases := []struct {
		name               string
		ping, down, upload *float64
		want               bool
	}{
		{"all present", f(12), f(100), f(20), true},
		{"ping missing", nil, f(100), f(20), false},
		{"download missing", f(12), nil, f(20), false},
		{"upload missing", f(12), f(100), nil, false},
		{"nan download", f(12), f(math.NaN()), f(20), false},
		{"negative upload", f(12), f(100), f(-1), false},
		{"zero throughput is a measurement", f(12), f(0), f(0), true},
	}
	for _, c := range cases {
		r := New(start, 3*time.Second, c.ping, c.down, c.upload)
		if got := r.Success(); got != c.want {
			t.Fatalf("%s: Success()=%v want %v", c.name, got, c.want)
		}
	}
	if Failed(start, time.Second).Success() {
		t.Fatalf("Failed record reported success")
	}
}

func TestJSONKeepsEpochSecondsAndNulls(t *testing.T) {
	start := time.Unix(1700000000, 500_000_000)
	r := New(start, 1500*time.Millisecond, f(9.5), nil, f(4))

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `"start":1700000000.5`) {
		t.Fatalf("start not encoded as epoch seconds: %s", s)
	}
	if !strings.Contains(s, `"download":null`) {
		t.Fatalf("absent metric not encoded as null: %s", s)
	}

	var back ProbeRecord
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Start.Equal(start) {
		t.Fatalf("start=%v want %v", back.Start, start)
	}
	if back.Download.Valid || !back.Ping.Valid || back.Ping.Float64 != 9.5 {
		t.Fatalf("unexpected metrics after decode: %+v", back)
	}
}

func TestUnmarshalRejectsMissingStart(t *testing.T) {
	var r ProbeRecord
	if err := json.Unmarshal([]byte(`{"duration":1}`), &r); err == nil {
		t.Fatalf("expected error for record without start")
	}
}

package httpapi

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/guregu/null/v5"

	"intercheck/internal/record"
	logx "intercheck/pkg/logx"
)

// CSVHeader is the column order of the CSV export.
var CSVHeader = []string{"start", "duration", "ping", "download", "upload"}

func (s *Server) handleDownloadJSON(w http.ResponseWriter, r *http.Request) {
	recs, ok := s.readLog(w, r)
	if !ok {
		return
	}
	if recs == nil {
		recs = []record.ProbeRecord{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename=log.json")
	if err := json.NewEncoder(w).Encode(map[string]any{"log": recs}); err != nil {
		s.log.Debug("write json export failed", logx.Err(err))
	}
}

func (s *Server) handleDownloadCSV(w http.ResponseWriter, r *http.Request) {
	recs, ok := s.readLog(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=log.csv")
	if err := WriteCSV(w, recs); err != nil {
		s.log.Debug("write csv export failed", logx.Err(err))
	}
}

func (s *Server) readLog(w http.ResponseWriter, r *http.Request) ([]record.ProbeRecord, bool) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "log unavailable")
		return nil, false
	}
	recs, err := s.store.ReadAll(r.Context())
	if err != nil {
		s.log.Error("read probe log for export failed", logx.Err(err))
		s.writeError(w, http.StatusInternalServerError, "could not read log")
		return nil, false
	}
	return recs, true
}

// WriteCSV writes recs with a header row. Absent metrics are empty cells.
func WriteCSV(w io.Writer, recs []record.ProbeRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	row := make([]string, len(CSVHeader))
	for _, rec := range recs {
		row[0] = formatFloat(rec.StartUnix())
		row[1] = formatFloat(rec.Duration)
		row[2] = formatMetric(rec.Ping)
		row[3] = formatMetric(rec.Download)
		row[4] = formatMetric(rec.Upload)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func formatMetric(v null.Float) string {
	if !v.Valid {
		return ""
	}
	return formatFloat(v.Float64)
}

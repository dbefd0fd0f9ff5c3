package telemetry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// JSONStats serves the daemon's current snapshot and counters over
// HTTP, mirroring ptp/sptp/client.JSONStats: a root endpoint for the
// richer structured state (the teacher's GM table, here the
// PipelineSnapshot) and a /counters endpoint for the flat counter map.
type JSONStats struct {
	*Stats
	sys *SysStats
}

// NewJSONStats wraps a Stats for HTTP serving.
func NewJSONStats(s *Stats) *JSONStats {
	return &JSONStats{Stats: s, sys: &SysStats{}}
}

// Start runs the status HTTP server and the periodic sys-stats
// collector, blocking like the teacher's JSONStats.Start.
func (j *JSONStats) Start(port int, interval time.Duration) {
	go func() {
		for range time.Tick(interval) {
			if err := j.CollectSysStats(j.sys, interval); err != nil {
				log.Warningf("telemetry: failed to collect sys stats: %v", err)
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/", j.handleRoot)
	mux.HandleFunc("/counters", j.handleCounters)
	addr := fmt.Sprintf(":%d", port)
	log.Infof("telemetry: starting status http server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("telemetry: status server failed: %v", err)
	}
}

func (j *JSONStats) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, j.GetSnapshot())
}

func (j *JSONStats) handleCounters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, j.GetCounters())
}

func writeJSON(w http.ResponseWriter, v any) {
	js, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(js); err != nil {
		log.Errorf("telemetry: failed to write response: %v", err)
	}
}

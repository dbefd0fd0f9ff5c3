package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ntpsteer/ntpsteerd/telemetry"
)

// fetchSnapshot fetches the current PipelineSnapshot from a running
// ntpsteerd's JSON status endpoint, the ntpsteercheck equivalent of
// sptp/stats.FetchStats.
func fetchSnapshot(addr string) (telemetry.PipelineSnapshot, error) {
	var snap telemetry.PipelineSnapshot
	b, err := fetchBody(addr)
	if err != nil {
		return snap, err
	}
	err = json.Unmarshal(b, &snap)
	return snap, err
}

// fetchCounters fetches the flat counter map, the ntpsteercheck
// equivalent of sptp/stats.FetchCounters.
func fetchCounters(addr string) (map[string]int64, error) {
	counters := make(map[string]int64)
	b, err := fetchBody(addr + "/counters")
	if err != nil {
		return counters, err
	}
	err = json.Unmarshal(b, &counters)
	return counters, err
}

func fetchBody(url string) ([]byte, error) {
	c := http.Client{Timeout: 2 * time.Second}
	resp, err := c.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

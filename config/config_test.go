package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValidOnceGivenPeers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Peers = []string{"ntp1.example.com", "ntp2.example.com", "ntp3.example.com"}
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsEmptyPeers(t *testing.T) {
	cfg := DefaultConfig()
	require.Error(t, cfg.Validate())
}

func TestReadConfigOverlaysOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ntpsteerd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("peers:\n  - ntp1.example.com\n  - ntp2.example.com\n  - ntp3.example.com\ntick_interval: 2s\n"), 0o644))

	cfg, err := ReadConfig(path)
	require.NoError(t, err)
	require.Equal(t, []string{"ntp1.example.com", "ntp2.example.com", "ntp3.example.com"}, cfg.Peers)
	require.Equal(t, 2_000_000_000, int(cfg.TickInterval))
	require.NotZero(t, cfg.PeerFilter.WarmupCount, "unset fields in the on-disk config keep their defaults")
}

func TestPrepareConfigCLIOverrideWins(t *testing.T) {
	cfg, err := PrepareConfig("", []string{"ntp1.example.com", "ntp2.example.com", "ntp3.example.com"}, 0, map[string]bool{})
	require.NoError(t, err)
	require.Equal(t, []string{"ntp1.example.com", "ntp2.example.com", "ntp3.example.com"}, cfg.Peers)
}

func TestPollBackoffValidateRequiresStepWhenActive(t *testing.T) {
	c := PollBackoffConfig{Mode: "fixed", Step: 0}
	require.Error(t, c.Validate())
}

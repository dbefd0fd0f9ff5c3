package clockctl

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// PersistedState is the on-disk shape of the Steerer's safety-critical
// SteeringState fields: the lifetime accumulated step magnitude must
// survive a restart, since accumulated_step_limit is a lifetime cap
// (spec §4.4).
type PersistedState struct {
	AccumulatedStepSeconds float64   `yaml:"accumulated_step_seconds"`
	LastFrequencyPPB       float64   `yaml:"last_frequency_ppb"`
	LastAppliedAt          time.Time `yaml:"last_applied_at"`
}

// LoadState reads PersistedState from path. A missing file is not an
// error; it returns the zero value, matching a first-ever run.
func LoadState(path string) (PersistedState, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return PersistedState{}, nil
	}
	if err != nil {
		return PersistedState{}, fmt.Errorf("clockctl: reading state %s: %w", path, err)
	}
	var s PersistedState
	if err := yaml.Unmarshal(data, &s); err != nil {
		return PersistedState{}, fmt.Errorf("clockctl: parsing state %s: %w", path, err)
	}
	return s, nil
}

// SaveState writes PersistedState to path atomically: write to a temp
// file in the same directory, fsync it, then rename over the target.
// This is the one corner of ntpsteerd built directly on os/io rather
// than a pack library — no example repo's go.mod carries a
// renameio-style atomic-file-replace helper (see DESIGN.md).
func SaveState(path string, s PersistedState) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("clockctl: encoding state: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("clockctl: creating temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("clockctl: writing temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("clockctl: fsyncing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("clockctl: closing temp state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("clockctl: renaming state file into place: %w", err)
	}
	return nil
}

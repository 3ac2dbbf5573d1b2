package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/javanstorm/vmmctl/internal/bridge"
)

const stateFileName = "state.json"

// PersistentState is the last known instance snapshot plus boot history. It
// outlives the monitor so a later run can tell whether the previous microVM
// went down cleanly.
type PersistentState struct {
	// Instance is the InstanceInfo observed at the last boot or shutdown.
	Instance bridge.InstanceInfo `json:"instance"`

	Kernel        string    `json:"kernel,omitempty"`
	BootCount     int       `json:"boot_count"`
	StoppedAt     time.Time `json:"stopped_at,omitzero"`
	CleanShutdown bool      `json:"clean_shutdown"`
}

// StateFile persists PersistentState as JSON under a data directory.
type StateFile struct {
	path string
}

func NewStateFile(dataDir string) *StateFile {
	return &StateFile{path: filepath.Join(dataDir, stateFileName)}
}

// Path returns the state file path.
func (s *StateFile) Path() string {
	return s.path
}

// Load reads the saved state. A missing file yields a zero state.
func (s *StateFile) Load() (*PersistentState, error) {
	var st PersistentState
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &st, nil
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return &st, nil
}

// RecordBoot stores the snapshot of a freshly started instance. The shutdown
// is marked unclean until RecordShutdown says otherwise.
func (s *StateFile) RecordBoot(info bridge.InstanceInfo, kernel string) error {
	return s.update(func(st *PersistentState) {
		st.Instance = info
		st.Kernel = kernel
		st.BootCount++
		st.StoppedAt = time.Time{}
		st.CleanShutdown = false
	})
}

// RecordShutdown stores the final snapshot of a stopped instance.
func (s *StateFile) RecordShutdown(info bridge.InstanceInfo, clean bool) error {
	return s.update(func(st *PersistentState) {
		st.Instance = info
		st.StoppedAt = time.Now()
		st.CleanShutdown = clean
	})
}

// update applies fn to the saved state and writes the result through a
// temporary file, so readers never see a partial document.
func (s *StateFile) update(fn func(*PersistentState)) error {
	st, err := s.Load()
	if err != nil {
		return err
	}
	fn(st)

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

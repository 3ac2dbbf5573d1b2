package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/javanstorm/vmmctl/internal/bridge"
)

func TestStateFileMissing(t *testing.T) {
	st, err := NewStateFile(t.TempDir()).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if st.BootCount != 0 || st.Instance.ID != "" {
		t.Errorf("expected zero state, got %+v", st)
	}
}

func TestStateFileRecordsInstanceSnapshots(t *testing.T) {
	sf := NewStateFile(filepath.Join(t.TempDir(), "nested"))
	started := time.Now().Truncate(time.Second)

	running := bridge.InstanceInfo{
		ID:          "abc",
		VMMVersion:  "test",
		State:       bridge.StateRunning,
		DriverName:  "fake",
		StartedAt:   started,
		ActionCount: 3,
	}
	for i := 0; i < 2; i++ {
		if err := sf.RecordBoot(running, "/boot/vmlinux"); err != nil {
			t.Fatalf("RecordBoot failed: %v", err)
		}
	}

	st, err := sf.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if st.BootCount != 2 || st.Kernel != "/boot/vmlinux" {
		t.Errorf("unexpected boot history: %+v", st)
	}
	if st.Instance.State != bridge.StateRunning || st.Instance.ActionCount != 3 || st.Instance.DriverName != "fake" {
		t.Errorf("unexpected instance snapshot: %+v", st.Instance)
	}
	if !st.Instance.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", st.Instance.StartedAt, started)
	}
	if st.CleanShutdown || !st.StoppedAt.IsZero() {
		t.Errorf("running instance recorded as stopped: %+v", st)
	}

	stopped := running
	stopped.State = bridge.StateStopped
	stopped.ActionCount = 5
	if err := sf.RecordShutdown(stopped, true); err != nil {
		t.Fatalf("RecordShutdown failed: %v", err)
	}
	st, err = sf.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if st.Instance.State != bridge.StateStopped || st.Instance.ActionCount != 5 {
		t.Errorf("unexpected final snapshot: %+v", st.Instance)
	}
	if !st.CleanShutdown || st.StoppedAt.IsZero() {
		t.Errorf("shutdown not recorded: %+v", st)
	}
	if st.BootCount != 2 {
		t.Errorf("shutdown changed boot count to %d", st.BootCount)
	}

	if _, err := os.Stat(sf.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file should be renamed away")
	}
}

func TestStateFileCorrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, stateFileName), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	sf := NewStateFile(dir)
	if _, err := sf.Load(); err == nil {
		t.Error("Load should fail on corrupt state")
	}
	if err := sf.RecordShutdown(bridge.InstanceInfo{}, true); err == nil {
		t.Error("RecordShutdown should not overwrite corrupt state")
	}
}

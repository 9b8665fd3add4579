package updatestate

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadMissingFileReturnsDefaults(t *testing.T) {
	s, err := Read(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != "" || s.CurrentVersion != "" {
		t.Errorf("expected zero-value state, got %+v", s)
	}
}

func TestReadCorruptFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update-state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != "" {
		t.Errorf("expected zero-value state for corrupt file, got %+v", s)
	}
}

func TestWriteMergesAndIsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "update-state.json")

	if err := Write(path, func(s *State) { s.CurrentVersion = "1.0.0"; s.Channel = "stable" }); err != nil {
		t.Fatal(err)
	}
	if err := Write(path, func(s *State) { s.LatestAvailable = "1.1.0" }); err != nil {
		t.Fatal(err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentVersion != "1.0.0" || got.Channel != "stable" || got.LatestAvailable != "1.1.0" {
		t.Errorf("merged state = %+v", got)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("tmp file should not remain after rename")
	}
}

func TestCheckVersionNewer(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"1.0.0", "1.1.0", true},
		{"1.1.0", "1.0.0", false},
		{"0.3.0-beta.1", "0.3.0", true},
		{"0.3.0", "0.3.0-beta.1", false},
		{"v1.2.0", "1.3.0", true},
		{"1.0.0", "1.0.0", false},
	}
	for _, c := range cases {
		if got := CheckVersionNewer(c.a, c.b); got != c.want {
			t.Errorf("CheckVersionNewer(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestGetUpdateInfoComputesAvailability(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update-state.json")
	if err := Write(path, func(s *State) { s.LatestAvailable = "2.0.0"; s.Channel = "stable" }); err != nil {
		t.Fatal(err)
	}

	info, err := GetUpdateInfo(path, "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if !info.UpdateAvailable {
		t.Error("expected UpdateAvailable = true")
	}

	info2, err := GetUpdateInfo(path, "3.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if info2.UpdateAvailable {
		t.Error("expected UpdateAvailable = false when current is already newer")
	}
}

func TestGetUpdateInfoNoLatestMeansNoUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update-state.json")
	info, err := GetUpdateInfo(path, "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if info.UpdateAvailable {
		t.Error("expected UpdateAvailable = false with no latest_available recorded")
	}
}

// Package updatestate implements the UpdateState reader/writer of
// spec.md §4.8: a JSON file shared with an external update procedure,
// mutated via atomic tmp-file replace, plus semver-aware version
// comparison grounded on github.com/hashicorp/go-version, the same
// dependency growloc-cctv-agent (another camera-agent manifest in the
// retrieval pack) and several other pack repos use for release-channel
// comparisons.
package updatestate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-version"
)

// State is the UpdateState document (spec.md §3). It has two writers: the
// core, whose only write is Status = "pending" from the fleet update
// route, and the external update procedure, which owns everything else.
// Nothing in this repository sets LastCheck.
type State struct {
	Status              string    `json:"status"`
	CurrentVersion      string    `json:"current_version"`
	LatestAvailable     string    `json:"latest_available"`
	PreviousVersion     string    `json:"previous_version"`
	LastCheck           time.Time `json:"last_check,omitempty"`
	LastUpdate          time.Time `json:"last_update,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Channel             string    `json:"channel"`
}

// Read loads path, tolerating a missing or corrupt file by returning a
// zero-value State and no error: spec.md explicitly makes this a "defaults"
// read, never a startup failure.
func Read(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, nil
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, nil
	}
	return s, nil
}

// Write merges patches onto the current on-disk state and replaces it
// atomically: write to path+".tmp", fsync, rename over path. Parent
// directories are created as needed.
func Write(path string, patch func(*State)) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("updatestate: create parent dir: %w", err)
	}

	cur, err := Read(path)
	if err != nil {
		return err
	}
	patch(&cur)

	data, err := json.MarshalIndent(cur, "", "  ")
	if err != nil {
		return fmt.Errorf("updatestate: marshal: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("updatestate: open tmp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("updatestate: write tmp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("updatestate: fsync tmp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("updatestate: close tmp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("updatestate: rename into place: %w", err)
	}
	return nil
}

// CheckVersionNewer reports whether b is a newer version than a, using
// semver ordering where a pre-release compares less than its base release
// (0.3.0-beta.1 < 0.3.0). An optional leading "v" is stripped from both
// before parsing, matching the common Go module-tag convention. Unparsable
// input falls back to a lexicographic component comparison after the
// v-strip, so a malformed version string still yields a deterministic
// answer rather than an error the caller would have to handle.
func CheckVersionNewer(a, b string) bool {
	av, aerr := version.NewVersion(strings.TrimPrefix(a, "v"))
	bv, berr := version.NewVersion(strings.TrimPrefix(b, "v"))
	if aerr == nil && berr == nil {
		return bv.GreaterThan(av)
	}
	return lexicographicNewer(a, b)
}

func lexicographicNewer(a, b string) bool {
	as := strings.Split(strings.TrimPrefix(a, "v"), ".")
	bs := strings.Split(strings.TrimPrefix(b, "v"), ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv string
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		if av != bv {
			return bv > av
		}
	}
	return false
}

// UpdateInfo is the response get_update_info() computes (spec.md §4.8).
type UpdateInfo struct {
	CurrentVersion  string `json:"current_version"`
	LatestAvailable string `json:"latest_available"`
	UpdateAvailable bool   `json:"update_available"`
	Channel         string `json:"channel"`
	Status          string `json:"status"`
}

// GetUpdateInfo reads path and derives UpdateInfo, including
// update_available = CheckVersionNewer(current, latest) && latest != "".
func GetUpdateInfo(path, currentVersion string) (UpdateInfo, error) {
	s, err := Read(path)
	if err != nil {
		return UpdateInfo{}, err
	}
	info := UpdateInfo{
		CurrentVersion:  currentVersion,
		LatestAvailable: s.LatestAvailable,
		Channel:         s.Channel,
		Status:          s.Status,
	}
	info.UpdateAvailable = s.LatestAvailable != "" && CheckVersionNewer(currentVersion, s.LatestAvailable)
	return info, nil
}

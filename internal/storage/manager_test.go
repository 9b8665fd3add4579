package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(Config{
		BasePath:           t.TempDir(),
		MaxSizeGB:          1,
		CleanupThresholdGB: 0.8,
		RetentionDays:      7,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// TestMarkUploadedRoundTrip mirrors spec.md §8 scenario 3.
func TestMarkUploadedRoundTrip(t *testing.T) {
	m := newTestManager(t)
	key := "camA_2026-01-01_00-00-00.jpg"
	data := make([]byte, 100)
	for i := range data {
		data[i] = 0xFF
	}

	if err := m.Store(key, data, map[string]string{"k": "v"}); err != nil {
		t.Fatal(err)
	}
	if err := m.MarkUploaded(key); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(m.uploadedDir(), key))
	if err != nil {
		t.Fatalf("uploaded file missing: %v", err)
	}
	if len(got) != 100 {
		t.Errorf("uploaded bytes len = %d, want 100", len(got))
	}

	sidecar, err := os.ReadFile(filepath.Join(m.uploadedMetadataDir(), key+".json"))
	if err != nil {
		t.Fatalf("uploaded sidecar missing: %v", err)
	}
	if string(sidecar) != `{"k":"v"}` {
		t.Errorf("sidecar = %s, want {\"k\":\"v\"}", sidecar)
	}

	if _, err := os.Stat(filepath.Join(m.base, key)); !os.IsNotExist(err) {
		t.Error("root still contains the uploaded key")
	}
	if _, err := os.Stat(filepath.Join(m.metadataDir(), key+".json")); !os.IsNotExist(err) {
		t.Error("pending metadata dir still contains the uploaded sidecar")
	}
}

func TestMarkUploadedToleratesMissingSource(t *testing.T) {
	m := newTestManager(t)
	if err := m.MarkUploaded("never-stored.jpg"); err != nil {
		t.Fatalf("MarkUploaded() on missing file returned error: %v", err)
	}
}

func TestCleanupForceDeletesRegardlessOfRetention(t *testing.T) {
	m, err := New(Config{
		BasePath:           t.TempDir(),
		MaxSizeGB:          1,
		CleanupThresholdGB: 0.000000001, // 1 byte: the 5 stored bytes are above threshold immediately
		RetentionDays:      36500,     // effectively infinite retention
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Store("camA_1.jpg", []byte("hello"), nil); err != nil {
		t.Fatal(err)
	}

	if err := m.Cleanup(true); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(m.base, "camA_1.jpg")); !os.IsNotExist(err) {
		t.Error("expected file to be deleted under force cleanup despite long retention")
	}
}

func TestCleanupDeletesUploadedBeforePending(t *testing.T) {
	m := newTestManager(t)

	if err := m.Store("pending.jpg", []byte("p"), nil); err != nil {
		t.Fatal(err)
	}
	if err := m.Store("up.jpg", []byte("u"), nil); err != nil {
		t.Fatal(err)
	}
	if err := m.MarkUploaded("up.jpg"); err != nil {
		t.Fatal(err)
	}

	// Both items are fresh, so lift the retention filter; a 2-byte threshold
	// means evicting exactly one 1-byte item brings usage below it. uploaded/
	// must be scanned first.
	m.retention = 0
	m.cleanupThreshold = 2

	if err := m.Cleanup(false); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(m.uploadedDir(), "up.jpg")); !os.IsNotExist(err) {
		t.Error("expected uploaded item to be evicted before pending item")
	}
	if _, err := os.Stat(filepath.Join(m.base, "pending.jpg")); os.IsNotExist(err) {
		t.Error("pending item should survive while uploaded/ still had evictable content")
	}
}

func TestStoreWritesSidecar(t *testing.T) {
	m := newTestManager(t)
	key := "camB_1.jpg"
	if err := m.Store(key, []byte("data"), map[string]int{"x": 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(m.metadataDir(), key+".json")); err != nil {
		t.Fatalf("sidecar not written: %v", err)
	}
}

func TestPendingCount(t *testing.T) {
	m := newTestManager(t)
	if got := m.PendingCount(); got != 0 {
		t.Fatalf("PendingCount() = %d, want 0", got)
	}
	if err := m.Store("camA_1.jpg", []byte("x"), nil); err != nil {
		t.Fatal(err)
	}
	if got := m.PendingCount(); got != 1 {
		t.Fatalf("PendingCount() = %d, want 1", got)
	}
}

func TestLatestForCamera(t *testing.T) {
	m := newTestManager(t)
	if err := m.Store("camA_1.jpg", []byte("old"), nil); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := m.Store("camA_2.jpg", []byte("new"), nil); err != nil {
		t.Fatal(err)
	}

	data, name, err := m.LatestForCamera("camA")
	if err != nil {
		t.Fatal(err)
	}
	if name != "camA_2.jpg" || string(data) != "new" {
		t.Errorf("LatestForCamera() = (%s, %q), want (camA_2.jpg, \"new\")", name, data)
	}
}

package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tempDir := t.TempDir()

	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if store.db == nil {
		t.Error("Store database is nil")
	}

	// Check if database file was created
	dbPath := filepath.Join(tempDir, "lightmix-models.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New("/nonexistent/path/that/does/not/exist")
	if err == nil {
		t.Error("Expected error for invalid path, got nil")
	}
}

func TestStore_Close(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Errorf("Error closing store: %v", err)
	}

	// Closing again should be a no-op
	if err := store.Close(); err != nil {
		t.Errorf("Error closing already closed store: %v", err)
	}
}

func TestStore_CloseNilDB(t *testing.T) {
	store := &Store{db: nil}
	if err := store.Close(); err != nil {
		t.Errorf("Expected no error for nil db, got: %v", err)
	}
}

func TestSaveModel_VersionsIncrement(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	v1, err := store.SaveModel("churn", []byte("snapshot-1"), Meta{Rows: 100, Accuracy: 0.8})
	if err != nil {
		t.Fatalf("SaveModel failed: %v", err)
	}
	if v1 != 1 {
		t.Errorf("Expected version 1, got %d", v1)
	}

	v2, err := store.SaveModel("churn", []byte("snapshot-2"), Meta{Rows: 200, Accuracy: 0.85})
	if err != nil {
		t.Fatalf("SaveModel failed: %v", err)
	}
	if v2 != 2 {
		t.Errorf("Expected version 2, got %d", v2)
	}
}

func TestSaveModel_Validation(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if _, err := store.SaveModel("", []byte("blob"), Meta{}); err == nil {
		t.Error("Expected error for empty model name")
	}
	if _, err := store.SaveModel("churn", nil, Meta{}); err == nil {
		t.Error("Expected error for empty blob")
	}
}

func TestLoadLatest(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	trainedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if _, err := store.SaveModel("churn", []byte("old"), Meta{Rows: 100}); err != nil {
		t.Fatalf("SaveModel failed: %v", err)
	}
	if _, err := store.SaveModel("churn", []byte("new"), Meta{
		Rows: 250, Accuracy: 0.91, TrainedAt: trainedAt, Mixers: []string{"centroid", "sgd"},
	}); err != nil {
		t.Fatalf("SaveModel failed: %v", err)
	}

	blob, meta, err := store.LoadLatest("churn")
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if string(blob) != "new" {
		t.Errorf("Expected newest blob, got %q", blob)
	}
	if meta.Version != 2 {
		t.Errorf("Expected version 2, got %d", meta.Version)
	}
	if meta.Name != "churn" || meta.Rows != 250 || meta.Accuracy != 0.91 {
		t.Errorf("Unexpected meta: %+v", meta)
	}
	if !meta.TrainedAt.Equal(trainedAt) {
		t.Errorf("Expected TrainedAt %v, got %v", trainedAt, meta.TrainedAt)
	}
	if len(meta.Mixers) != 2 {
		t.Errorf("Expected 2 mixers in meta, got %v", meta.Mixers)
	}
}

func TestLoadLatest_Missing(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if _, _, err := store.LoadLatest("nope"); err == nil {
		t.Error("Expected error for unknown model name")
	}
}

func TestLoadVersion(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if _, err := store.SaveModel("churn", []byte("v1"), Meta{}); err != nil {
		t.Fatalf("SaveModel failed: %v", err)
	}
	if _, err := store.SaveModel("churn", []byte("v2"), Meta{}); err != nil {
		t.Fatalf("SaveModel failed: %v", err)
	}

	blob, meta, err := store.LoadVersion("churn", 1)
	if err != nil {
		t.Fatalf("LoadVersion failed: %v", err)
	}
	if string(blob) != "v1" || meta.Version != 1 {
		t.Errorf("Expected old version, got %q v%d", blob, meta.Version)
	}

	if _, _, err := store.LoadVersion("churn", 99); err == nil {
		t.Error("Expected error for unknown version")
	}
}

func TestVersions_OrderedAndIsolatedByName(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	for i := 0; i < 3; i++ {
		if _, err := store.SaveModel("churn", []byte{byte(i + 1)}, Meta{Rows: (i + 1) * 10}); err != nil {
			t.Fatalf("SaveModel failed: %v", err)
		}
	}
	if _, err := store.SaveModel("fraud", []byte("x"), Meta{}); err != nil {
		t.Fatalf("SaveModel failed: %v", err)
	}

	versions, err := store.Versions("churn")
	if err != nil {
		t.Fatalf("Versions failed: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("Expected 3 versions, got %d", len(versions))
	}
	for i, meta := range versions {
		if meta.Version != uint64(i+1) {
			t.Errorf("Expected version %d at position %d, got %d", i+1, i, meta.Version)
		}
		if meta.Name != "churn" {
			t.Errorf("Unexpected model name %q in versions list", meta.Name)
		}
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := New(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if _, err := store.SaveModel("churn", []byte("durable"), Meta{Rows: 42}); err != nil {
		t.Fatalf("SaveModel failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := New(dir)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()

	blob, meta, err := reopened.LoadLatest("churn")
	if err != nil {
		t.Fatalf("LoadLatest after reopen failed: %v", err)
	}
	if string(blob) != "durable" || meta.Rows != 42 {
		t.Errorf("Unexpected data after reopen: %q %+v", blob, meta)
	}
}

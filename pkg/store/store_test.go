package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lemonade-sdk/lemonade/pkg/artifact"
)

func TestMaterializeWritesBlobAndSnapshotLink(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	files := []artifact.RepoFile{
		{Type: "file", Path: "config.json", Size: 4, OID: "abc123"},
	}

	fetchCalls := 0
	paths, err := s.Materialize("org/model", "main", files, func(f artifact.RepoFile, blobPath string) error {
		fetchCalls++
		return os.WriteFile(blobPath, []byte("test"), 0o644)
	})
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if fetchCalls != 1 {
		t.Errorf("expected 1 fetch call, got %d", fetchCalls)
	}

	path, ok := paths["config.json"]
	if !ok {
		t.Fatal("expected config.json in materialized paths")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read materialized file: %v", err)
	}
	if string(content) != "test" {
		t.Errorf("expected content %q, got %q", "test", content)
	}
}

func TestMaterializeSkipsFetchWhenBlobComplete(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	files := []artifact.RepoFile{
		{Type: "file", Path: "config.json", Size: 4, OID: "abc123"},
	}

	blobPath := s.BlobPath("org/model", "abc123")
	if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(blobPath, []byte("test"), 0o644); err != nil {
		t.Fatal(err)
	}

	fetchCalls := 0
	_, err = s.Materialize("org/model", "main", files, func(f artifact.RepoFile, blobPath string) error {
		fetchCalls++
		return nil
	})
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if fetchCalls != 0 {
		t.Errorf("expected fetch to be skipped for an already-complete blob, got %d calls", fetchCalls)
	}
}

func TestIsMaterialized(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	files := []artifact.RepoFile{{Type: "file", Path: "config.json", Size: 4, OID: "abc123"}}

	if s.IsMaterialized("org/model", "main", files) {
		t.Error("expected not materialized before Materialize is called")
	}

	if _, err := s.Materialize("org/model", "main", files, func(f artifact.RepoFile, blobPath string) error {
		return os.WriteFile(blobPath, []byte("test"), 0o644)
	}); err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	if !s.IsMaterialized("org/model", "main", files) {
		t.Error("expected materialized after Materialize succeeds")
	}
}

func TestRepoPathNaming(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := filepath.Base(s.RepoPath("meta-llama/Llama-3-8B"))
	want := "models--meta-llama--Llama-3-8B"
	if got != want {
		t.Errorf("RepoPath = %q, want %q", got, want)
	}
}

package artifact

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientListFiles(t *testing.T) {
	mockFiles := []RepoFile{
		{Type: "file", Path: "model.safetensors", Size: 1000},
		{Type: "file", Path: "config.json", Size: 100},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/models/test-org/test-model/tree/main" {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(mockFiles)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))

	files, err := client.ListFiles(context.Background(), "test-org/test-model", "main")
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if len(files) != 2 {
		t.Errorf("expected 2 files, got %d", len(files))
	}
}

func TestClientListFilesDefaultRevision(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/tree/main") {
			t.Errorf("expected /tree/main in path, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]RepoFile{})
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	if _, err := client.ListFiles(context.Background(), "test/model", ""); err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
}

func TestClientListFilesRecursesDirectories(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/models/org/model/tree/main":
			json.NewEncoder(w).Encode([]RepoFile{
				{Type: "file", Path: "config.json"},
				{Type: "directory", Path: "shards"},
			})
		case "/api/models/org/model/tree/main/shards":
			json.NewEncoder(w).Encode([]RepoFile{
				{Type: "file", Path: "shards/a.safetensors"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	files, err := client.ListFiles(context.Background(), "org/model", "main")
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files across directories, got %d", len(files))
	}
}

func TestClientOpenFile(t *testing.T) {
	expectedContent := "test file content"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/test-org/test-model/resolve/main/test.txt" {
			w.Header().Set("Content-Length", "17")
			w.Write([]byte(expectedContent))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))

	body, size, resumed, err := client.OpenFile(context.Background(), "test-org/test-model", "main", "test.txt", 0)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	defer body.Close()

	if resumed {
		t.Error("expected resumed=false for a full download")
	}
	if size != int64(len(expectedContent)) {
		t.Errorf("expected size %d, got %d", len(expectedContent), size)
	}

	content, _ := io.ReadAll(body)
	if string(content) != expectedContent {
		t.Errorf("expected content %q, got %q", expectedContent, content)
	}
}

func TestClientOpenFileRange(t *testing.T) {
	full := "0123456789"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader != "bytes=5-" {
			t.Errorf("expected Range header bytes=5-, got %q", rangeHeader)
		}
		w.Header().Set("Content-Length", "5")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(full[5:]))
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	body, total, resumed, err := client.OpenFile(context.Background(), "org/model", "main", "data.bin", 5)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	defer body.Close()

	if !resumed {
		t.Error("expected resumed=true for a 206 response")
	}
	if total != 10 {
		t.Errorf("expected total size 10 (offset + remaining), got %d", total)
	}
}

func TestClientNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	_, err := client.ListFiles(context.Background(), "missing/repo", "main")
	if _, ok := err.(*NotFoundError); !ok {
		t.Fatalf("expected *NotFoundError, got %T (%v)", err, err)
	}
}

func TestClientAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	_, err := client.ListFiles(context.Background(), "private/repo", "main")
	if _, ok := err.(*AuthError); !ok {
		t.Fatalf("expected *AuthError, got %T (%v)", err, err)
	}
	if IsRetriable(err) {
		t.Error("auth errors should not be retriable")
	}
}

func TestClientTransientErrorIsRetriable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	_, err := client.ListFiles(context.Background(), "org/model", "main")
	if !IsRetriable(err) {
		t.Errorf("expected 503 to be retriable, got %T (%v)", err, err)
	}
}

func TestWithToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]RepoFile{})
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithToken("secret-token"))
	if _, err := client.ListFiles(context.Background(), "org/model", "main"); err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("expected Authorization header, got %q", gotAuth)
	}
}

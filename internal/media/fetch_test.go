package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"joinbot/pkg/logx"
)

func TestEnsureDownloads(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("video-bytes"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "assets", "welcome.mp4")
	if err := Ensure(context.Background(), path, srv.URL, logx.Nop()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read asset: %v", err)
	}
	if string(b) != "video-bytes" {
		t.Fatalf("asset content = %q", b)
	}
}

func TestEnsureSkipsExisting(t *testing.T) {
	t.Parallel()
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "welcome.mp4")
	if err := os.WriteFile(path, []byte("already here"), 0o600); err != nil {
		t.Fatalf("seed asset: %v", err)
	}
	if err := Ensure(context.Background(), path, srv.URL, logx.Nop()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if hits != 0 {
		t.Fatalf("server hit %d times, want 0", hits)
	}
	b, _ := os.ReadFile(path)
	if string(b) != "already here" {
		t.Fatal("existing asset was overwritten")
	}
}

func TestEnsureMissingWithoutURL(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "welcome.mp4")
	if err := Ensure(context.Background(), path, "", logx.Nop()); err == nil {
		t.Fatal("expected error for missing asset without url")
	}
}

func TestEnsureBadStatusLeavesNoFile(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "welcome.mp4")
	if err := Ensure(context.Background(), path, srv.URL, logx.Nop()); err == nil {
		t.Fatal("expected error for 404 download")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("failed download left a file behind")
	}
}

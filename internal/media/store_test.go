package media

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{Dir: t.TempDir(), TTL: 1, MaxSize: 1024})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestSaveWritesUnderKind(t *testing.T) {
	store := newTestStore(t)

	path, err := store.Save([]byte("payload"), "screenshots", ".png")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(store.BaseDir(), "screenshots") {
		t.Errorf("artifact landed in %q", filepath.Dir(path))
	}
	if !strings.HasSuffix(path, ".png") {
		t.Errorf("path = %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil || string(data) != "payload" {
		t.Fatalf("read back: %q, %v", data, err)
	}
}

func TestSaveRejectsOversize(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Save(make([]byte, 2048), "screenshots", ".png"); err == nil {
		t.Fatal("expected size limit error")
	}
}

func TestSweepRemovesOnlyExpiredArtifacts(t *testing.T) {
	store := newTestStore(t)

	expired, err := store.Save([]byte("old"), "screenshots", ".png")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	fresh, err := store.Save([]byte("new"), "screenshots", ".png")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Age one file past the 1s TTL.
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(expired, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	store.sweep()

	if _, err := os.Stat(expired); !os.IsNotExist(err) {
		t.Error("expired artifact survived the sweep")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh artifact was swept: %v", err)
	}
}

func TestDefaultsFillZeroConfig(t *testing.T) {
	store, err := New(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if store.ttl != DefaultTTL {
		t.Errorf("ttl = %s, want %s", store.ttl, DefaultTTL)
	}
	if store.maxSize != MaxBytes {
		t.Errorf("maxSize = %d, want %d", store.maxSize, MaxBytes)
	}
}

func TestScreenshotExtensionFollowsEncoding(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{"image/png", ".png"},
		{"image/jpeg", ".jpg"},
		{"image/gif", ".gif"},
		{"image/webp", ".webp"},
		{"application/pdf", ".jpg"},
	}
	for _, tt := range tests {
		if got := extFor(tt.mime); got != tt.want {
			t.Errorf("extFor(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}

	store := newTestStore(t)
	path, err := store.SaveScreenshot(&Image{Data: []byte("png bytes"), MimeType: "image/png"})
	if err != nil {
		t.Fatalf("SaveScreenshot: %v", err)
	}
	if !strings.HasSuffix(path, ".png") {
		t.Errorf("screenshot path = %q", path)
	}
}

package paths

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDataPathIsUnderBaseDir(t *testing.T) {
	base, err := BaseDir()
	if err != nil {
		t.Fatalf("BaseDir: %v", err)
	}
	if filepath.Base(base) != ".betteruse" {
		t.Errorf("BaseDir = %q, want a .betteruse directory", base)
	}

	got, err := DataPath("storage.json")
	if err != nil {
		t.Fatalf("DataPath: %v", err)
	}
	if got != filepath.Join(base, "storage.json") {
		t.Errorf("DataPath = %q, want %q", got, filepath.Join(base, "storage.json"))
	}
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/tmp/plain", "/tmp/plain"},
		{"relative/path", "relative/path"},
		{"~", home},
		{"~/downloads", filepath.Join(home, "downloads")},
	}

	for _, tt := range tests {
		got, err := ExpandTilde(tt.in)
		if err != nil {
			t.Errorf("ExpandTilde(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ExpandTilde(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEnsureParentDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "nested", "deeper", "state.json")
	if err := EnsureParentDir(file); err != nil {
		t.Fatalf("EnsureParentDir: %v", err)
	}
	info, err := os.Stat(filepath.Dir(file))
	if err != nil {
		t.Fatalf("stat parent: %v", err)
	}
	if !info.IsDir() {
		t.Errorf("parent of %q is not a directory", file)
	}
}

func TestEnsureDirErrorNamesPath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	err := EnsureDir(filepath.Join(file, "child"))
	if err == nil {
		t.Fatal("expected error creating directory under a regular file")
	}
	if !strings.Contains(err.Error(), "child") {
		t.Errorf("error %q does not name the path", err)
	}
}

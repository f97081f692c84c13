package version

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadReadsVersionJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	body := `{"commit":"abc123","version":"1.2.3","source":"https://example.com/repo","build":"42"}`
	if err := os.WriteFile(filepath.Join(dir, "version.json"), []byte(body), 0o600); err != nil {
		t.Fatalf("write version.json: %v", err)
	}

	info, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if info.Commit != "abc123" || info.Version != "1.2.3" || info.Build != "42" {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	info, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if info != (Info{}) {
		t.Fatalf("expected empty info, got %+v", info)
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "version.json"), []byte("{nope"), 0o600); err != nil {
		t.Fatalf("write version.json: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for malformed version.json")
	}
}

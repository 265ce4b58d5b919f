package filestore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestArchiveExtract_RoundTrip(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "businesses", "logo.png"), "png-bytes")
	writeFile(t, filepath.Join(src, "businesses", "photos", "storefront.jpg"), "jpg-bytes")
	writeFile(t, filepath.Join(src, "avatars", "user1.jpg"), "avatar")

	archive := filepath.Join(t.TempDir(), "media.tar.gz")
	size, err := Archive(src, archive)
	if err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	if size <= 0 {
		t.Errorf("expected positive archive size, got %d", size)
	}

	dest := t.TempDir()
	if err := Extract(archive, dest); err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	for path, want := range map[string]string{
		"businesses/logo.png":              "png-bytes",
		"businesses/photos/storefront.jpg": "jpg-bytes",
		"avatars/user1.jpg":                "avatar",
	} {
		data, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(path)))
		if err != nil {
			t.Fatalf("missing extracted file %s: %v", path, err)
		}
		if string(data) != want {
			t.Errorf("file %s: expected %q, got %q", path, want, data)
		}
	}
}

func TestArchive_EmptyDir(t *testing.T) {
	_, err := Archive(t.TempDir(), filepath.Join(t.TempDir(), "media.tar.gz"))
	if !errors.Is(err, ErrNoSource) {
		t.Errorf("expected ErrNoSource for empty directory, got %v", err)
	}
}

func TestArchive_MissingDir(t *testing.T) {
	_, err := Archive("/nonexistent/media", filepath.Join(t.TempDir(), "media.tar.gz"))
	if !errors.Is(err, ErrNoSource) {
		t.Errorf("expected ErrNoSource for missing directory, got %v", err)
	}
}

func TestClear(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "old", "file.jpg"), "stale")
	writeFile(t, filepath.Join(dir, "top.txt"), "stale")

	if err := Clear(dir); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty directory after clear, found %d entries", len(entries))
	}
}

func TestClear_CreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "media")
	if err := Clear(dir); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("expected directory to exist after clear: %v", err)
	}
}

// ABOUTME: Tests for the local-directory attachment store
// ABOUTME: Uses plain testing against a temp directory

package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveAndOpen(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	content := "attachment body bytes"
	meta, err := store.Save("att-1", "photo.jpg", strings.NewReader(content))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	if meta.ID != "att-1" {
		t.Errorf("ID = %q, want att-1", meta.ID)
	}
	if meta.Filename != "photo.jpg" {
		t.Errorf("Filename = %q, want photo.jpg", meta.Filename)
	}
	if meta.SizeBytes != int64(len(content)) {
		t.Errorf("SizeBytes = %d, want %d", meta.SizeBytes, len(content))
	}
	sum := sha256.Sum256([]byte(content))
	if meta.SHA256 != hex.EncodeToString(sum[:]) {
		t.Errorf("SHA256 = %q, want %q", meta.SHA256, hex.EncodeToString(sum[:]))
	}

	rc, filename, err := store.Open("att-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	if filename != "photo.jpg" {
		t.Errorf("filename = %q, want photo.jpg", filename)
	}
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading attachment: %v", err)
	}
	if string(got) != content {
		t.Errorf("content = %q, want %q", got, content)
	}
}

func TestOpenMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	_, _, err = store.Open("no-such-id")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveStripsPathComponents(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	meta, err := store.Save("att-2", "../../etc/passwd", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if meta.Filename != "passwd" {
		t.Errorf("Filename = %q, want passwd", meta.Filename)
	}
	if filepath.Dir(meta.Path) != dir {
		t.Errorf("Path %q escapes base directory %q", meta.Path, dir)
	}
}

func TestNewStoreCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "attachments")
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if _, err := store.Save("att-3", "a.txt", strings.NewReader("ok")); err != nil {
		t.Fatalf("Save into created directory: %v", err)
	}
}

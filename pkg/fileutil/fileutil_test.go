package fileutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAtomic(t *testing.T) {
	tmpDir := t.TempDir()
	outPath := filepath.Join(tmpDir, "nested", "report.json")

	err := WriteAtomic(outPath, func(w io.Writer) error {
		_, err := fmt.Fprint(w, `{"ok":true}`)
		return err
	})
	if err != nil {
		t.Fatalf("WriteAtomic failed: %v", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("content = %q, want %q", data, `{"ok":true}`)
	}

	entries, err := os.ReadDir(filepath.Dir(outPath))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the final file", len(entries))
	}
}

func TestWriteAtomicReplaces(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "report.txt")
	if err := os.WriteFile(outPath, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := WriteAtomic(outPath, func(w io.Writer) error {
		_, err := io.WriteString(w, "new")
		return err
	})
	if err != nil {
		t.Fatalf("WriteAtomic failed: %v", err)
	}
	data, _ := os.ReadFile(outPath)
	if string(data) != "new" {
		t.Errorf("content = %q, want %q", data, "new")
	}
}

func TestWriteAtomicErrorKeepsOriginal(t *testing.T) {
	tmpDir := t.TempDir()
	outPath := filepath.Join(tmpDir, "report.txt")
	if err := os.WriteFile(outPath, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("render failed")
	err := WriteAtomic(outPath, func(w io.Writer) error {
		io.WriteString(w, "partial")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WriteAtomic error = %v, want %v", err, boom)
	}

	data, _ := os.ReadFile(outPath)
	if string(data) != "old" {
		t.Errorf("content = %q, want original", data)
	}
	entries, _ := os.ReadDir(tmpDir)
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, temp file was not cleaned up", len(entries))
	}
}

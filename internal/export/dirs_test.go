package export

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateDir(t *testing.T) {
	tmp := t.TempDir()
	file := filepath.Join(tmp, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		dir    string
		reason string
	}{
		{"valid", tmp, ""},
		{"empty", "", "is required"},
		{"missing", filepath.Join(tmp, "missing"), "doesn't exist"},
		{"traversal", "/tmp/../etc", "path traversal"},
		{"unclean", tmp + "/", "clean path"},
		{"file", file, "not a directory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDir(tt.dir, "output_dir")
			if tt.reason == "" {
				if err != nil {
					t.Fatalf("ValidateDir(%q) error = %v", tt.dir, err)
				}
				return
			}
			var de *DirError
			if !errors.As(err, &de) {
				t.Fatalf("ValidateDir(%q) error = %v, want *DirError", tt.dir, err)
			}
			if de.Field != "output_dir" || !strings.Contains(err.Error(), tt.reason) {
				t.Errorf("ValidateDir(%q) error = %q, want field and %q", tt.dir, err, tt.reason)
			}
		})
	}
}

func TestCheckDir_AcceptsRelativePaths(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "footage", "take1"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Chdir(filepath.Join(root, "footage", "take1"))

	if err := CheckDir("../take1/", "input_dir"); err != nil {
		t.Errorf("CheckDir() error = %v", err)
	}
	if err := ValidateDir("../take1/", "input_dir"); err == nil {
		t.Error("ValidateDir() should reject a traversing path")
	}

	err := CheckDir("missing", "input_dir")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("CheckDir(missing) error = %v, want os.ErrNotExist", err)
	}
}

func TestSessionDirs(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()

	absIn, absOut, err := SessionDirs(in, out)
	if err != nil {
		t.Fatalf("SessionDirs() error = %v", err)
	}
	if !filepath.IsAbs(absIn) || !filepath.IsAbs(absOut) {
		t.Errorf("SessionDirs() = %q, %q, want absolute paths", absIn, absOut)
	}

	if _, _, err := SessionDirs(in, in+string(filepath.Separator)); !errors.Is(err, ErrSameDir) {
		t.Errorf("same folder error = %v, want ErrSameDir", err)
	}

	var de *DirError
	if _, _, err := SessionDirs(filepath.Join(in, "nope"), out); !errors.As(err, &de) || de.Field != "input_dir" {
		t.Errorf("missing input error = %v", err)
	}
	if _, _, err := SessionDirs(in, filepath.Join(out, "nope")); !errors.As(err, &de) || de.Field != "output_dir" {
		t.Errorf("missing output error = %v", err)
	}
}

package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrSameDir = errors.New("output folder is the input folder")

// DirError explains why a session folder was rejected. Field is the config or
// request name of the folder.
type DirError struct {
	Field  string
	Path   string
	Reason string
	Err    error
}

func (e *DirError) Error() string {
	if e.Path == "" {
		return e.Field + " " + e.Reason
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %q: %s: %v", e.Field, e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %q: %s", e.Field, e.Path, e.Reason)
}

func (e *DirError) Unwrap() error { return e.Err }

// CheckDir reports whether dir exists and is a directory.
func CheckDir(dir, field string) error {
	if strings.TrimSpace(dir) == "" {
		return &DirError{Field: field, Reason: "is required"}
	}
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return &DirError{Field: field, Path: dir, Reason: "doesn't exist", Err: err}
	case err != nil:
		return &DirError{Field: field, Path: dir, Reason: "cannot be read", Err: err}
	case !info.IsDir():
		return &DirError{Field: field, Path: dir, Reason: "is not a directory"}
	}
	return nil
}

// ValidateDir is CheckDir for paths received over the API, which must also
// be clean and free of "..".
func ValidateDir(dir, field string) error {
	if containsDotDot(strings.Split(filepath.ToSlash(dir), "/")) {
		return &DirError{Field: field, Path: dir, Reason: "cannot contain path traversal"}
	}
	if dir != "" && filepath.Clean(dir) != dir {
		return &DirError{Field: field, Path: dir, Reason: "must be a clean path"}
	}
	return CheckDir(dir, field)
}

func containsDotDot(parts []string) bool {
	for _, p := range parts {
		if p == ".." {
			return true
		}
	}
	return false
}

// SessionDirs checks both folders of a session and returns their absolute
// forms. The output folder may not be the input folder.
func SessionDirs(input, output string) (string, string, error) {
	if err := CheckDir(input, "input_dir"); err != nil {
		return "", "", err
	}
	if err := CheckDir(output, "output_dir"); err != nil {
		return "", "", err
	}

	absIn, err := filepath.Abs(input)
	if err != nil {
		return "", "", &DirError{Field: "input_dir", Path: input, Reason: "cannot be resolved", Err: err}
	}
	absOut, err := filepath.Abs(output)
	if err != nil {
		return "", "", &DirError{Field: "output_dir", Path: output, Reason: "cannot be resolved", Err: err}
	}
	if absIn == absOut {
		return "", "", &DirError{Field: "output_dir", Path: output, Reason: "must differ from input_dir", Err: ErrSameDir}
	}
	return absIn, absOut, nil
}

package utils

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// SpooledFile is an uploaded part staged on local storage. Name is the
// caller-supplied filename and is never used as a path component.
type SpooledFile struct {
	Name string
	Path string
	Size int64
}

// Spool stages uploaded parts in a directory under opaque names.
type Spool struct {
	fs  afero.Fs
	dir string
}

func NewSpool(fs afero.Fs, dir string) *Spool {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "video-tagging-spool")
	}
	return &Spool{fs: fs, dir: dir}
}

// Save copies the uploaded part into the spool directory.
func (s *Spool) Save(fh *multipart.FileHeader) (*SpooledFile, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("unable to open uploaded file %q: %w", fh.Filename, err)
	}
	defer src.Close()

	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create spool directory: %w", err)
	}

	path := filepath.Join(s.dir, uuid.NewString()+SafeExt(fh.Filename))
	dst, err := s.fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("unable to create spool file: %w", err)
	}

	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.fs.Remove(path)
		return nil, fmt.Errorf("failed to save uploaded file %q: %w", fh.Filename, err)
	}

	return &SpooledFile{Name: fh.Filename, Path: path, Size: n}, nil
}

// Open opens a spooled file for reading.
func (s *Spool) Open(f *SpooledFile) (afero.File, error) {
	return s.fs.Open(f.Path)
}

// ReadAll returns the contents of a spooled file.
func (s *Spool) ReadAll(f *SpooledFile) ([]byte, error) {
	return afero.ReadFile(s.fs, f.Path)
}

// Remove deletes spooled files, ignoring nil entries and missing files.
func (s *Spool) Remove(files ...*SpooledFile) {
	for _, f := range files {
		if f != nil {
			_ = s.fs.Remove(f.Path)
		}
	}
}

// SafeExt returns the lower-cased extension of name when it is short and
// alphanumeric, otherwise "".
func SafeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

// ObjectKey returns an opaque storage key that keeps the extension of name.
func ObjectKey(name string) string {
	return uuid.NewString() + SafeExt(name)
}

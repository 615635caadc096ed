// Package tsfile opens a transport stream recording as a writable byte
// buffer and persists in-place edits made to it.
//
// [ModeMap] maps the file shared and read/write, so edits reach the page
// cache as they are made and [File.Commit] only flushes them. A concurrent
// reader of the same file may observe a partially edited recording.
// [ModeReplace] works on a private copy and [File.Commit] atomically
// replaces the file with it, so readers see either the old or the new
// recording.
package tsfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zsiec/pmtfix/internal/mpegts"
)

// Mode selects how a recording is loaded and persisted.
type Mode int

const (
	// ModeMap memory-maps the recording read/write.
	ModeMap Mode = iota
	// ModeReplace reads the recording into memory and commits by writing a
	// temporary file next to it and renaming it over the original.
	ModeReplace
)

func (m Mode) String() string {
	switch m {
	case ModeMap:
		return "map"
	case ModeReplace:
		return "replace"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode parses "map" or "replace".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "map", "mmap":
		return ModeMap, nil
	case "replace":
		return ModeReplace, nil
	}
	return 0, fmt.Errorf("tsfile: unknown mode %q", s)
}

// ErrClosed is returned when a closed File is committed.
var ErrClosed = errors.New("tsfile: file already closed")

// File is an open recording. It is not safe for concurrent Commit/Close.
type File struct {
	path   string
	mode   Mode
	fd     *os.File // ModeMap only
	data   []byte
	perm   os.FileMode
	closed bool
}

// Open opens the recording at path in the given mode.
func Open(path string, mode Mode) (*File, error) {
	switch mode {
	case ModeMap:
		return openMapped(path)
	case ModeReplace:
		return openReplace(path)
	}
	return nil, fmt.Errorf("tsfile: open %s: unsupported %v", path, mode)
}

// Path returns the file's path.
func (f *File) Path() string { return f.path }

// Mode returns the mode the file was opened with.
func (f *File) Mode() Mode { return f.mode }

// Bytes returns the recording truncated to a whole number of packets.
// Writes to the slice are persisted by Commit. Bytes past the last whole
// packet are never exposed and are preserved as found.
func (f *File) Bytes() []byte {
	n := len(f.data) - len(f.data)%mpegts.PacketSize
	return f.data[:n]
}

// Commit persists the edits made through Bytes.
func (f *File) Commit() error {
	if f.closed {
		return ErrClosed
	}
	switch f.mode {
	case ModeMap:
		if err := f.syncMapped(); err != nil {
			return fmt.Errorf("tsfile: sync %s: %w", f.path, err)
		}
		return nil
	default:
		return f.replace()
	}
}

// Close releases the buffer. Uncommitted edits of a ModeReplace file are
// discarded. Close is idempotent.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if f.mode != ModeMap {
		f.data = nil
		return nil
	}

	err := f.unmap()
	f.data = nil
	if cerr := f.fd.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("tsfile: close %s: %w", f.path, err)
	}
	return nil
}

func openReplace(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("tsfile: stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("tsfile: %s is not a regular file", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tsfile: read %s: %w", path, err)
	}
	return &File{
		path: path,
		mode: ModeReplace,
		data: data,
		perm: info.Mode().Perm(),
	}, nil
}

// replace writes the buffer to a temporary file in the same directory and
// renames it over the original.
func (f *File) replace() (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("tsfile: create temp for %s: %w", f.path, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(f.data); err != nil {
		return fmt.Errorf("tsfile: write %s: %w", tmp.Name(), err)
	}
	if err = tmp.Chmod(f.perm); err != nil {
		return fmt.Errorf("tsfile: chmod %s: %w", tmp.Name(), err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("tsfile: sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("tsfile: close %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("tsfile: replace %s: %w", f.path, err)
	}
	return nil
}

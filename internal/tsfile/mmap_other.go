//go:build !unix

package tsfile

import (
	"fmt"
	"io"
	"os"

	"github.com/zsiec/pmtfix/internal/mpegts"
)

// openMapped has no shared mapping on this platform: the whole-packet
// prefix is read into memory and written back in place by Commit.
func openMapped(path string) (*File, error) {
	fd, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tsfile: open %s: %w", path, err)
	}
	info, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, fmt.Errorf("tsfile: stat %s: %w", path, err)
	}
	size := info.Size() - info.Size()%mpegts.PacketSize
	data := make([]byte, size)
	if _, err := io.ReadFull(fd, data); err != nil {
		fd.Close()
		return nil, fmt.Errorf("tsfile: read %s: %w", path, err)
	}
	return &File{
		path: path,
		mode: ModeMap,
		fd:   fd,
		data: data,
		perm: info.Mode().Perm(),
	}, nil
}

func (f *File) syncMapped() error {
	if _, err := f.fd.WriteAt(f.data, 0); err != nil {
		return err
	}
	return f.fd.Sync()
}

func (f *File) unmap() error { return nil }

//go:build unix

package tsfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/zsiec/pmtfix/internal/mpegts"
)

// openMapped maps the whole-packet prefix of the file shared and
// read/write. An empty prefix is not mapped.
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
	if !info.Mode().IsRegular() {
		fd.Close()
		return nil, fmt.Errorf("tsfile: %s is not a regular file", path)
	}

	size := info.Size() - info.Size()%mpegts.PacketSize
	if int64(int(size)) != size {
		fd.Close()
		return nil, fmt.Errorf("tsfile: %s is too large to map (%d bytes)", path, size)
	}

	var data []byte
	if size > 0 {
		data, err = unix.Mmap(int(fd.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			fd.Close()
			return nil, fmt.Errorf("tsfile: mmap %s: %w", path, err)
		}
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
	if len(f.data) == 0 {
		return nil
	}
	return unix.Msync(f.data, unix.MS_SYNC)
}

func (f *File) unmap() error {
	if len(f.data) == 0 {
		return nil
	}
	return unix.Munmap(f.data)
}

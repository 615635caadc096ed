package mpegts

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ctxCheckInterval is how many frames are processed between context checks.
const ctxCheckInterval = 4096

// copyBufferFrames sizes the buffered reader and writer used by Copy.
const copyBufferFrames = 100

// Config controls which stream_type is repaired and how a buffer is split.
type Config struct {
	// FromType is the stream_type that marks the first elementary stream as
	// needing repair.
	FromType uint8
	// ToType replaces FromType.
	ToType uint8
	// Workers is the number of goroutines Patch splits a buffer across.
	// Values below 1 mean 1.
	Workers int
}

// DefaultConfig repairs private PES (0x06) to H.264 (0x1B) on one goroutine.
func DefaultConfig() Config {
	return Config{
		FromType: StreamTypePrivatePES,
		ToType:   StreamTypeH264,
		Workers:  1,
	}
}

// Patcher rewrites the first elementary stream type of qualifying PMT
// sections in place. A Patcher is safe for concurrent use as long as callers
// hand it non-overlapping frames.
type Patcher struct {
	log     *slog.Logger
	crc     *CRCTable
	from    uint8
	to      uint8
	workers int
}

// NewPatcher validates cfg and returns a Patcher. If log is nil,
// slog.Default() is used.
func NewPatcher(cfg Config, log *slog.Logger) (*Patcher, error) {
	if cfg.FromType == cfg.ToType {
		return nil, fmt.Errorf("mpegts: stream type 0x%02X cannot be replaced by itself", cfg.FromType)
	}
	if log == nil {
		log = slog.Default()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Patcher{
		log:     log.With("component", "pmt-patcher"),
		crc:     defaultCRCTable(),
		from:    cfg.FromType,
		to:      cfg.ToType,
		workers: workers,
	}, nil
}

var defaultPatcher = sync.OnceValue(func() *Patcher {
	p, err := NewPatcher(DefaultConfig(), nil)
	if err != nil {
		panic(err)
	}
	return p
})

// PatchStream repairs every qualifying PMT in buf with the default
// configuration, sequentially and in place. Trailing bytes that do not fill
// a whole packet are ignored.
func PatchStream(buf []byte) Stats {
	s, _ := defaultPatcher().Patch(context.Background(), buf)
	return s
}

// PatchFrame runs one frame through classification, the PMT walk and the
// patch. Frames that fail any gate are left byte-for-byte unchanged.
func (p *Patcher) PatchFrame(f Frame) Verdict {
	v, _, _ := p.patchFrame(f)
	return v
}

func (p *Patcher) patchFrame(f Frame) (v Verdict, declared, resealed uint32) {
	if len(f) != PacketSize {
		return VerdictOverflow, 0, 0
	}
	if v := classify(f); v != VerdictPending {
		return v, 0, 0
	}
	w, v := walkPMT(f, p.from)
	if v != VerdictPending {
		return v, 0, 0
	}
	if w.target < 0 {
		return VerdictUnchanged, 0, 0
	}

	declared = binary.BigEndian.Uint32(f[w.end:])
	calc := p.crc.Checksum(f[w.start:w.end])

	f[w.target] = p.to

	if declared != calc {
		return VerdictPatchedStaleCRC, declared, declared
	}
	resealed = p.crc.Checksum(f[w.start:w.end])
	binary.BigEndian.PutUint32(f[w.end:], resealed)
	return VerdictPatched, declared, resealed
}

// patchAt patches the frame and logs modifications with its absolute offset.
func (p *Patcher) patchAt(f Frame, off int64) Verdict {
	v, before, after := p.patchFrame(f)
	if v.Modified() {
		p.log.Debug("patched PMT stream type",
			"offset", off,
			"pid", f.PID(),
			"verdict", v,
			"crc_before", fmt.Sprintf("%08x", before),
			"crc_after", fmt.Sprintf("%08x", after),
		)
	}
	return v
}

// Patch repairs buf in place. With more than one worker the frames are split
// into contiguous ranges processed concurrently; no two workers ever touch
// the same packet. Cancelling ctx stops the pass between frames and returns
// ctx.Err() along with the counts gathered so far.
func (p *Patcher) Patch(ctx context.Context, buf []byte) (Stats, error) {
	frames := len(buf) / PacketSize
	workers := min(p.workers, frames)
	if workers <= 1 {
		return p.patchRange(ctx, buf, 0, frames)
	}

	per := (frames + workers - 1) / workers
	results := make([]Stats, workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo := w * per
		hi := min(lo+per, frames)
		if lo >= hi {
			break
		}
		g.Go(func() error {
			s, err := p.patchRange(gctx, buf, lo, hi)
			results[w] = s
			return err
		})
	}
	err := g.Wait()

	var total Stats
	for _, s := range results {
		total.merge(s)
	}
	return total, err
}

// patchRange processes frames [lo, hi) of buf.
func (p *Patcher) patchRange(ctx context.Context, buf []byte, lo, hi int) (Stats, error) {
	var s Stats
	for i := lo; i < hi; i++ {
		if (i-lo)%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return s, err
			}
		}
		off := i * PacketSize
		s.add(p.patchAt(Frame(buf[off:off+PacketSize]), int64(off)))
	}
	return s, nil
}

// Copy streams src to dst, repairing each whole packet on the way. A short
// final packet is passed through untouched.
func (p *Patcher) Copy(ctx context.Context, dst io.Writer, src io.Reader) (Stats, error) {
	var s Stats
	r := bufio.NewReaderSize(src, PacketSize*copyBufferFrames)
	w := bufio.NewWriterSize(dst, PacketSize*copyBufferFrames)
	frame := make(Frame, PacketSize)

	var off int64
	for {
		if s.Frames%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return s, err
			}
		}

		n, err := io.ReadFull(r, frame)
		if n == PacketSize {
			s.add(p.patchAt(frame, off))
		}
		if n > 0 {
			if _, werr := w.Write(frame[:n]); werr != nil {
				return s, fmt.Errorf("mpegts: write at offset %d: %w", off, werr)
			}
			off += int64(n)
		}

		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			if ferr := w.Flush(); ferr != nil {
				return s, fmt.Errorf("mpegts: flush: %w", ferr)
			}
			return s, nil
		default:
			return s, fmt.Errorf("mpegts: read at offset %d: %w", off, err)
		}
	}
}

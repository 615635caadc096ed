// Package srtpush sends a repaired recording to an SRT listener, paced to
// a target byte rate so a live ingest receives it at roughly real time.
package srtpush

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	srt "github.com/zsiec/srtgo"

	"github.com/zsiec/pmtfix/internal/mpegts"
)

// ChunkSize is the SRT payload size: 7 MPEG-TS packets.
const ChunkSize = mpegts.PacketSize * 7

const (
	logInterval = 10 * time.Second
	dialTimeout = 10 * time.Second
)

// Config describes the SRT destination.
type Config struct {
	// Addr is the listener's host:port.
	Addr string
	// StreamID is sent in the SRT handshake, e.g. "live/recording".
	StreamID string
	// BytesPerSec paces the send. Zero sends as fast as the connection
	// accepts data.
	BytesPerSec float64
}

// Pusher delivers byte buffers over SRT.
type Pusher struct {
	log   *slog.Logger
	cfg   Config
	dial  func(addr, streamID string) (io.WriteCloser, error)
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Pusher for cfg. If log is nil, slog.Default() is used.
func New(cfg Config, log *slog.Logger) (*Pusher, error) {
	if cfg.Addr == "" {
		return nil, errors.New("srtpush: no address")
	}
	if cfg.BytesPerSec < 0 {
		return nil, fmt.Errorf("srtpush: negative rate %v", cfg.BytesPerSec)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pusher{
		log:   log.With("component", "srt-push", "addr", cfg.Addr, "stream_id", cfg.StreamID),
		cfg:   cfg,
		dial:  dialSRT,
		now:   time.Now,
		sleep: sleepCtx,
	}, nil
}

func dialSRT(addr, streamID string) (io.WriteCloser, error) {
	cfg := srt.DefaultConfig()
	cfg.StreamID = streamID
	conn, err := srt.Dial(addr, cfg)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Push connects, sends data once in ChunkSize pieces and closes the
// connection. It returns the number of bytes written.
func (p *Pusher) Push(ctx context.Context, data []byte) (int64, error) {
	conn, err := p.connect(ctx)
	if err != nil {
		return 0, err
	}

	// A blocked Write is released by closing the connection.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		if stop() {
			conn.Close()
		}
	}()

	start := p.now()
	sent, err := p.send(ctx, conn, data)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return sent, ctxErr
		}
		return sent, err
	}
	p.log.Info("push complete",
		"bytes", sent,
		"elapsed", p.now().Sub(start).Truncate(time.Millisecond),
	)
	return sent, nil
}

// connect dials in the background so a stalled handshake can be abandoned
// on timeout or cancellation.
func (p *Pusher) connect(ctx context.Context) (io.WriteCloser, error) {
	type dialResult struct {
		conn io.WriteCloser
		err  error
	}
	p.log.Info("connecting")
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := p.dial(p.cfg.Addr, p.cfg.StreamID)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	drain := func() {
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("srtpush: dial %s: %w", p.cfg.Addr, res.err)
		}
		p.log.Info("connected")
		return res.conn, nil
	case <-timer.C:
		drain()
		return nil, fmt.Errorf("srtpush: dial %s timed out after %s", p.cfg.Addr, dialTimeout)
	case <-ctx.Done():
		drain()
		return nil, ctx.Err()
	}
}

// send writes data to w in ChunkSize pieces, sleeping between chunks so
// the cumulative rate does not exceed BytesPerSec.
func (p *Pusher) send(ctx context.Context, w io.Writer, data []byte) (int64, error) {
	start := p.now()
	lastLog := start
	var sent int64

	for i := 0; i < len(data); i += ChunkSize {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		end := min(i+ChunkSize, len(data))
		n, err := w.Write(data[i:end])
		sent += int64(n)
		if err != nil {
			return sent, fmt.Errorf("srtpush: write at offset %d: %w", i, err)
		}

		if p.cfg.BytesPerSec > 0 {
			expected := time.Duration(float64(sent) / p.cfg.BytesPerSec * float64(time.Second))
			if wait := expected - p.now().Sub(start); wait > 0 {
				if err := p.sleep(ctx, wait); err != nil {
					return sent, err
				}
			}
		}

		if now := p.now(); now.Sub(lastLog) >= logInterval {
			p.log.Info("pushing",
				"progress", fmt.Sprintf("%.1f%%", float64(end)/float64(len(data))*100),
				"sent_mb", fmt.Sprintf("%.1f", float64(sent)/(1024*1024)),
			)
			lastLog = now
		}
	}
	return sent, nil
}

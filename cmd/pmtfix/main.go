// Command pmtfix repairs MPEG-TS recordings whose PMT declares the video
// stream as private data (stream_type 0x06) instead of H.264 (0x1B).
//
// Usage:
//
//	pmtfix [flags] recording.ts
//	pmtfix [flags] - < in.ts > out.ts
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/zsiec/pmtfix/internal/mpegts"
	"github.com/zsiec/pmtfix/internal/srtpush"
	"github.com/zsiec/pmtfix/internal/tsfile"
)

var version = "dev"

// usageError marks errors caused by bad arguments; they exit with status 2.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

type options struct {
	path    string
	mode    tsfile.Mode
	dryRun  bool
	list    bool
	verbose bool
	patch   mpegts.Config
	push    srtpush.Config
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, stopping", "signal", sig)
		cancel()
	}()

	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	if err == nil {
		return
	}
	var uerr *usageError
	if errors.As(err, &uerr) {
		fmt.Fprintf(os.Stderr, "pmtfix: %v\n", err)
		os.Exit(2)
	}
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	slog.Error("pmtfix failed", "error", err)
	os.Exit(1)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if opts.verbose || os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	patcher, err := mpegts.NewPatcher(opts.patch, log)
	if err != nil {
		return &usageError{err.Error()}
	}

	if opts.path == "-" {
		return runPipe(ctx, log, patcher, stdin, stdout)
	}
	return runFile(ctx, log, patcher, opts, stdout)
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("pmtfix", flag.ContinueOnError)
	fs.SetOutput(stderr)
	modeFlag := fs.String("mode", envOr("PMTFIX_MODE", "map"), "how to edit the file: map (in place, mmap) or replace (write temp file, rename)")
	dryRunFlag := fs.Bool("dry-run", false, "scan and report without writing the file")
	listFlag := fs.Bool("list", false, "list the PMTs found and exit without patching")
	workersFlag := fs.Int("workers", envInt("PMTFIX_WORKERS", 1), "goroutines to split the scan across")
	fromFlag := fs.String("from", "0x06", "stream_type to repair")
	toFlag := fs.String("to", "0x1b", "stream_type to write")
	pushFlag := fs.String("push", "", "after repairing, send the recording to this SRT listener (host:port)")
	streamIDFlag := fs.String("stream-id", "", "SRT stream ID for -push (default live/<file name>)")
	rateFlag := fs.Float64("rate", 0, "pace -push to this many bytes per second (0 = unpaced)")
	verboseFlag := fs.Bool("v", false, "log every patched packet")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "pmtfix %s\n\nUsage:\n", version)
		fmt.Fprintf(stderr, "  pmtfix [flags] recording.ts   repair a recording in place\n")
		fmt.Fprintf(stderr, "  pmtfix [flags] -              repair stdin to stdout\n\nFlags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, &usageError{err.Error()}
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, &usageError{"expected exactly one input file"}
	}

	opts := &options{
		path:    fs.Arg(0),
		dryRun:  *dryRunFlag,
		list:    *listFlag,
		verbose: *verboseFlag,
	}

	mode, err := tsfile.ParseMode(*modeFlag)
	if err != nil {
		return nil, &usageError{err.Error()}
	}
	opts.mode = mode

	from, err := parseStreamType(*fromFlag)
	if err != nil {
		return nil, &usageError{fmt.Sprintf("-from: %v", err)}
	}
	to, err := parseStreamType(*toFlag)
	if err != nil {
		return nil, &usageError{fmt.Sprintf("-to: %v", err)}
	}
	opts.patch = mpegts.Config{FromType: from, ToType: to, Workers: *workersFlag}

	if *pushFlag != "" {
		if *rateFlag < 0 {
			return nil, &usageError{"-rate must not be negative"}
		}
		streamID := *streamIDFlag
		if streamID == "" {
			streamID = defaultStreamID(opts.path)
		}
		opts.push = srtpush.Config{Addr: *pushFlag, StreamID: streamID, BytesPerSec: *rateFlag}
	}

	if opts.path == "-" && (opts.list || opts.push.Addr != "") {
		return nil, &usageError{"-list and -push need a file, not stdin"}
	}
	return opts, nil
}

func runPipe(ctx context.Context, log *slog.Logger, patcher *mpegts.Patcher, stdin io.Reader, stdout io.Writer) error {
	stats, err := patcher.Copy(ctx, stdout, stdin)
	if err != nil {
		return err
	}
	log.Info("stream repaired", "stats", stats)
	return nil
}

func runFile(ctx context.Context, log *slog.Logger, patcher *mpegts.Patcher, opts *options, stdout io.Writer) error {
	mode := opts.mode
	if opts.dryRun || opts.list {
		mode = tsfile.ModeReplace // private copy, never committed
	}
	f, err := tsfile.Open(opts.path, mode)
	if err != nil {
		return err
	}
	defer f.Close()

	if opts.list {
		printPMTs(stdout, mpegts.Inspect(f.Bytes()))
		return nil
	}

	log = log.With("file", opts.path, "mode", mode)
	stats, err := patcher.Patch(ctx, f.Bytes())
	if err != nil {
		return fmt.Errorf("patch %s: %w", opts.path, err)
	}

	switch {
	case opts.dryRun:
		log.Info("dry run, file not written", "stats", stats)
	case stats.Patched() == 0 && mode == tsfile.ModeReplace:
		log.Info("nothing to repair", "stats", stats)
	default:
		if err := f.Commit(); err != nil {
			return err
		}
		log.Info("recording repaired", "stats", stats)
	}

	if opts.push.Addr == "" {
		return nil
	}
	pusher, err := srtpush.New(opts.push, log)
	if err != nil {
		return err
	}
	if _, err := pusher.Push(ctx, f.Bytes()); err != nil {
		return err
	}
	return nil
}

func printPMTs(w io.Writer, records []mpegts.PMTRecord) {
	for _, r := range records {
		if r.Err != nil {
			fmt.Fprintf(w, "offset=%d pid=0x%04X error: %v\n", r.Offset, r.PID, r.Err)
			continue
		}
		fmt.Fprintf(w, "offset=%d pid=0x%04X program=%d version=%d pcr_pid=0x%04X\n",
			r.Offset, r.PID, r.PMT.ProgramNumber, r.PMT.Version, r.PMT.PCRPID)
		for _, es := range r.PMT.ElementaryStreams {
			fmt.Fprintf(w, "\tpid=0x%04X type=0x%02X %s\n",
				es.ElementaryPID, es.StreamType, mpegts.StreamTypeName(es.StreamType))
		}
	}
}

func parseStreamType(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid stream type %q", s)
	}
	return uint8(v), nil
}

func defaultStreamID(path string) string {
	base := filepath.Base(path)
	return "live/" + strings.TrimSuffix(base, filepath.Ext(base))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

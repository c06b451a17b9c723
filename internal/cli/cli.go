// Package cli implements the command-line interface for singerlake.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/eunmann/singerlake/internal/logctx"
	"github.com/eunmann/singerlake/pkg/config"
	"github.com/eunmann/singerlake/pkg/lake"
	"github.com/eunmann/singerlake/pkg/logging"
)

const usage = `usage: singerlake <command> [options]
commands: init, write, reconcile, taps, streams`

// Run executes the CLI with the given arguments against the process's
// standard streams.
func Run(args []string) error {
	return RunContext(context.Background(), args, os.Stdin, os.Stdout)
}

// RunContext executes the CLI. Singer input is read from stdin unless a
// file is given; listings and the final state go to stdout.
func RunContext(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:], stdout)
	case "write":
		return runWrite(ctx, args[1:], stdin, stdout)
	case "reconcile":
		return runReconcile(ctx, args[1:], stdout)
	case "taps":
		return runTaps(ctx, args[1:], stdout)
	case "streams":
		return runStreams(ctx, args[1:], stdout)
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

type commonFlags struct {
	config *string
	debug  *bool
	human  *bool
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		config: fs.String("config", "", "config file (default ./singerlake.yaml)"),
		debug:  fs.Bool("debug", false, "enable debug logging"),
		human:  fs.Bool("human", false, "human-friendly console logs"),
	}
}

// open loads configuration, sets up logging for phase and opens the lake.
func (c *commonFlags) open(ctx context.Context, phase string) (context.Context, *lake.Lake, error) {
	cfg, err := config.Load(*c.config)
	if err != nil {
		return ctx, nil, err
	}
	logging.Init(cfg.Log.Debug || *c.debug, cfg.Log.Human || *c.human)
	ctx = logctx.WithLogger(ctx, logging.WithPhase(phase))

	l, err := lake.New(ctx, cfg)
	if err != nil {
		return ctx, nil, err
	}
	return ctx, l, nil
}

func runInit(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	common := addCommonFlags(fs)
	lakeID := fs.String("lake-id", "", "lake id (random when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, l, err := common.open(ctx, "init")
	if err != nil {
		return err
	}
	m, err := l.Init(ctx, *lakeID)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, m.LakeID)
	return nil
}

func runWrite(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("write", flag.ContinueOnError)
	common := addCommonFlags(fs)
	tap := fs.String("tap", "", "tap id the messages belong to")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *tap == "" {
		return errors.New("--tap is required")
	}
	if fs.NArg() > 1 {
		return errors.New("at most one input file is allowed")
	}

	in := stdin
	if fs.NArg() == 1 {
		r, closeInput, err := openInput(fs.Arg(0))
		if err != nil {
			return err
		}
		defer closeInput()
		in = r
	}

	ctx, l, err := common.open(ctx, "write")
	if err != nil {
		return err
	}
	res, err := l.Ingest(ctx, *tap, in)
	if err != nil {
		return err
	}

	if res.State != nil {
		value, ok := res.State["value"]
		if !ok {
			value = res.State
		}
		if err := json.NewEncoder(stdout).Encode(value); err != nil {
			return fmt.Errorf("write state: %w", err)
		}
	}
	return nil
}

// openInput opens a Singer message file, decompressing .gz files.
func openInput(path string) (io.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, func() { f.Close() }, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("open gzip input: %w", err)
	}
	return gz, func() { gz.Close(); f.Close() }, nil
}

func runReconcile(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	common := addCommonFlags(fs)
	tap := fs.String("tap", "", "tap id to reconcile")
	stream := fs.String("stream", "", "only reconcile this stream")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *tap == "" {
		return errors.New("--tap is required")
	}

	ctx, l, err := common.open(ctx, "reconcile")
	if err != nil {
		return err
	}

	var added map[string]int
	if *stream != "" {
		n, err := l.ReconcileStream(ctx, *tap, *stream)
		if err != nil {
			return err
		}
		added = map[string]int{*stream: n}
	} else {
		added, err = l.ReconcileTap(ctx, *tap)
		if err != nil {
			return err
		}
	}

	streams := make([]string, 0, len(added))
	for s := range added {
		streams = append(streams, s)
	}
	sort.Strings(streams)
	for _, s := range streams {
		fmt.Fprintf(stdout, "%s\t%d\n", s, added[s])
	}
	return nil
}

func runTaps(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("taps", flag.ContinueOnError)
	common := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, l, err := common.open(ctx, "taps")
	if err != nil {
		return err
	}
	taps, err := l.Taps(ctx)
	if err != nil {
		return err
	}
	for _, t := range taps {
		fmt.Fprintln(stdout, t)
	}
	return nil
}

func runStreams(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("streams", flag.ContinueOnError)
	common := addCommonFlags(fs)
	tap := fs.String("tap", "", "tap id to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *tap == "" {
		return errors.New("--tap is required")
	}

	ctx, l, err := common.open(ctx, "streams")
	if err != nil {
		return err
	}
	streams, err := l.Streams(ctx, *tap)
	if err != nil {
		return err
	}
	for _, s := range streams {
		fmt.Fprintln(stdout, s)
	}
	return nil
}

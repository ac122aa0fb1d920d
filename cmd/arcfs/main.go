package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Munger/arcfs"
	"github.com/Munger/arcfs/internal/cli"
	"github.com/Munger/arcfs/internal/engine"
)

func main() {
	opts, err := cli.Parse(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "arcfs: %v\n", err)
		os.Exit(engine.ExitFatal)
	}
	if opts.Help {
		_, _ = fmt.Fprint(os.Stdout, cli.HelpText(filepath.Base(os.Args[0])))
		os.Exit(engine.ExitSuccess)
	}

	var fsOpts []arcfs.Option
	if opts.TempDir != "" {
		fsOpts = append(fsOpts, arcfs.WithTempDir(opts.TempDir))
	}
	if opts.BufferSize > 0 {
		fsOpts = append(fsOpts, arcfs.WithGlobalBufferSize(opts.BufferSize))
	}
	if opts.ZipBufferSize > 0 || opts.TarBufferSize > 0 || opts.GzipBufferSize > 0 ||
		opts.Bzip2BufferSize > 0 || opts.XzBufferSize > 0 {
		fsOpts = append(fsOpts, arcfs.WithHandlerBufferSizes(
			opts.ZipBufferSize, opts.TarBufferSize, opts.GzipBufferSize,
			opts.Bzip2BufferSize, opts.XzBufferSize))
	}
	if opts.Verbose {
		fsOpts = append(fsOpts, arcfs.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))))
	}

	runner, err := engine.New(os.Stdout, os.Stderr, fsOpts...)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "arcfs: %v\n", err)
		os.Exit(engine.ExitFatal)
	}

	result := runner.Run(opts)
	if result.Err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "arcfs: %v\n", result.Err)
	}
	os.Exit(result.ExitCode)
}

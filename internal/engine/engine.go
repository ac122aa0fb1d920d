// Package engine dispatches a parsed cli.Options into the arcfs facade
// and reports a process exit code, the same Run/RunResult shape gotgz's
// own engine package used to bridge its CLI options into its archive
// operations.
package engine

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Munger/arcfs"
	"github.com/Munger/arcfs/internal/cli"
)

const (
	ExitSuccess = 0
	ExitFatal   = 2
)

// RunResult is what main translates into os.Exit's argument.
type RunResult struct {
	ExitCode int
	Err      error
}

// Runner owns the ArchiveFS instance every subcommand operates against.
type Runner struct {
	fs     *arcfs.ArchiveFS
	stdout io.Writer
	stderr io.Writer
}

// New constructs a Runner backed by a fresh ArchiveFS.
func New(stdout, stderr io.Writer, opts ...arcfs.Option) (*Runner, error) {
	a, err := arcfs.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("init arcfs: %w", err)
	}
	return &Runner{fs: a, stdout: stdout, stderr: stderr}, nil
}

// Run dispatches opts.Command to the matching facade operation.
func (r *Runner) Run(opts cli.Options) RunResult {
	err := r.dispatch(opts)
	if err != nil {
		return RunResult{ExitCode: ExitFatal, Err: err}
	}
	return RunResult{ExitCode: ExitSuccess}
}

func (r *Runner) dispatch(opts cli.Options) error {
	switch opts.Command {
	case cli.CmdRead:
		return r.runRead(opts)
	case cli.CmdWrite:
		return r.runWrite(opts, false)
	case cli.CmdAppend:
		return r.runWrite(opts, true)
	case cli.CmdLs:
		return r.runLs(opts)
	case cli.CmdWalk:
		return r.runWalk(opts)
	case cli.CmdRm:
		return r.runArg1(opts, r.fs.Remove)
	case cli.CmdRmdir:
		return r.requireArgs(opts, 1, func(args []string) error {
			return r.fs.Rmdir(args[0], opts.Recursive)
		})
	case cli.CmdMkdir:
		return r.requireArgs(opts, 1, func(args []string) error {
			return r.fs.Mkdir(args[0], opts.CreateParents)
		})
	case cli.CmdCp:
		return r.requireArgs(opts, 2, func(args []string) error {
			return r.fs.Copy(args[0], args[1])
		})
	case cli.CmdMv:
		return r.requireArgs(opts, 2, func(args []string) error {
			return r.fs.Move(args[0], args[1])
		})
	case cli.CmdStat:
		return r.runStat(opts)
	case cli.CmdMkarchiv:
		return r.runMkarchive(opts)
	case cli.CmdExtract:
		return r.runExtract(opts)
	default:
		return fmt.Errorf("unsupported command %q", opts.Command)
	}
}

func (r *Runner) requireArgs(opts cli.Options, n int, fn func([]string) error) error {
	if len(opts.Args) < n {
		return fmt.Errorf("%s: requires %d argument(s)", opts.Command, n)
	}
	return fn(opts.Args)
}

func (r *Runner) runArg1(opts cli.Options, fn func(string) error) error {
	return r.requireArgs(opts, 1, func(args []string) error { return fn(args[0]) })
}

func (r *Runner) runRead(opts cli.Options) error {
	return r.requireArgs(opts, 1, func(args []string) error {
		if opts.Binary {
			data, err := r.fs.Read(args[0])
			if err != nil {
				return err
			}
			_, err = r.stdout.Write(data)
			return err
		}
		text, err := r.fs.ReadText(args[0])
		if err != nil {
			return err
		}
		_, err = io.WriteString(r.stdout, text)
		return err
	})
}

func (r *Runner) runWrite(opts cli.Options, appendMode bool) error {
	return r.requireArgs(opts, 1, func(args []string) error {
		data, err := loadPayload(opts)
		if err != nil {
			return err
		}
		if appendMode {
			return r.fs.Append(args[0], data)
		}
		return r.fs.Write(args[0], data)
	})
}

func loadPayload(opts cli.Options) ([]byte, error) {
	if opts.DataFile != "" {
		return os.ReadFile(opts.DataFile)
	}
	if opts.Data != "" {
		return []byte(opts.Data), nil
	}
	return io.ReadAll(os.Stdin)
}

func (r *Runner) runLs(opts cli.Options) error {
	return r.requireArgs(opts, 1, func(args []string) error {
		names, err := r.fs.ListDir(args[0])
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(r.stdout, name)
		}
		return nil
	})
}

func (r *Runner) runWalk(opts cli.Options) error {
	return r.requireArgs(opts, 1, func(args []string) error {
		entries, err := r.fs.Walk(args[0])
		if err != nil {
			return err
		}
		for _, e := range entries {
			dir := e.Dir
			if dir == "" {
				dir = "."
			}
			fmt.Fprintf(r.stdout, "%s: dirs=%s files=%s\n", dir,
				strings.Join(e.SubDirs, ","), strings.Join(e.Files, ","))
		}
		return nil
	})
}

func (r *Runner) runMkarchive(opts cli.Options) error {
	return r.requireArgs(opts, 1, func(args []string) error {
		if opts.From == "" {
			return r.fs.CreateArchive(args[0])
		}
		return r.fs.CreateArchiveFromDir(args[0], opts.From, opts.Exclude)
	})
}

func (r *Runner) runExtract(opts cli.Options) error {
	return r.requireArgs(opts, 1, func(args []string) error {
		if opts.To == "" {
			return fmt.Errorf("extract: requires --to <dir>")
		}
		return r.fs.ExtractToDir(args[0], opts.To)
	})
}

func (r *Runner) runStat(opts cli.Options) error {
	return r.requireArgs(opts, 1, func(args []string) error {
		info, err := r.fs.GetInfo(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(r.stdout, "kind=%s size=%d modified=%s\n", info.Kind, info.Size, info.Modified)
		return nil
	})
}

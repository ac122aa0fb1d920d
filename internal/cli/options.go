// Package cli parses cmd/arcfs's command line: a subcommand name followed
// by flags and positional paths, in the same manual short/long flag loop
// style as gotgz's own option parser.
package cli

import (
	"fmt"
	"strconv"
	"strings"
)

// Command names the facade operation cmd/arcfs invokes.
type Command string

const (
	CmdRead     Command = "read"
	CmdWrite    Command = "write"
	CmdAppend   Command = "append"
	CmdLs       Command = "ls"
	CmdWalk     Command = "walk"
	CmdRm       Command = "rm"
	CmdRmdir    Command = "rmdir"
	CmdMkdir    Command = "mkdir"
	CmdCp       Command = "cp"
	CmdMv       Command = "mv"
	CmdStat     Command = "stat"
	CmdMkarchiv Command = "mkarchive"
	CmdExtract  Command = "extract"
)

// Options is the parsed form of cmd/arcfs's argument list.
type Options struct {
	Command       Command
	Args          []string
	Data          string
	DataFile      string
	Recursive     bool
	CreateParents bool
	Binary        bool
	Verbose       bool
	Help          bool
	TempDir       string
	BufferSize    int64
	From          string
	Exclude       []string
	To            string

	ZipBufferSize   int
	TarBufferSize   int
	GzipBufferSize  int
	Bzip2BufferSize int
	XzBufferSize    int
}

// Parse parses args (os.Args[1:]) into Options. args[0] names the
// subcommand unless it starts with '-'; everything after belongs to it.
func Parse(args []string) (Options, error) {
	var opts Options
	if len(args) == 0 {
		return opts, fmt.Errorf("no command specified")
	}

	rest := args
	if !strings.HasPrefix(args[0], "-") {
		opts.Command = Command(args[0])
		rest = args[1:]
	}

	for i := 0; i < len(rest); i++ {
		a := rest[i]
		if !strings.HasPrefix(a, "-") || a == "-" {
			opts.Args = append(opts.Args, rest[i:]...)
			break
		}
		if a == "--" {
			opts.Args = append(opts.Args, rest[i+1:]...)
			break
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(a, "-"), "=")
		switch name {
		case "d", "data":
			v, nextI, err := resolveValue(name, value, hasValue, rest, i)
			if err != nil {
				return opts, err
			}
			i = nextI
			opts.Data = v
		case "i", "input":
			v, nextI, err := resolveValue(name, value, hasValue, rest, i)
			if err != nil {
				return opts, err
			}
			i = nextI
			opts.DataFile = v
		case "temp-dir":
			v, nextI, err := resolveValue(name, value, hasValue, rest, i)
			if err != nil {
				return opts, err
			}
			i = nextI
			opts.TempDir = v
		case "buffer-size":
			v, nextI, err := resolveValue(name, value, hasValue, rest, i)
			if err != nil {
				return opts, err
			}
			i = nextI
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n <= 0 {
				return opts, fmt.Errorf("option --buffer-size requires a positive integer")
			}
			opts.BufferSize = n
		case "zip-buffer-size":
			v, nextI, err := resolveValue(name, value, hasValue, rest, i)
			if err != nil {
				return opts, err
			}
			i = nextI
			n, err := parsePositiveInt(name, v)
			if err != nil {
				return opts, err
			}
			opts.ZipBufferSize = n
		case "tar-buffer-size":
			v, nextI, err := resolveValue(name, value, hasValue, rest, i)
			if err != nil {
				return opts, err
			}
			i = nextI
			n, err := parsePositiveInt(name, v)
			if err != nil {
				return opts, err
			}
			opts.TarBufferSize = n
		case "gzip-buffer-size":
			v, nextI, err := resolveValue(name, value, hasValue, rest, i)
			if err != nil {
				return opts, err
			}
			i = nextI
			n, err := parsePositiveInt(name, v)
			if err != nil {
				return opts, err
			}
			opts.GzipBufferSize = n
		case "bzip2-buffer-size":
			v, nextI, err := resolveValue(name, value, hasValue, rest, i)
			if err != nil {
				return opts, err
			}
			i = nextI
			n, err := parsePositiveInt(name, v)
			if err != nil {
				return opts, err
			}
			opts.Bzip2BufferSize = n
		case "xz-buffer-size":
			v, nextI, err := resolveValue(name, value, hasValue, rest, i)
			if err != nil {
				return opts, err
			}
			i = nextI
			n, err := parsePositiveInt(name, v)
			if err != nil {
				return opts, err
			}
			opts.XzBufferSize = n
		case "from":
			v, nextI, err := resolveValue(name, value, hasValue, rest, i)
			if err != nil {
				return opts, err
			}
			i = nextI
			opts.From = v
		case "exclude":
			v, nextI, err := resolveValue(name, value, hasValue, rest, i)
			if err != nil {
				return opts, err
			}
			i = nextI
			opts.Exclude = append(opts.Exclude, v)
		case "to":
			v, nextI, err := resolveValue(name, value, hasValue, rest, i)
			if err != nil {
				return opts, err
			}
			i = nextI
			opts.To = v
		case "r", "recursive":
			opts.Recursive = true
		case "p", "parents":
			opts.CreateParents = true
		case "b", "binary":
			opts.Binary = true
		case "v", "verbose":
			opts.Verbose = true
		case "h", "help":
			opts.Help = true
		default:
			return opts, fmt.Errorf("unsupported option -%s", name)
		}
	}

	if opts.Help {
		return opts, nil
	}
	if opts.Command == "" {
		return opts, fmt.Errorf("no command specified")
	}
	if !validCommand(opts.Command) {
		return opts, fmt.Errorf("unknown command %q", opts.Command)
	}
	return opts, nil
}

func validCommand(c Command) bool {
	switch c {
	case CmdRead, CmdWrite, CmdAppend, CmdLs, CmdWalk, CmdRm, CmdRmdir,
		CmdMkdir, CmdCp, CmdMv, CmdStat, CmdMkarchiv, CmdExtract:
		return true
	default:
		return false
	}
}

func parsePositiveInt(name, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("option --%s requires a positive integer", name)
	}
	return n, nil
}

func resolveValue(name, inline string, hasInline bool, args []string, i int) (string, int, error) {
	if hasInline {
		return inline, i, nil
	}
	i++
	if i >= len(args) {
		return "", i, fmt.Errorf("option -%s requires a value", name)
	}
	return args[i], i, nil
}

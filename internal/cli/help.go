package cli

import "fmt"

// HelpText returns the usage banner cmd/arcfs prints for -h/--help,
// named after program (typically os.Args[0]'s base name).
func HelpText(program string) string {
	if program == "" {
		program = "arcfs"
	}
	return fmt.Sprintf(`%s - composite filesystem over nested archive containers

Usage:
  %s read [-b] <path>
  %s write [-b] [--data <text> | --input <file>] <path>
  %s append [-b] [--data <text> | --input <file>] <path>
  %s ls <path>
  %s walk <path>
  %s rm <path>
  %s rmdir [-r] <path>
  %s mkdir [-p] <path>
  %s cp <src> <dst>
  %s mv <src> <dst>
  %s stat <path>
  %s mkarchive [--from <dir>] [--exclude <glob>]... <path>
  %s extract --to <dir> <path>

Options:
  -d, --data <text>       inline content for write/append
  -i, --input <file>      read write/append content from a real file
  -r, --recursive         rmdir: remove a non-empty directory
  -p, --parents           mkdir: create missing intermediate archives/dirs
  -b, --binary            read/write raw bytes, skipping UTF-8 validation
  --temp-dir <dir>        override the spill/rebuild temp directory
  --buffer-size <bytes>   override the write-stream spill threshold
  --zip-buffer-size <n>   override the ZIP handler's I/O chunk size
  --tar-buffer-size <n>   override the TAR handler's I/O chunk size
  --gzip-buffer-size <n>  override the gzip codec's I/O chunk size
  --bzip2-buffer-size <n> override the bzip2 codec's I/O chunk size
  --xz-buffer-size <n>    override the xz codec's I/O chunk size
  --from <dir>            mkarchive: populate from a local directory
  --exclude <glob>        mkarchive: skip paths matching a doublestar glob (repeatable)
  --to <dir>              extract: destination directory on the real filesystem
  -v, --verbose           log resolution and rebuild steps
  -h, --help              show this text
`, program, program, program, program, program, program, program, program, program, program, program, program, program, program)
}

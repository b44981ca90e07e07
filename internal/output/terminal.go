package output

import (
	"os"

	"github.com/mattn/go-isatty"
)

// checkIsTerminal reports whether progress lines written to f can be
// rewritten in place. Cygwin and MSYS ptys count as terminals.
func checkIsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

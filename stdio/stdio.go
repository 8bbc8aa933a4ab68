// Package stdio provides the standard-stream endpoints of a pre-boot
// program. Streams are redirectable: before falling back to the
// console protocols, a stream consults the variable store for a
// `<program>_stdout` / `<program>_stderr` / `<program>_stdin` entry set
// by whoever spawned the program, holding either the literal "null" or
// the handle of an installed byte channel.
package stdio

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/efibridge/efibridge/efi"
	"github.com/efibridge/efibridge/pipe"
)

// Console protocol family identifiers.
var (
	TextOutputGuid = efi.MustGuid("387477c2-69c7-11d2-8e39-00a0c969723b")
	TextInputGuid  = efi.MustGuid("387477c1-69c7-11d2-8e39-00a0c969723b")
)

// TextOutput is the console output capability used when a stream is
// not redirected.
type TextOutput interface {
	OutputString(s string) efi.Status
}

// TextInput is the console input capability: one key stroke per call.
type TextInput interface {
	ReadKeyStroke() (rune, efi.Status)
}

// Vars is the variable store the redirection convention lives in. The
// store itself is owned by the process-spawn layer; this package only
// reads it.
type Vars interface {
	Lookup(key string) (string, bool)
}

// MapVars is a Vars backed by a plain map.
type MapVars map[string]string

func (m MapVars) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Stream names used in redirection keys.
const (
	Stdin  = "stdin"
	Stdout = "stdout"
	Stderr = "stderr"
)

// NullRedirect is the variable value that discards a stream.
const NullRedirect = "null"

// RedirectKey returns the variable name consulted for a program's
// stream.
func RedirectKey(program, stream string) string {
	return program + "_" + stream
}

// RedirectValue formats a channel handle for storage in a redirection
// variable.
func RedirectValue(h efi.Handle) string {
	return strconv.FormatUint(uint64(h), 10)
}

func parseRedirect(v string) (efi.Handle, error) {
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil || n == 0 {
		return efi.NullHandle, fmt.Errorf("stdio: malformed redirection value %q: %w", v, efi.ErrInvalidInput)
	}
	return efi.Handle(n), nil
}

// Writer is one output stream of a program.
type Writer struct {
	sys     *efi.System
	vars    Vars
	program string
	stream  string
}

func NewWriter(sys *efi.System, vars Vars, program, stream string) *Writer {
	return &Writer{sys: sys, vars: vars, program: program, stream: stream}
}

func (w *Writer) Write(p []byte) (int, error) {
	if v, ok := w.vars.Lookup(RedirectKey(w.program, w.stream)); ok {
		if v == NullRedirect {
			return len(p), nil
		}
		h, err := parseRedirect(v)
		if err != nil {
			return 0, err
		}
		return pipe.Open(w.sys, h).Write(p)
	}

	handle, err := w.sys.LocateHandle(TextOutputGuid)
	if err != nil {
		return 0, err
	}
	out, err := efi.Open[TextOutput](w.sys.Boot(), handle, TextOutputGuid)
	if err != nil {
		return 0, err
	}
	// Console output is line-oriented, bare newlines become CRLF.
	s := strings.ReplaceAll(string(p), "\n", "\r\n")
	if err := out.OutputString(s).Err(); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Reader is the input stream of a program.
type Reader struct {
	sys     *efi.System
	vars    Vars
	program string
}

func NewReader(sys *efi.System, vars Vars, program string) *Reader {
	return &Reader{sys: sys, vars: vars, program: program}
}

func (r *Reader) Read(p []byte) (int, error) {
	if v, ok := r.vars.Lookup(RedirectKey(r.program, Stdin)); ok {
		if v == NullRedirect {
			return 0, io.EOF
		}
		h, err := parseRedirect(v)
		if err != nil {
			return 0, err
		}
		n, err := pipe.Open(r.sys, h).Read(p)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			// The channel is drained; byte channels never block.
			return 0, io.EOF
		}
		return n, nil
	}

	if len(p) < utf8.UTFMax {
		return 0, fmt.Errorf("stdio: read buffer too small for one key: %w", efi.ErrInvalidInput)
	}
	handle, err := r.sys.LocateHandle(TextInputGuid)
	if err != nil {
		return 0, err
	}
	in, err := efi.Open[TextInput](r.sys.Boot(), handle, TextInputGuid)
	if err != nil {
		return 0, err
	}
	key, status := in.ReadKeyStroke()
	if err := status.Err(); err != nil {
		return 0, err
	}
	if key == '\r' {
		key = '\n'
	}
	return utf8.EncodeRune(p, key), nil
}

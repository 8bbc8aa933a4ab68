package loopback

import (
	"io"
	"strings"

	"github.com/efibridge/efibridge/efi"
	"github.com/efibridge/efibridge/stdio"
)

// console adapts an io.Writer into the firmware text-output
// capability.
type console struct {
	w io.Writer
}

func (c *console) OutputString(s string) efi.Status {
	// The console contract uses CRLF line endings, the backing writer
	// wants bare newlines back.
	if _, err := io.WriteString(c.w, strings.ReplaceAll(s, "\r\n", "\n")); err != nil {
		return efi.DeviceError
	}
	return efi.Success
}

// InstallConsole installs a text-output protocol forwarding to w, so
// non-redirected output streams have somewhere to land.
func (fw *Firmware) InstallConsole(w io.Writer) efi.Handle {
	return fw.install(stdio.TextOutputGuid, &console{w: w})
}

package cmd

import (
	"bytes"
	"os"
	"sync"
)

var isWSL = sync.OnceValue(func() bool {
	ver, err := os.ReadFile("/proc/version")
	return err == nil && bytes.Contains(ver, []byte("Microsoft"))
})

// IsConhost returns true if the current terminal is conhost. This indicates
// that it can't deal with multi-byte characters and requires special treatment.
// See https://github.com/overmindtech/cli/issues/388 for detailed analysis.
func IsConhost() bool {
	// Windows Terminal copes fine, even through WSL
	if os.Getenv("WT_SESSION") != "" {
		return false
	}
	return isWSL()
}

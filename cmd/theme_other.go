//go:build !linux

package cmd

// IsConhost is only ever true when running under WSL
func IsConhost() bool {
	return false
}

package transports

import (
	"path/filepath"
	"runtime"
	"slices"
)

// PortPatterns returns the device path globs where USB serial adapters show
// up on the given operating system. Unsupported systems have none.
func PortPatterns(goos string) []string {
	switch goos {
	case "darwin":
		return []string{
			"/dev/tty.usbserial*",
			"/dev/cu.usbserial*",
			"/dev/tty.usbmodem*",
			"/dev/cu.usbmodem*",
		}
	case "linux":
		return []string{"/dev/ttyUSB*", "/dev/ttyACM*"}
	default:
		return nil
	}
}

// ListPorts returns the serial ports present on this machine, sorted and
// without duplicates.
func ListPorts() []string {
	return GlobPorts(PortPatterns(runtime.GOOS))
}

// GlobPorts expands the patterns and returns the sorted, deduplicated union
// of their matches. Malformed patterns are skipped.
func GlobPorts(patterns []string) []string {
	ports := []string{}
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		ports = append(ports, matches...)
	}
	slices.Sort(ports)
	return slices.Compact(ports)
}

// Package logging provides the debug/warning output hook shared by the
// scheduler, motion, and state packages. No repo in the retrieval pack
// pulls in a third-party logging library; this follows the teacher's own
// core/debug.go pattern of a single package-level writer function platform
// code installs, retargeted here from MCU timer events to host scheduler
// events (DMA drift, bound clamping, unrecognized opcodes).
package logging

import "fmt"

// Writer receives a fully formatted log line (no trailing newline).
type Writer func(string)

var (
	writer  Writer = func(string) {} // no-op until installed
	enabled bool
)

// SetWriter installs the platform output sink, e.g. writing to stderr.
func SetWriter(w Writer) {
	if w == nil {
		w = func(string) {}
	}
	writer = w
}

// SetEnabled turns Debug output on or off. Warn always fires regardless,
// matching the teacher's split between always-on timing capture and
// opt-in debug printing.
func SetEnabled(v bool) { enabled = v }

// Debugf writes a debug-level line if debug output is enabled.
func Debugf(format string, args ...any) {
	if !enabled {
		return
	}
	writer("[debug] " + fmt.Sprintf(format, args...))
}

// Warnf always writes a warning-level line, for conditions the spec's
// error table says to log and continue from (DMA clock drift) rather than
// fail on. Clamped bounds are logged through Debugf.
func Warnf(format string, args ...any) {
	writer("[warn] " + fmt.Sprintf(format, args...))
}

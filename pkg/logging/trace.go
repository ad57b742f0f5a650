package logging

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Wire tracing is separate from the log level so byte-level dumps can be
// switched on without drowning the rest of the daemon in debug output.

var traceEnabled int32

// SetTraceEnabled turns wire tracing on or off.
func SetTraceEnabled(on bool) {
	if on {
		atomic.StoreInt32(&traceEnabled, 1)
	} else {
		atomic.StoreInt32(&traceEnabled, 0)
	}
}

// TraceEnabled reports whether wire tracing is on.
func TraceEnabled() bool {
	return atomic.LoadInt32(&traceEnabled) == 1
}

// Tracef logs a wire-level trace message if tracing is enabled. Trace output
// bypasses the level filter since it has its own switch.
func Tracef(component, format string, args ...interface{}) {
	if !TraceEnabled() {
		return
	}
	sinkMu.Lock()
	defer sinkMu.Unlock()
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(sinkOut, "%s [TRACE] [%s] %s\n",
		time.Now().Format("2006-01-02 15:04:05.000"), component, msg)
}

// DumpBytes renders a byte slice for trace output. Printable ASCII is shown
// as-is, everything else as hex escapes, truncated past maxLen.
func DumpBytes(data []byte, maxLen int) string {
	var b strings.Builder
	n := len(data)
	if maxLen > 0 && n > maxLen {
		n = maxLen
	}
	for _, c := range data[:n] {
		if c >= 0x20 && c < 0x7f {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "\\x%02x", c)
		}
	}
	if n < len(data) {
		fmt.Fprintf(&b, "...(%d bytes)", len(data))
	}
	return b.String()
}

package logging

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// writeLog is the unified internal logging function that handles all output.
// Diagnostic output goes to stderr so it never interleaves with the rendered
// explanation on stdout. Fields are emitted in sorted key order.
func (l *Logger) writeLog(level, msg string, fields map[string]interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s: %s", GetTimestamp(), level, l.name, msg)

	if len(fields) > 0 {
		b.WriteString(" |")
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}

	fmt.Fprintln(os.Stderr, b.String())
}

// logf is the internal logging function for formatted messages
func (l *Logger) logf(level, msg string, args ...interface{}) {
	l.writeLog(level, fmt.Sprintf(msg, args...), l.fields)
}

// logWithFields logs a message with structured fields merged over the
// logger's persistent fields (method fields win).
func (l *Logger) logWithFields(level, msg string, fields ...LogField) {
	merged := cloneFields(l.fields)
	for _, f := range fields {
		merged[f.Key] = f.Value
	}
	l.writeLog(level, msg, merged)
}

// GetTimestamp returns a formatted timestamp.
// Uses RFC3339 format for sortability and timezone awareness.
// Can be overridden via LOG_TIMESTAMP env var for testing.
func GetTimestamp() string {
	if override := os.Getenv("LOG_TIMESTAMP"); override != "" {
		return override
	}
	return time.Now().Format(time.RFC3339)
}

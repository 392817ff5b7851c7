// Package logger provides leveled printf-style logging for the service.
// Messages below the configured level are dropped.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu         sync.RWMutex
	level      = LevelInfo
	output     io.Writer = os.Stderr
	timestamps = true
)

// ParseLevel maps a config string to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// SetLevel sets the minimum level that is written.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// SetOutput sets the output writer. Defaults to os.Stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

// SetTimestamps toggles the RFC3339 prefix. Tests turn it off.
func SetTimestamps(on bool) {
	mu.Lock()
	defer mu.Unlock()
	timestamps = on
}

// Enabled reports whether messages at l are written.
func Enabled(l Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return l >= level
}

func write(l Level, tag, format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if l < level {
		return
	}
	prefix := ""
	if timestamps {
		prefix = time.Now().UTC().Format(time.RFC3339) + " "
	}
	fmt.Fprintf(output, prefix+"["+tag+"] "+format+"\n", args...)
}

func Debug(format string, args ...any) { write(LevelDebug, "DEBUG", format, args...) }

func Info(format string, args ...any) { write(LevelInfo, "INFO", format, args...) }

func Warn(format string, args ...any) { write(LevelWarn, "WARN", format, args...) }

func Error(format string, args ...any) { write(LevelError, "ERROR", format, args...) }

// Section prints a section header at debug level.
func Section(name string) {
	mu.RLock()
	defer mu.RUnlock()
	if LevelDebug < level {
		return
	}
	fmt.Fprintf(output, "\n=== %s ===\n", name)
}

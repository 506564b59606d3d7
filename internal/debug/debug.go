// Package debug provides opt-in diagnostic output gated by STORYSYNC_DEBUG or
// the --verbose flag, plus quiet-mode aware operator output.
package debug

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	enabled     = os.Getenv("STORYSYNC_DEBUG") != ""
	verboseMode = false
	quietMode   = false
	logMutex    sync.Mutex
)

func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// SetQuiet enables quiet mode (suppress non-essential output)
func SetQuiet(quiet bool) {
	quietMode = quiet
}

// IsQuiet returns true if quiet mode is enabled
func IsQuiet() bool {
	return quietMode
}

// Logf writes to stderr when debugging is enabled. A trailing newline is
// added if the format lacks one.
func Logf(format string, args ...interface{}) {
	if !(enabled || verboseMode) {
		return
	}
	if len(format) == 0 || format[len(format)-1] != '\n' {
		format += "\n"
	}
	fmt.Fprintf(os.Stderr, format, args...)
}

// PrintNormal prints output unless quiet mode is enabled
func PrintNormal(format string, args ...interface{}) {
	if !quietMode {
		fmt.Printf(format, args...)
	}
}

// PrintlnNormal prints a line unless quiet mode is enabled
func PrintlnNormal(args ...interface{}) {
	if !quietMode {
		fmt.Println(args...)
	}
}

// NewLogger returns a structured logger writing text records to w. Debug
// records are emitted only when debugging is enabled.
func NewLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if Enabled() {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// LogEvent appends a run event to .storysync/events.log in the nearest
// project root. Format: TIMESTAMP|EVENT_CODE|SUBJECT|DETAILS
// Outside a project it does nothing.
func LogEvent(eventCode, subject, details string) {
	projectRoot, err := findProjectRoot()
	if err != nil {
		return
	}
	logPath := filepath.Join(projectRoot, ".storysync", "events.log")

	if subject == "" {
		subject = "none"
	}
	timestamp := time.Now().UTC().Format(time.RFC3339)
	entry := fmt.Sprintf("%s|%s|%s|%s\n", timestamp, eventCode, subject, details)

	logMutex.Lock()
	defer logMutex.Unlock()

	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		// Event logging never interrupts a run
		return
	}
	defer file.Close()

	_, _ = file.WriteString(entry)
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if info, err := os.Stat(filepath.Join(dir, ".storysync")); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a storysync project")
		}
		dir = parent
	}
}

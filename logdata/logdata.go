// Package logdata creates the dated log files used with --logdir.
package logdata

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const filePrefix = "fwatcher"

// OpenLogFile makes sure path is a directory, creating it if needed, and
// creates a new log file in it named after the current date. The caller
// decides what writes to the file and closes it.
func OpenLogFile(path string) (string, *os.File, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", nil, fmt.Errorf("could not get absolute path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(absPath, 0755); err != nil {
				return "", nil, fmt.Errorf("failed to create log directory: %w", err)
			}
		} else {
			return "", nil, fmt.Errorf("error accessing path: %w", err)
		}
	} else if !info.IsDir() {
		return "", nil, fmt.Errorf("log destination exists but is not a directory: %s", absPath)
	}

	logFile := filepath.Join(absPath, FileName(time.Now()))
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create log file: %w", err)
	}

	return logFile, f, nil
}

// FileName returns a log file name for the given day with a random suffix,
// so runs on the same day never share a file.
func FileName(now time.Time) string {
	return fmt.Sprintf("%s_%s_%s.log", filePrefix, now.Format("20060102"), generateRandomHex(3))
}

func generateRandomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "randerr"
	}
	return hex.EncodeToString(b)
}

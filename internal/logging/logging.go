// Package logging builds the process logger for kvs.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the log destination.
type Options struct {
	// File is the log file path. Empty logs to stderr.
	File string

	// MaxSizeMB is the size at which the file is rotated.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept (0 = all).
	MaxBackups int

	// MaxAgeDays is how long rotated files are kept (0 = forever).
	MaxAgeDays int
}

// Output returns the writer log lines go to. The caller closes it when
// done; closing stderr is a no-op.
func Output(opts Options) (io.WriteCloser, error) {
	if opts.File == "" {
		return nopCloser{os.Stderr}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}, nil
}

// New returns a logger with the given component prefix writing to w,
// e.g. New(w, "kvsync") prefixes lines with "[kvsync] ".
func New(w io.Writer, component string) *log.Logger {
	return log.New(w, "["+component+"] ", log.LstdFlags)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

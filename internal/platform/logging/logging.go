// Package logging builds the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rs/zerolog"
)

type Options struct {
	Level      string
	Pretty     bool
	File       string
	MaxAgeDays int
}

// New returns a logger writing JSON to stdout (console format when Pretty)
// and, when File is set, to a daily-rotated file as well. The returned
// closer releases the file sink and is safe to call when there is none.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	var stdout io.Writer = os.Stdout
	if opts.Pretty {
		stdout = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	if opts.File == "" {
		return zerolog.New(stdout).Level(level).With().Timestamp().Logger(), nopCloser{}, nil
	}

	rl, err := newRotatingFile(opts.File, opts.MaxAgeDays)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	out := zerolog.MultiLevelWriter(stdout, rl)
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), rl, nil
}

// ParseLevel accepts zerolog level names case-insensitively; empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	if level == zerolog.NoLevel {
		return zerolog.InfoLevel, nil
	}
	return level, nil
}

// newRotatingFile rotates daily as <file>.YYYYMMDD and keeps <file> as a
// symlink to the current segment.
func newRotatingFile(path string, maxAgeDays int) (*rotatelogs.RotateLogs, error) {
	if maxAgeDays <= 0 {
		maxAgeDays = 14
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	rl, err := rotatelogs.New(
		path+".%Y%m%d",
		rotatelogs.WithLinkName(path),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithMaxAge(time.Duration(maxAgeDays)*24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("open rotating log file: %w", err)
	}
	return rl, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Package logging builds the process logger. Components receive the logger
// explicitly; nothing here installs a global.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects level and extra sinks.
type Options struct {
	Level string
	// File receives every record at or above Level.
	File string
	// ErrorFile receives error records only.
	ErrorFile string
	// Console defaults to stdout when nil.
	Console io.Writer
}

// New returns a JSON logger and a cleanup func that flushes and closes sinks.
func New(opts Options) (*zap.SugaredLogger, func(), error) {
	level := zap.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.AddSync(console), level)}

	var files []*os.File
	closeFiles := func() {
		for _, f := range files {
			f.Close()
		}
	}
	for _, sink := range []struct {
		path  string
		level zapcore.LevelEnabler
	}{
		{opts.File, level},
		{opts.ErrorFile, zap.ErrorLevel},
	} {
		if sink.path == "" {
			continue
		}
		f, err := openLogFile(sink.path)
		if err != nil {
			closeFiles()
			return nil, nil, err
		}
		files = append(files, f)
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(f), sink.level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	cleanup := func() {
		_ = logger.Sync()
		closeFiles()
	}
	return logger.Sugar(), cleanup, nil
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, nil
}

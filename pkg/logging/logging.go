// Package logging builds the zap loggers shared by the trading core.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options control the root logger.
type Options struct {
	Level       string // debug, info, warn, error
	Development bool
	// ErrorLogDir, when set, receives a daily error_log_YYYYMMDD.txt with warn+ entries.
	ErrorLogDir string
	Now         func() time.Time
}

// New returns the root logger and a cleanup func that syncs and closes files.
func New(opts Options) (*zap.Logger, func(), error) {
	level := zap.NewAtomicLevel()
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, nil, fmt.Errorf("parse log level %q: %w", opts.Level, err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var consoleEnc zapcore.Encoder
	if opts.Development {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEnc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		consoleEnc = zapcore.NewJSONEncoder(encCfg)
	}

	cores := []zapcore.Core{zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stdout), level)}
	closeFn := func() {}

	if opts.ErrorLogDir != "" {
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		path := ErrorLogPath(opts.ErrorLogDir, now())
		if err := os.MkdirAll(opts.ErrorLogDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open error log: %w", err)
		}
		fileEnc := zapcore.NewConsoleEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(fileEnc, zapcore.AddSync(f), zapcore.WarnLevel))
		closeFn = func() { _ = f.Close() }
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	cleanup := func() {
		_ = logger.Sync()
		closeFn()
	}
	return logger, cleanup, nil
}

// ErrorLogPath is the per-day error log file inside dir.
func ErrorLogPath(dir string, day time.Time) string {
	return filepath.Join(dir, "error_log_"+day.Format("20060102")+".txt")
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

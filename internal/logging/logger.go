package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger writes JSON logs to a rotated file under logDir. With console
// set, a human-readable copy goes to stderr as well.
func NewLogger(logDir string, console bool, level zapcore.Level) (*zap.Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(logDir, "voip-monitor.log"),
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	})
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), w, level)
	if console {
		ccfg := zap.NewDevelopmentEncoderConfig()
		ccfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		core = zapcore.NewTee(core, zapcore.NewCore(zapcore.NewConsoleEncoder(ccfg), zapcore.Lock(os.Stderr), level))
	}
	return zap.New(core), nil
}

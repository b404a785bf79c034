package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"time"
)

const timeLayout = "2006-01-02 15:04:05"

// New builds the JSON production logger. Unknown or empty levels fall back to info.
func New(logLevel string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		level = zap.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.Sampling = nil
	config.InitialFields = map[string]interface{}{"app": "poll_ledger"}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(timeLayout))
	}

	return config.Build()
}

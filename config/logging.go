package config

import (
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogWriter is the writer used for application and database logs.
var LogWriter io.Writer = os.Stdout

// InitLogging builds the zap logger writing JSON to stdout and to a rotating
// log file. The returned closer flushes the logger and closes the file.
func InitLogging(s LogSettings) (*zap.Logger, func()) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(s.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	var rotator *lumberjack.Logger
	if s.File != "" {
		if err := os.MkdirAll(filepath.Dir(s.File), os.ModePerm); err == nil {
			rotator = &lumberjack.Logger{
				Filename:   s.File,
				MaxSize:    s.MaxSizeMB,
				MaxBackups: s.MaxBackups,
				Compress:   true,
			}
			sinks = append(sinks, zapcore.AddSync(rotator))
			LogWriter = io.MultiWriter(os.Stdout, rotator)
		}
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.NewMultiWriteSyncer(sinks...),
		level,
	)
	logger := zap.New(core, zap.AddCaller())

	return logger, func() {
		_ = logger.Sync()
		if rotator != nil {
			_ = rotator.Close()
		}
	}
}

// Package log initializes the process-wide logrus logger used by every
// other package (via logrus.WithField/WithFields directly): a rotating
// file sink (gopkg.in/natefinch/lumberjack.v2) fanned out alongside
// stdout through an io.MultiWriter, fed by the `[Service]` section of
// the config file.
package log

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/zhangcong2019/hsf-pipeline/internal/config"
)

// Init configures the standard logrus logger from a ServiceConfig. It is
// safe to call once at process startup, before any other package logs.
func Init(cfg config.ServiceConfig) error {
	level, err := logrus.ParseLevel(cfg.LogSeverity)
	if err != nil {
		return fmt.Errorf("invalid log severity %q: %w", cfg.LogSeverity, err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})

	writers := []io.Writer{os.Stdout}
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return fmt.Errorf("failed to create log dir %q: %w", cfg.LogDir, err)
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.LogDir + "/hsf-pipeline.log",
			MaxSize:    orDefault(cfg.LogMaxSizeMB, 100),
			MaxAge:     orDefault(cfg.LogMaxAgeDays, 30),
			MaxBackups: orDefault(cfg.LogMaxBackups, 5),
			Compress:   true,
		})
	}
	logrus.SetOutput(io.MultiWriter(writers...))

	return nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hashwanthgogineni/gamora-ai/modules/common/config"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// Init - 전역 logrus 설정 (레벨, 포맷, 출력)
func Init(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("log config cannot be nil")
	}
	return Configure(logrus.StandardLogger(), cfg)
}

// Configure - 주어진 logger 인스턴스에 설정 적용
func Configure(l *logrus.Logger, cfg *config.Config) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
		l.Warnf("⚠️  Invalid log level '%s', using 'info'", cfg.LogLevel)
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	case "text":
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: timestampFormat,
			FullTimestamp:   true,
		})
	default:
		return fmt.Errorf("unsupported log format: %s", cfg.LogFormat)
	}

	switch strings.ToLower(cfg.LogOutput) {
	case "stdout":
		l.SetOutput(os.Stdout)
	case "stderr":
		l.SetOutput(os.Stderr)
	case "file":
		if cfg.LogFilePath == "" {
			return fmt.Errorf("LOG_FILE_PATH is required when LOG_OUTPUT=file")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFilePath,
			MaxSize:    cfg.LogMaxSize,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAge,
			Compress:   cfg.LogCompress,
		}
		// debug 레벨에서는 콘솔에도 같이 출력
		if level == logrus.DebugLevel {
			l.SetOutput(io.MultiWriter(os.Stdout, rotator))
		} else {
			l.SetOutput(rotator)
		}
	default:
		return fmt.Errorf("unsupported log output: %s", cfg.LogOutput)
	}
	return nil
}

// ForProject - project_id 필드가 붙은 entry
func ForProject(projectID string) *logrus.Entry {
	return logrus.WithField("project_id", projectID)
}

// ForStep - project_id + step 필드가 붙은 entry
func ForStep(projectID, step string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"project_id": projectID,
		"step":       step,
	})
}

package utils

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

type LogConfig struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"`
	File       string `json:"file" yaml:"file"`
	MaxSize    int    `json:"max_size" yaml:"max_size"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAge     int    `json:"max_age" yaml:"max_age"`
	Compress   bool   `json:"compress" yaml:"compress"`
	Console    bool   `json:"console" yaml:"console"`
}

type Logger struct {
	*logrus.Logger
	fileSink *lumberjack.Logger
}

// NewLogger builds a logrus logger writing to the console, a rotated file,
// or both. Every entry carries service, version and hostname.
func NewLogger(config LogConfig, service, version string) (*Logger, error) {
	config = normalizeLogConfig(config)
	l := &Logger{Logger: logrus.New()}

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if config.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "severity",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
			DisableColors:   config.File != "",
		})
	}

	var writers []io.Writer
	if config.File != "" {
		if err := os.MkdirAll(filepath.Dir(config.File), 0o755); err != nil {
			return nil, err
		}
		l.fileSink = &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}
		writers = append(writers, l.fileSink)
	}
	if config.Console || len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}
	l.SetOutput(io.MultiWriter(writers...))

	if level >= logrus.DebugLevel {
		l.AddHook(&CallerHook{})
	}
	l.AddHook(&ServiceHook{Service: service, Version: version, Hostname: Hostname()})
	return l, nil
}

func normalizeLogConfig(c LogConfig) LogConfig {
	c.Level = strings.ToLower(strings.TrimSpace(c.Level))
	if c.Level == "" {
		c.Level = "info"
	}
	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	if c.Format == "" {
		c.Format = "text"
	}
	if c.MaxSize <= 0 {
		c.MaxSize = 100
	}
	return c
}

func (l *Logger) Rotate() error {
	if l.fileSink == nil {
		return nil
	}
	return l.fileSink.Rotate()
}

func (l *Logger) Close() error {
	if l.fileSink == nil {
		return nil
	}
	return l.fileSink.Close()
}

func (l *Logger) WithScan(scanID, siteURL string) *logrus.Entry {
	return l.WithFields(logrus.Fields{"scan_id": scanID, "site": siteURL})
}

func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.WithField("component", component)
}

type CallerHook struct{}

func (h *CallerHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *CallerHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["caller"]; ok {
		return nil
	}
	for i := 4; i < 30; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "/sirupsen/logrus") || strings.HasSuffix(file, "/pkg/utils/logger.go") {
			continue
		}
		name := ""
		if fn := runtime.FuncForPC(pc); fn != nil {
			name = fn.Name()
			if idx := strings.LastIndex(name, "/"); idx >= 0 {
				name = name[idx+1:]
			}
		}
		entry.Data["caller"] = name + ":" + filepath.Base(file) + ":" + strconv.Itoa(line)
		break
	}
	return nil
}

type ServiceHook struct {
	Service  string
	Version  string
	Hostname string
}

func (h *ServiceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *ServiceHook) Fire(entry *logrus.Entry) error {
	entry.Data["service"] = h.Service
	entry.Data["version"] = h.Version
	entry.Data["hostname"] = h.Hostname
	return nil
}

func Hostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}

func DefaultLogger() *Logger {
	logger, err := NewLogger(LogConfig{Level: "info", Console: true}, "scorelynx", "dev")
	if err != nil {
		return &Logger{Logger: logrus.New()}
	}
	return logger
}

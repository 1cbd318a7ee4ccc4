package utils

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Entry wraps a logrus entry so the domain field helpers stay
// chainable in any order alongside WithError and WithField.
type Entry struct {
	*logrus.Entry
}

func (e *Entry) WithError(err error) *Entry {
	return &Entry{Entry: e.Entry.WithError(err)}
}

func (e *Entry) WithField(key string, value any) *Entry {
	return &Entry{Entry: e.Entry.WithField(key, value)}
}

func (e *Entry) WithChatID(chatID int64) *Entry {
	return e.WithField("chat_id", chatID)
}

func (e *Entry) WithJobID(jobID string) *Entry {
	return e.WithField("job_id", jobID)
}

func (e *Entry) WithComponent(component string) *Entry {
	return e.WithField("component", component)
}

type Logger struct {
	*logrus.Logger
}

func NewLogger(config *Config) (*Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		ForceColors:   true,
	})

	logDir := filepath.Dir(config.LogFilePath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}

	fileLogger := &lumberjack.Logger{
		Filename:   config.LogFilePath,
		MaxSize:    100, // MB
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}

	multiWriter := io.MultiWriter(os.Stdout, fileLogger)
	logger.SetOutput(multiWriter)

	return &Logger{Logger: logger}, nil
}

// NewTestLogger returns a logger that discards everything, for tests.
func NewTestLogger() *Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &Logger{Logger: logger}
}

func (l *Logger) WithError(err error) *Entry {
	return &Entry{Entry: l.Logger.WithError(err)}
}

func (l *Logger) WithField(key string, value any) *Entry {
	return &Entry{Entry: l.Logger.WithField(key, value)}
}

func (l *Logger) WithChatID(chatID int64) *Entry {
	return l.WithField("chat_id", chatID)
}

func (l *Logger) WithJobID(jobID string) *Entry {
	return l.WithField("job_id", jobID)
}

func (l *Logger) WithComponent(component string) *Entry {
	return l.WithField("component", component)
}

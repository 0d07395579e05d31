package ldapmap

import (
	"fmt"

	"go.uber.org/zap"
)

// LogLevel identifies the severity of a buffered log message.
type LogLevel string

const (
	LevelDebug   LogLevel = "DEBUG"
	LevelInfo    LogLevel = "INFO"
	LevelWarning LogLevel = "WARNING"
	LevelError   LogLevel = "ERROR"
)

// LogMessage is one diagnostic message emitted by a node operation.
type LogMessage struct {
	Level LogLevel
	Text  string
}

// ProxyLogger forwards messages to a zap logger while also buffering them,
// so that the outcome of a save or delete can be enumerated by the caller
// after the fact.
type ProxyLogger struct {
	log      *zap.SugaredLogger
	messages []LogMessage
}

// NewProxyLogger wraps the given logger. A nil logger buffers only.
func NewProxyLogger(log *zap.SugaredLogger) *ProxyLogger {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ProxyLogger{log: log}
}

// Messages returns a copy of every buffered message.
func (p *ProxyLogger) Messages() []LogMessage {
	return append([]LogMessage{}, p.messages...)
}

// Flush clears the buffer and returns the messages it held.
func (p *ProxyLogger) Flush() []LogMessage {
	messages := p.messages
	p.messages = nil
	return messages
}

// HasErrors reports whether any buffered message is an error.
func (p *ProxyLogger) HasErrors() bool {
	return p.hasLevel(LevelError)
}

// HasWarnings reports whether any buffered message is a warning.
func (p *ProxyLogger) HasWarnings() bool {
	return p.hasLevel(LevelWarning)
}

func (p *ProxyLogger) hasLevel(level LogLevel) bool {
	for _, m := range p.messages {
		if m.Level == level {
			return true
		}
	}
	return false
}

func (p *ProxyLogger) record(level LogLevel, format string, args ...any) string {
	msg := fmt.Sprintf(format, args...)
	p.messages = append(p.messages, LogMessage{Level: level, Text: msg})
	return msg
}

func (p *ProxyLogger) Debugf(format string, args ...any) {
	p.log.Debug(p.record(LevelDebug, format, args...))
}

func (p *ProxyLogger) Infof(format string, args ...any) {
	p.log.Info(p.record(LevelInfo, format, args...))
}

func (p *ProxyLogger) Warnf(format string, args ...any) {
	p.log.Warn(p.record(LevelWarning, format, args...))
}

func (p *ProxyLogger) Errorf(format string, args ...any) {
	p.log.Error(p.record(LevelError, format, args...))
}

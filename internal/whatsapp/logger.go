package whatsapp

import (
	"strings"

	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLogger adapts the global zap logger to whatsmeow's logging interface.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewLogger returns a whatsmeow logger writing through zap at or above level
// ("debug", "info", "warn", "error"). Unknown levels fall back to warn.
func NewLogger(module, level string) waLog.Logger {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zapcore.WarnLevel
	}
	base := zap.L().WithOptions(zap.IncreaseLevel(lvl)).
		With(zap.String("namespace", "whatsapp")).
		Named(module)
	return &zapLogger{s: base.Sugar()}
}

func (l *zapLogger) Warnf(msg string, args ...interface{})  { l.s.Warnf(msg, args...) }
func (l *zapLogger) Errorf(msg string, args ...interface{}) { l.s.Errorf(msg, args...) }
func (l *zapLogger) Infof(msg string, args ...interface{})  { l.s.Infof(msg, args...) }
func (l *zapLogger) Debugf(msg string, args ...interface{}) { l.s.Debugf(msg, args...) }

func (l *zapLogger) Sub(module string) waLog.Logger {
	return &zapLogger{s: l.s.Named(module)}
}

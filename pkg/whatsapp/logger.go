package whatsapp

import (
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLogger adapts zap to whatsmeow's logger interface.
type zapLogger struct {
	l *zap.SugaredLogger
}

// NewLogger 把 whatsmeow 的日志接到 zap，level 低于配置的直接丢弃
func NewLogger(base *zap.Logger, level string) waLog.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.WarnLevel
	}
	return zapLogger{l: base.Named("whatsmeow").WithOptions(zap.IncreaseLevel(lvl)).Sugar()}
}

func (z zapLogger) Errorf(msg string, args ...interface{}) { z.l.Errorf(msg, args...) }
func (z zapLogger) Warnf(msg string, args ...interface{})  { z.l.Warnf(msg, args...) }
func (z zapLogger) Infof(msg string, args ...interface{})  { z.l.Infof(msg, args...) }
func (z zapLogger) Debugf(msg string, args ...interface{}) { z.l.Debugf(msg, args...) }

func (z zapLogger) Sub(module string) waLog.Logger {
	return zapLogger{l: z.l.Named(module)}
}

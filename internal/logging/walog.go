package logging

import (
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

type waLogger struct {
	base   *zap.Logger
	module string
	s      *zap.SugaredLogger
}

// WhatsApp adapts l to whatsmeow's logger interface. Module names become the
// "module" field; Sub appends to it with a slash.
func WhatsApp(l *zap.Logger, module string) waLog.Logger {
	return &waLogger{
		base:   l,
		module: module,
		s:      l.With(zap.String("module", module)).Sugar(),
	}
}

func (w *waLogger) Debugf(msg string, args ...any) { w.s.Debugf(msg, args...) }
func (w *waLogger) Infof(msg string, args ...any)  { w.s.Infof(msg, args...) }
func (w *waLogger) Warnf(msg string, args ...any)  { w.s.Warnf(msg, args...) }
func (w *waLogger) Errorf(msg string, args ...any) { w.s.Errorf(msg, args...) }

func (w *waLogger) Sub(module string) waLog.Logger {
	return WhatsApp(w.base, w.module+"/"+module)
}

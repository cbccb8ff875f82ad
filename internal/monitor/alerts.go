package monitor

import "go.uber.org/zap"

// AlertSink delivers alert text somewhere an operator will see it.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to a zap logger at warn level.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Send(message string) error {
	if s.Logger != nil {
		s.Logger.Warn("alert", zap.String("message", message))
	}
	return nil
}

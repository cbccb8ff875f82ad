package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pairs-trading-core/internal/events"
	"pairs-trading-core/pkg/logging"
)

// Monitor turns risk rejections on the bus into alerts and counts them.
type Monitor struct {
	Bus     *events.Bus
	Sink    AlertSink
	Metrics *Metrics
	Logger  *zap.Logger
}

// Start consumes the bus until ctx is done. The returned channel closes once
// the consumer has exited.
func (m *Monitor) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	logger := logging.OrNop(m.Logger)
	if m.Bus == nil || m.Sink == nil {
		logger.Warn("monitor not fully configured; skipping")
		close(done)
		return done
	}
	stream, unsub := m.Bus.Subscribe(events.TopicRiskReject, 64)
	go func() {
		defer close(done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				if m.Metrics != nil {
					m.Metrics.IncRiskRejections()
				}
				if err := m.Sink.Send(formatAlert(msg)); err != nil {
					logger.Error("alert delivery failed", zap.Error(err))
				}
			}
		}
	}()
	return done
}

func formatAlert(msg events.Message) string {
	ts := msg.Time.Format(time.RFC3339)
	switch p := msg.Payload.(type) {
	case events.RiskReject:
		return fmt.Sprintf("[%s] risk rejected %s %s %g @ %g: %s", ts, p.Side, p.Symbol, p.Quantity, p.Price, p.Reason)
	case string:
		return "[" + ts + "] " + p
	default:
		return "[" + ts + "] alert triggered"
	}
}

package metrics

import (
	"context"

	"github.com/trusdx/trusdxd/pkg/events"
)

// RunObserver subscribes to the event bus and mirrors daemon events into
// the collectors until the context is cancelled. Commands and audio byte
// counts arrive through direct hooks instead; everything event-shaped is
// handled here so callers wire metrics in one place.
func (m *Metrics) RunObserver(ctx context.Context, bus *events.Bus) {
	ch, cancel := bus.Subscribe(64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.apply(ev)
		}
	}
}

func (m *Metrics) apply(ev events.Event) {
	switch ev.Kind {
	case events.KindStateChange:
		if to, ok := ev.Fields["to"].(string); ok {
			m.SetConnectionState(to)
		}
	case events.KindTXChange:
		if tx, ok := ev.Fields["tx"].(bool); ok {
			m.SetTXActive(tx)
		}
	case events.KindReconnect:
		m.IncReconnect()
	case events.KindLinkError:
		op, ok := ev.Fields["op"].(string)
		if !ok {
			op = "unknown"
		}
		m.IncLinkError(op)
	case events.KindFreqGuard:
		m.IncGuardReject()
	case events.KindPowerLoss:
		m.IncPowerLoss()
	case events.KindAudioLevel:
		if db, ok := ev.Fields["rms_db"].(float64); ok {
			m.SetAudioRMSDB(db)
		}
	}
}

package metrics

import (
	"context"

	"github.com/d2dlab/nearbridge/internal/bridge/events"
)

// InstrumentedPublisher wraps a publisher and counts everything that flows
// through it: events by type and terminal transfers by status.
type InstrumentedPublisher struct {
	next    events.Publisher
	metrics *Metrics
}

// NewInstrumentedPublisher wraps next with metric recording.
func NewInstrumentedPublisher(next events.Publisher, m *Metrics) *InstrumentedPublisher {
	return &InstrumentedPublisher{next: next, metrics: m}
}

func (p *InstrumentedPublisher) record(event events.Event) {
	p.metrics.RecordEvent(string(event.Type()))

	if tr, ok := event.(*events.PayloadTransferEvent); ok && tr.IsTerminal {
		p.metrics.RecordTransfer(tr.Status)
	}
}

func (p *InstrumentedPublisher) Publish(ctx context.Context, event events.Event) error {
	p.record(event)
	return p.next.Publish(ctx, event)
}

func (p *InstrumentedPublisher) PublishAsync(event events.Event) {
	p.record(event)
	p.next.PublishAsync(event)
}

func (p *InstrumentedPublisher) Flush(ctx context.Context) error {
	return p.next.Flush(ctx)
}

func (p *InstrumentedPublisher) Close() error {
	return p.next.Close()
}

package tracker

import (
	"log/slog"

	"github.com/d2dlab/nearbridge/internal/bridge/events"
	"github.com/d2dlab/nearbridge/internal/bridge/provider"
)

// DiscoveryTracker forwards discovery callbacks as events. The stopwatch
// is started when discovery begins so the first found event carries the
// time to discovery.
type DiscoveryTracker struct {
	callbackID string
	watch      *Stopwatch
	builder    *events.Builder
	pub        events.Publisher
	logger     *slog.Logger
}

var _ provider.DiscoveryCallback = (*DiscoveryTracker)(nil)

// NewDiscoveryTracker creates a tracker bound to one callback session.
func NewDiscoveryTracker(callbackID string, watch *Stopwatch, builder *events.Builder, pub events.Publisher, logger *slog.Logger) *DiscoveryTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscoveryTracker{
		callbackID: callbackID,
		watch:      watch,
		builder:    builder,
		pub:        pub,
		logger:     logger,
	}
}

func (t *DiscoveryTracker) OnEndpointFound(endpointID string, info provider.DiscoveredEndpointInfo) {
	// The watch keeps running so every found endpoint carries its own
	// time since discovery started.
	elapsed := t.watch.Elapsed()

	t.logger.Info("endpoint found",
		"callback_id", t.callbackID,
		"endpoint_id", endpointID,
		"endpoint_name", info.EndpointName,
		"service_id", info.ServiceID,
		"elapsed", elapsed,
	)

	t.pub.PublishAsync(t.builder.EndpointFound(t.callbackID, endpointID).
		EndpointName(info.EndpointName).
		ServiceID(info.ServiceID).
		DiscoveryTime(elapsed).
		Build())
}

func (t *DiscoveryTracker) OnEndpointLost(endpointID string) {
	t.logger.Info("endpoint lost",
		"callback_id", t.callbackID,
		"endpoint_id", endpointID,
	)

	t.pub.PublishAsync(t.builder.EndpointLost(t.callbackID, endpointID))
}

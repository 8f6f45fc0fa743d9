package tracker

import (
	"log/slog"

	"github.com/d2dlab/nearbridge/internal/bridge/events"
	"github.com/d2dlab/nearbridge/internal/bridge/provider"
)

// ConnectionTracker forwards connection lifecycle callbacks as events.
// The stopwatch is started when the originating operation begins (request
// connection or start advertising) so the initiated event carries the
// handshake latency. Forwarding never blocks the provider's callback
// goroutine.
type ConnectionTracker struct {
	callbackID string
	watch      *Stopwatch
	builder    *events.Builder
	pub        events.Publisher
	logger     *slog.Logger
}

var _ provider.ConnectionCallback = (*ConnectionTracker)(nil)

// NewConnectionTracker creates a tracker bound to one callback session.
func NewConnectionTracker(callbackID string, watch *Stopwatch, builder *events.Builder, pub events.Publisher, logger *slog.Logger) *ConnectionTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionTracker{
		callbackID: callbackID,
		watch:      watch,
		builder:    builder,
		pub:        pub,
		logger:     logger,
	}
}

func (t *ConnectionTracker) OnConnectionInitiated(endpointID string, info provider.ConnectionInfo) {
	// Only the initiated callback samples the handshake stopwatch. The
	// watch keeps running so a later initiated callback on the same
	// session reads its own elapsed time, not a frozen sample.
	elapsed := t.watch.Elapsed()

	t.logger.Info("connection initiated",
		"callback_id", t.callbackID,
		"endpoint_id", endpointID,
		"endpoint_name", info.EndpointName,
		"incoming", info.Incoming,
		"elapsed", elapsed,
	)

	t.pub.PublishAsync(t.builder.ConnectionInitiated(t.callbackID, endpointID).
		EndpointName(info.EndpointName).
		AuthenticationDigits(info.AuthenticationDigits).
		Incoming(info.Incoming).
		ConnectionTime(elapsed).
		Build())
}

func (t *ConnectionTracker) OnConnectionResult(endpointID string, res provider.ConnectionResolution) {
	t.logger.Info("connection result",
		"callback_id", t.callbackID,
		"endpoint_id", endpointID,
		"status_code", res.StatusCode,
		"success", res.Success,
	)

	t.pub.PublishAsync(t.builder.ConnectionResult(t.callbackID, endpointID).
		Status(res.StatusCode, res.Success).
		Build())
}

func (t *ConnectionTracker) OnDisconnected(endpointID string) {
	t.logger.Info("disconnected",
		"callback_id", t.callbackID,
		"endpoint_id", endpointID,
	)

	t.pub.PublishAsync(t.builder.Disconnected(t.callbackID, endpointID))
}

func (t *ConnectionTracker) OnBandwidthChanged(endpointID string, info provider.BandwidthInfo) {
	t.logger.Info("bandwidth changed",
		"callback_id", t.callbackID,
		"endpoint_id", endpointID,
		"medium", info.Medium.String(),
		"quality", int(info.Quality),
	)

	t.pub.PublishAsync(t.builder.BandwidthChanged(t.callbackID, endpointID).
		UpgradeStatus(info.UpgradeStatus).
		Quality(int(info.Quality)).
		HighBwQuality(info.Quality == provider.QualityHigh).
		Medium(info.Medium).
		Build())
}

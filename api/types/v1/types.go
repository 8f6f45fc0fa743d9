// Package types defines shared API types for the bridge server and its
// driver clients.
package types

// HealthResponse is the response from /api/v1/health
type HealthResponse struct {
	Status string `json:"status"`
	Uptime int64  `json:"uptime"`
}

// StatsResponse is the response from /api/v1/stats
type StatsResponse struct {
	ActiveSessions   int   `json:"active_sessions"`
	ActiveTransfers  int   `json:"active_transfers"`
	EventSubscribers int   `json:"event_subscribers"`
	EventsDropped    int64 `json:"events_dropped"`
	Advertising      bool  `json:"advertising"`
	Discovering      bool  `json:"discovering"`
}

// StartAdvertisingRequest begins advertising the local device.
// Medium selectors follow the wire encoding of the connectivity service.
type StartAdvertisingRequest struct {
	CallbackID    string `json:"callback_id"`
	DeviceName    string `json:"device_name"`
	ServiceID     string `json:"service_id"`
	Medium        int    `json:"medium"`
	UpgradeMedium int    `json:"upgrade_medium"`
}

// StartDiscoveryRequest begins discovering remote advertisers.
type StartDiscoveryRequest struct {
	CallbackID string `json:"callback_id"`
	ServiceID  string `json:"service_id"`
	Medium     int    `json:"medium"`
}

// StopRequest stops advertising or discovery for a callback session.
type StopRequest struct {
	CallbackID string `json:"callback_id"`
}

// RequestConnectionRequest initiates a connection to a discovered endpoint.
type RequestConnectionRequest struct {
	CallbackID          string `json:"callback_id"`
	DeviceName          string `json:"device_name"`
	EndpointID          string `json:"endpoint_id"`
	Medium              int    `json:"medium"`
	UpgradeMedium       int    `json:"upgrade_medium"`
	ConnectionType      int    `json:"connection_type"`
	KeepAliveTimeoutMs  int64  `json:"keep_alive_timeout_ms,omitempty"`
	KeepAliveIntervalMs int64  `json:"keep_alive_interval_ms,omitempty"`
}

// AcceptConnectionRequest accepts a pending connection.
type AcceptConnectionRequest struct {
	CallbackID string `json:"callback_id"`
	EndpointID string `json:"endpoint_id"`
}

// DisconnectRequest tears down one connection.
type DisconnectRequest struct {
	CallbackID string `json:"callback_id"`
	EndpointID string `json:"endpoint_id"`
}

// SendPayloadRequest sends one payload to one or more endpoints.
// Exactly one content source applies per payload type: Data for "bytes",
// FileSizeBytes for "file" (the bridge generates and stages the file),
// StreamSizeBytes for "stream".
type SendPayloadRequest struct {
	CallbackID      string   `json:"callback_id"`
	EndpointIDs     []string `json:"endpoint_ids"`
	Type            string   `json:"type"` // "bytes", "file", "stream"
	Data            []byte   `json:"data,omitempty"`
	FileSizeBytes   int64    `json:"file_size_bytes,omitempty"`
	StreamSizeBytes int64    `json:"stream_size_bytes,omitempty"`
	Copies          int      `json:"copies,omitempty"` // payloads per endpoint, default 1
}

// SendPayloadResponse lists the payload ids assigned to the transfer.
type SendPayloadResponse struct {
	PayloadIDs []int64 `json:"payload_ids"`
}

// CleanupResponse reports how many staged transfer files were removed.
type CleanupResponse struct {
	Removed int `json:"removed"`
}

// EndpointResponse is the response from /api/v1/endpoint
type EndpointResponse struct {
	EndpointID string `json:"endpoint_id"`
}

// OperationResponse acknowledges an operation with no other payload.
type OperationResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

package questauth

import (
	"encoding/json"
	"io"
	"time"

	internalaudit "github.com/lifequest/questauth/internal/audit"
	internalmetrics "github.com/lifequest/questauth/internal/metrics"
)

// Identity is the user payload returned by the identity endpoint. The client
// treats it as opaque; the named fields are decoded for convenience and Raw
// keeps the full document.
type Identity struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`
	Role     string `json:"role,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Decode unmarshals the full identity payload into v.
func (i *Identity) Decode(v any) error {
	return json.Unmarshal(i.Raw, v)
}

func parseIdentity(raw json.RawMessage) (*Identity, error) {
	id := &Identity{Raw: append(json.RawMessage(nil), raw...)}
	if err := json.Unmarshal(raw, id); err != nil {
		return nil, err
	}
	return id, nil
}

// State is a snapshot of the session holder.
type State struct {
	Identity      *Identity
	Loading       bool
	Authenticated bool
}

// SessionInfo describes the stored credentials. Subject and ExpiresAt are read
// from the access token without verification.
type SessionInfo struct {
	HasAccessToken  bool
	HasRefreshToken bool
	Subject         string
	ExpiresAt       time.Time
}

// Event is a session lifecycle record emitted to the configured [EventSink].
type Event = internalaudit.Event

// EventSink receives [Event] values from the client's event dispatcher.
type EventSink = internalaudit.Sink

// NoOpSink is an [EventSink] that discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [EventSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [EventSink] that writes JSON-encoded events to an [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// Session event types.
const (
	EventLogin         = internalaudit.EventLogin
	EventLogout        = internalaudit.EventLogout
	EventRefresh       = internalaudit.EventRefresh
	EventRefreshFailed = internalaudit.EventRefreshFailed
	EventTeardown      = internalaudit.EventTeardown
)

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// MetricID identifies a counter or histogram in the in-process metrics system.
type MetricID = internalmetrics.MetricID

const (
	MetricLoginSuccess    = internalmetrics.MetricLoginSuccess
	MetricLoginFailure    = internalmetrics.MetricLoginFailure
	MetricRefreshSuccess  = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure  = internalmetrics.MetricRefreshFailure
	MetricRefreshJoined   = internalmetrics.MetricRefreshJoined
	MetricReplaySuccess   = internalmetrics.MetricReplaySuccess
	MetricReplayFailure   = internalmetrics.MetricReplayFailure
	MetricAlreadyRetried  = internalmetrics.MetricAlreadyRetried
	MetricTeardown        = internalmetrics.MetricTeardown
	MetricLogout          = internalmetrics.MetricLogout
	MetricIdentitySuccess = internalmetrics.MetricIdentitySuccess
	MetricIdentityFailure = internalmetrics.MetricIdentityFailure
	MetricRefreshLatency  = internalmetrics.MetricRefreshLatency
)

// Metrics holds atomic counters and the optional refresh latency histogram.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a [Metrics] instance. When Enabled is false, all
// operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}

package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server
type Metrics struct {
	// Session metrics
	activeSessions       prometheus.Gauge
	sessionsCreated      prometheus.Counter
	sessionsDisconnected prometheus.Counter
	authRejections       *prometheus.CounterVec
	heartbeatTimeouts    prometheus.Counter

	// Room metrics
	activeRooms prometheus.Gauge

	// Message type metrics
	messagesReceived *prometheus.CounterVec // by message type
	messagesSent     *prometheus.CounterVec // by message type

	// Broadcast metrics
	broadcastFanout   prometheus.Histogram
	broadcastDuration prometheus.Histogram
	deliveryErrors    prometheus.Counter

	// Compression pool metrics
	compressionJobs   prometheus.Counter
	compressionErrors prometheus.Counter
}

// NewMetrics creates a new metrics instance registered on the given
// registerer. Pass prometheus.DefaultRegisterer in production; tests use a
// fresh registry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "roomcast_active_sessions",
				Help: "Current number of authenticated sessions",
			},
		),
		sessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "roomcast_sessions_created_total",
				Help: "Total number of sessions created",
			},
		),
		sessionsDisconnected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "roomcast_sessions_disconnected_total",
				Help: "Total number of sessions disconnected",
			},
		),
		authRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomcast_auth_rejections_total",
				Help: "Total number of rejected connection attempts by reason",
			},
			[]string{"reason"}, // "nickname_in_use", "capacity", "auth_required"
		),
		heartbeatTimeouts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "roomcast_heartbeat_timeouts_total",
				Help: "Total number of sessions force-closed for missing heartbeats",
			},
		),
		activeRooms: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "roomcast_active_rooms",
				Help: "Current number of rooms, defaults included",
			},
		),
		messagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomcast_messages_received_total",
				Help: "Total number of frames received from clients by type",
			},
			[]string{"type"},
		),
		messagesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roomcast_messages_sent_total",
				Help: "Total number of frames sent to clients by type",
			},
			[]string{"type"},
		),
		broadcastFanout: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "roomcast_broadcast_fanout",
				Help:    "Number of recipients per broadcast job",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),
		broadcastDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "roomcast_broadcast_duration_seconds",
				Help:    "Time taken for all deliveries of one broadcast job to settle",
				Buckets: prometheus.DefBuckets,
			},
		),
		deliveryErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "roomcast_delivery_errors_total",
				Help: "Total number of per-recipient broadcast delivery failures",
			},
		),
		compressionJobs: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "roomcast_compression_jobs_total",
				Help: "Total number of completed compression jobs",
			},
		),
		compressionErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "roomcast_compression_errors_total",
				Help: "Total number of failed compression jobs",
			},
		),
	}
}

// RecordActiveSessions updates the active session count
func (m *Metrics) RecordActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

// RecordSessionCreated increments the session creation counter
func (m *Metrics) RecordSessionCreated() {
	m.sessionsCreated.Inc()
}

// RecordSessionDisconnected increments the session disconnection counter
func (m *Metrics) RecordSessionDisconnected() {
	m.sessionsDisconnected.Inc()
}

// RecordAuthRejection increments the rejection counter for a reason
func (m *Metrics) RecordAuthRejection(reason string) {
	m.authRejections.WithLabelValues(reason).Inc()
}

// RecordHeartbeatTimeout increments the heartbeat timeout counter
func (m *Metrics) RecordHeartbeatTimeout() {
	m.heartbeatTimeouts.Inc()
}

// RecordActiveRooms updates the room count
func (m *Metrics) RecordActiveRooms(count int) {
	m.activeRooms.Set(float64(count))
}

// RecordMessageReceived increments the frame received counter for a type
func (m *Metrics) RecordMessageReceived(messageType string) {
	m.messagesReceived.WithLabelValues(messageType).Inc()
}

// RecordMessageSent increments the frame sent counter for a type
func (m *Metrics) RecordMessageSent(messageType string) {
	m.messagesSent.WithLabelValues(messageType).Inc()
}

// RecordBroadcast records the fanout and duration of one settled job
func (m *Metrics) RecordBroadcast(fanout int, durationSeconds float64) {
	m.broadcastFanout.Observe(float64(fanout))
	m.broadcastDuration.Observe(durationSeconds)
}

// RecordDeliveryError increments the per-recipient failure counter
func (m *Metrics) RecordDeliveryError() {
	m.deliveryErrors.Inc()
}

// RecordCompressionJob increments the completed compression job counter
func (m *Metrics) RecordCompressionJob() {
	m.compressionJobs.Inc()
}

// RecordCompressionError increments the failed compression job counter
func (m *Metrics) RecordCompressionError() {
	m.compressionErrors.Inc()
}

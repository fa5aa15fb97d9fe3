package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebSocketConnectionsTotal is the gauge of active WebSocket sessions.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cfduel_websocket_connections_total",
		Help: "Total number of active WebSocket sessions",
	})

	// WebSocketRoomSubscribers is the gauge of subscribers per room topic.
	WebSocketRoomSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cfduel_websocket_room_subscribers",
		Help: "Number of WebSocket subscribers per room topic",
	}, []string{"room_code"})

	// WebSocketEventsTotal counts outbound WebSocket events by type.
	WebSocketEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cfduel_websocket_events_total",
		Help: "Total outbound WebSocket events by type",
	}, []string{"event_type"})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cfduel_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// JudgeRequestsTotal counts judge API calls by endpoint and outcome.
	JudgeRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cfduel_judge_requests_total",
		Help: "Total judge API requests by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	// JudgeRequestLatency records judge API call latency by endpoint.
	JudgeRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cfduel_judge_request_latency_seconds",
		Help:    "Judge API request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	// GamesStartedTotal counts games started.
	GamesStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cfduel_games_started_total",
		Help: "Total games started",
	})

	// GamesFinalizedTotal counts games finalized, by trigger.
	GamesFinalizedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cfduel_games_finalized_total",
		Help: "Total games finalized by trigger (timer, restart)",
	}, []string{"trigger"})

	// GraceTicketsTotal counts grace tickets by outcome (expired, cancelled).
	GraceTicketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cfduel_grace_tickets_total",
		Help: "Total disconnect grace tickets by outcome",
	}, []string{"outcome"})

	// RedisErrors counts Redis errors by operation type.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cfduel_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})
)

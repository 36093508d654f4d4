package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dennisdiepolder/kpiboard/internal/types"
)

// Metrics holds all application metrics
type Metrics struct {
	mu sync.RWMutex

	// Change event metrics
	ChangesReceivedTotal   int64
	ChangesProcessedTotal  int64
	ChangeProcessingErrors int64

	// WebSocket metrics
	WebSocketConnectionsTotal    int64
	WebSocketDisconnectionsTotal int64
	WebSocketMessagesTotal       int64
	WebSocketErrorsTotal         int64
	activeConnections            int64

	// Recompute metrics
	RecomputeRunsTotal       int64
	RecomputeSupersededTotal int64
	RecomputeErrorsTotal     int64
	AgentFetchErrorsTotal    int64
	LeaderboardsBroadcast    int64
	lastRecomputeDuration    time.Duration
	lastRankedAgents         int

	// Write metrics
	TaskEntriesTotal    int64
	RejectedWritesTotal int64
	rejectedByKind      map[string]int64

	// Roster metrics
	agentsByClient   map[string]int
	agentsByPosition map[string]int
	totalAgents      int

	// HTTP metrics
	httpRequestsTotal    map[string]map[int]int64 // endpoint -> status -> count
	httpRequestDurations map[string][]float64     // endpoint -> durations

	// Timing
	startTime time.Time
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			rejectedByKind:       make(map[string]int64),
			agentsByClient:       make(map[string]int),
			agentsByPosition:     make(map[string]int),
			httpRequestsTotal:    make(map[string]map[int]int64),
			httpRequestDurations: make(map[string][]float64),
			startTime:            time.Now(),
		}
	})
	return instance
}

// RecordChangeReceived increments the change events received counter
func (m *Metrics) RecordChangeReceived() {
	m.mu.Lock()
	m.ChangesReceivedTotal++
	m.mu.Unlock()
}

// RecordChangeProcessed increments the change events processed counter
func (m *Metrics) RecordChangeProcessed() {
	m.mu.Lock()
	m.ChangesProcessedTotal++
	m.mu.Unlock()
}

// RecordChangeError increments the change processing error counter
func (m *Metrics) RecordChangeError() {
	m.mu.Lock()
	m.ChangeProcessingErrors++
	m.mu.Unlock()
}

// RecordWebSocketConnect increments connection counters
func (m *Metrics) RecordWebSocketConnect() {
	m.mu.Lock()
	m.WebSocketConnectionsTotal++
	m.activeConnections++
	m.mu.Unlock()
}

// RecordWebSocketDisconnect increments disconnection counter
func (m *Metrics) RecordWebSocketDisconnect() {
	m.mu.Lock()
	m.WebSocketDisconnectionsTotal++
	m.activeConnections--
	m.mu.Unlock()
}

// RecordWebSocketMessage increments message counter
func (m *Metrics) RecordWebSocketMessage() {
	m.mu.Lock()
	m.WebSocketMessagesTotal++
	m.mu.Unlock()
}

// RecordWebSocketError increments WebSocket error counter
func (m *Metrics) RecordWebSocketError() {
	m.mu.Lock()
	m.WebSocketErrorsTotal++
	m.mu.Unlock()
}

// RecordRecompute records a committed leaderboard pass
func (m *Metrics) RecordRecompute(duration time.Duration, ranked int) {
	m.mu.Lock()
	m.RecomputeRunsTotal++
	m.lastRecomputeDuration = duration
	m.lastRankedAgents = ranked
	m.mu.Unlock()
}

// RecordRecomputeSuperseded counts a pass whose result was dropped because a
// newer pass for the same month had started
func (m *Metrics) RecordRecomputeSuperseded() {
	m.mu.Lock()
	m.RecomputeSupersededTotal++
	m.mu.Unlock()
}

// RecordRecomputeError increments the failed pass counter
func (m *Metrics) RecordRecomputeError() {
	m.mu.Lock()
	m.RecomputeErrorsTotal++
	m.mu.Unlock()
}

// RecordAgentFetchError counts an agent left out of a pass
func (m *Metrics) RecordAgentFetchError() {
	m.mu.Lock()
	m.AgentFetchErrorsTotal++
	m.mu.Unlock()
}

// RecordLeaderboardBroadcast counts a leaderboard pushed to websocket clients
func (m *Metrics) RecordLeaderboardBroadcast() {
	m.mu.Lock()
	m.LeaderboardsBroadcast++
	m.mu.Unlock()
}

// RecordTaskEntries adds to the submitted task entries counter
func (m *Metrics) RecordTaskEntries(n int) {
	m.mu.Lock()
	m.TaskEntriesTotal += int64(n)
	m.mu.Unlock()
}

// RecordRejectedWrite counts a write refused by validation or authorization
func (m *Metrics) RecordRejectedWrite(kind string) {
	m.mu.Lock()
	m.RejectedWritesTotal++
	m.rejectedByKind[kind]++
	m.mu.Unlock()
}

// UpdateRosterStats updates agent distribution metrics
func (m *Metrics) UpdateRosterStats(agents []types.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Reset counts
	m.agentsByClient = make(map[string]int)
	m.agentsByPosition = make(map[string]int)
	m.totalAgents = 0

	for _, agent := range agents {
		if agent.IsAdmin() {
			continue
		}
		m.totalAgents++
		m.agentsByClient[agent.DisplayClient()]++
		m.agentsByPosition[agent.Position]++
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint string, statusCode int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.httpRequestsTotal[endpoint] == nil {
		m.httpRequestsTotal[endpoint] = make(map[int]int64)
	}
	m.httpRequestsTotal[endpoint][statusCode]++

	// Keep last 100 durations for percentile calculation
	if len(m.httpRequestDurations[endpoint]) >= 100 {
		m.httpRequestDurations[endpoint] = m.httpRequestDurations[endpoint][1:]
	}
	m.httpRequestDurations[endpoint] = append(m.httpRequestDurations[endpoint], duration.Seconds())
}

// Snapshot returns the recompute counters (runs, superseded, errors)
func (m *Metrics) Snapshot() (runs, superseded, errors int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RecomputeRunsTotal, m.RecomputeSupersededTotal, m.RecomputeErrorsTotal
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		defer m.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		// Helper to write metric
		write := func(name string, value interface{}, labels ...string) {
			labelStr := ""
			if len(labels) > 0 {
				labelStr = "{"
				for i := 0; i < len(labels); i += 2 {
					if i > 0 {
						labelStr += ","
					}
					labelStr += labels[i] + "=\"" + labels[i+1] + "\""
				}
				labelStr += "}"
			}

			switch v := value.(type) {
			case int:
				w.Write([]byte(name + labelStr + " " + strconv.Itoa(v) + "\n"))
			case int64:
				w.Write([]byte(name + labelStr + " " + strconv.FormatInt(v, 10) + "\n"))
			case float64:
				w.Write([]byte(name + labelStr + " " + strconv.FormatFloat(v, 'f', 6, 64) + "\n"))
			}
		}

		// System metrics
		write("kpiboard_uptime_seconds", time.Since(m.startTime).Seconds())

		// Change event metrics
		write("kpiboard_changes_received_total", m.ChangesReceivedTotal)
		write("kpiboard_changes_processed_total", m.ChangesProcessedTotal)
		write("kpiboard_change_processing_errors_total", m.ChangeProcessingErrors)

		// WebSocket metrics
		write("kpiboard_websocket_connections_total", m.WebSocketConnectionsTotal)
		write("kpiboard_websocket_disconnections_total", m.WebSocketDisconnectionsTotal)
		write("kpiboard_websocket_active_connections", m.activeConnections)
		write("kpiboard_websocket_messages_total", m.WebSocketMessagesTotal)
		write("kpiboard_websocket_errors_total", m.WebSocketErrorsTotal)

		// Recompute metrics
		write("kpiboard_recompute_runs_total", m.RecomputeRunsTotal)
		write("kpiboard_recompute_superseded_total", m.RecomputeSupersededTotal)
		write("kpiboard_recompute_errors_total", m.RecomputeErrorsTotal)
		write("kpiboard_recompute_duration_seconds", m.lastRecomputeDuration.Seconds())
		write("kpiboard_recompute_ranked_agents", m.lastRankedAgents)
		write("kpiboard_agent_fetch_errors_total", m.AgentFetchErrorsTotal)
		write("kpiboard_leaderboards_broadcast_total", m.LeaderboardsBroadcast)

		// Write metrics
		write("kpiboard_task_entries_total", m.TaskEntriesTotal)
		write("kpiboard_rejected_writes_total", m.RejectedWritesTotal)
		for kind, count := range m.rejectedByKind {
			write("kpiboard_rejected_writes_by_kind", count, "kind", kind)
		}

		// Roster metrics
		write("kpiboard_agents_total", m.totalAgents)
		for client, count := range m.agentsByClient {
			write("kpiboard_agents_by_client", count, "client", client)
		}
		for position, count := range m.agentsByPosition {
			write("kpiboard_agents_by_position", count, "position", position)
		}

		// HTTP metrics
		for endpoint, statusCodes := range m.httpRequestsTotal {
			for status, count := range statusCodes {
				write("kpiboard_http_requests_total", count, "endpoint", endpoint, "status", strconv.Itoa(status))
			}
		}
	}
}

package types

import "time"

// Band is the coarse performance bucket of an overall score
type Band string

const (
	BandGreat Band = "great"
	BandGood  Band = "good"
	BandOK    Band = "ok"
	BandBad   Band = "bad"
)

// AlertSeverity represents the severity of a row alert
type AlertSeverity string

const (
	SeverityInfo    AlertSeverity = "info"
	SeverityWarning AlertSeverity = "warning"
)

// RowAlert flags a condition worth an admin's attention on a ranking row
type RowAlert struct {
	Rule     string        `json:"rule"`
	Severity AlertSeverity `json:"severity"`
	Message  string        `json:"message"`
}

// RankingRow is the derived performance summary of one agent for one month
type RankingRow struct {
	Rank            int        `json:"rank"`
	AgentID         string     `json:"agentId"`
	Name            string     `json:"name"`
	Client          string     `json:"client"`
	Position        string     `json:"position"`
	TotalTasks      int        `json:"totalTasks"`
	Target          float64    `json:"target"`
	TaskScore       float64    `json:"taskScore"`
	AttendanceScore float64    `json:"attendanceScore"`
	AttitudeScore   float64    `json:"attitudeScore"`
	Overall         float64    `json:"overall"`
	Band            Band       `json:"band"`
	KpiRecorded     bool       `json:"kpiRecorded"`
	Alerts          []RowAlert `json:"alerts,omitempty"`
}

// AgentFailure records an agent whose data could not be loaded during a pass
type AgentFailure struct {
	AgentID string `json:"agentId"`
	Error   string `json:"error"`
}

// Leaderboard is the ranked top rows of a month
type Leaderboard struct {
	MonthID    string             `json:"month"`
	Rows       []RankingRow       `json:"rows"`
	Failures   []AgentFailure     `json:"failures,omitempty"`
	Weights    PerformanceWeights `json:"weights"`
	Ranked     int                `json:"ranked"` // agents scored before truncation
	ComputedAt time.Time          `json:"computedAt"`
}

// LeaderboardMessage is pushed to dashboard clients over the websocket
type LeaderboardMessage struct {
	Type        string      `json:"type"` // always "leaderboard"
	Leaderboard Leaderboard `json:"leaderboard"`
}

// ChangeKind identifies which store document changed
type ChangeKind string

const (
	ChangeRoster  ChangeKind = "roster"
	ChangeWeights ChangeKind = "weights"
	ChangeTargets ChangeKind = "targets"
	ChangeKpi     ChangeKind = "kpi"
	ChangeTasks   ChangeKind = "tasks"
)

// ChangeEvent notifies subscribers that a store document changed. Subscribers
// re-read the full document rather than applying a diff.
type ChangeEvent struct {
	Kind    ChangeKind `json:"kind"`
	AgentID string     `json:"agentId,omitempty"`
	MonthID string     `json:"month,omitempty"`
	DayID   string     `json:"day,omitempty"`
	At      time.Time  `json:"at"`
}

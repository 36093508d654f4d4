package types

import "time"

// Role represents the access role of a dashboard user
type Role string

const (
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

// UnassignedClient is the client label used when an agent has no client affiliation
const UnassignedClient = "Unassigned"

// Agent is a tracked worker (or an admin) known to the dashboard
type Agent struct {
	AgentID   string    `json:"agentId" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Email     string    `json:"email,omitempty" bson:"email,omitempty"`
	Client    string    `json:"client" bson:"client"`
	Position  string    `json:"position" bson:"position"`
	Role      Role      `json:"role" bson:"role"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// EffectiveRole returns the agent's role, defaulting to agent when unset
func (a Agent) EffectiveRole() Role {
	if a.Role == "" {
		return RoleAgent
	}
	return a.Role
}

// IsAdmin reports whether the agent has the admin role
func (a Agent) IsAdmin() bool {
	return a.EffectiveRole() == RoleAdmin
}

// DisplayClient returns the client affiliation, or "Unassigned" when empty
func (a Agent) DisplayClient() string {
	if a.Client == "" {
		return UnassignedClient
	}
	return a.Client
}

// PositionTargetTable maps a position name to its monthly task target
type PositionTargetTable map[string]float64

// Clone returns a copy of the table
func (t PositionTargetTable) Clone() PositionTargetTable {
	out := make(PositionTargetTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// PerformanceWeights holds the category weights (percentages) of the overall score
type PerformanceWeights struct {
	Task       float64 `json:"task" bson:"task"`
	Attendance float64 `json:"attendance" bson:"attendance"`
	Attitude   float64 `json:"attitude" bson:"attitude"`
}

// Sum returns the total of the three weights
func (w PerformanceWeights) Sum() float64 {
	return w.Task + w.Attendance + w.Attitude
}

// WeightsDocument is the stored form of the weights settings. Fields are
// optional so that absent values can be told apart from zero. The flat
// Weight* fields are the legacy layout.
type WeightsDocument struct {
	Weights          *WeightsFields `json:"weights,omitempty" bson:"weights,omitempty"`
	WeightTask       *float64       `json:"weightTask,omitempty" bson:"weightTask,omitempty"`
	WeightAttendance *float64       `json:"weightAttendance,omitempty" bson:"weightAttendance,omitempty"`
	WeightAttitude   *float64       `json:"weightAttitude,omitempty" bson:"weightAttitude,omitempty"`
	UpdatedAt        time.Time      `json:"updatedAt,omitempty" bson:"updatedAt,omitempty"`
	UpdatedBy        string         `json:"updatedBy,omitempty" bson:"updatedBy,omitempty"`
}

// WeightsFields is the nested weights object of a WeightsDocument
type WeightsFields struct {
	Task       *float64 `json:"task,omitempty" bson:"task,omitempty"`
	Attendance *float64 `json:"attendance,omitempty" bson:"attendance,omitempty"`
	Attitude   *float64 `json:"attitude,omitempty" bson:"attitude,omitempty"`
}

// TaskEntry is a single task submission inside a day record
type TaskEntry struct {
	ID            string    `json:"id" bson:"id"`
	Activity      string    `json:"activity" bson:"activity"`
	Key           string    `json:"key" bson:"key"`
	Count         int       `json:"count" bson:"count"`
	Difficulty    string    `json:"difficulty" bson:"difficulty"`
	DifficultyKey string    `json:"difficultyKey" bson:"difficultyKey"`
	CreatedAt     time.Time `json:"createdAt" bson:"createdAt"`
}

// DailyTaskRecord holds all task submissions of one agent for one calendar day
type DailyTaskRecord struct {
	AgentID     string         `json:"agentId" bson:"agentId"`
	DayID       string         `json:"date" bson:"date"`
	MonthID     string         `json:"month" bson:"month"`
	Total       int            `json:"total" bson:"total"`
	PerActivity map[string]int `json:"perActivity" bson:"perActivity"`
	Entries     []TaskEntry    `json:"entries" bson:"entries"`
	Revision    int64          `json:"revision" bson:"revision"`
	UpdatedAt   time.Time      `json:"updatedAt" bson:"updatedAt"`
}

// MonthlyKpiRecord holds the admin-entered attendance and attitude inputs of
// one agent for one month
type MonthlyKpiRecord struct {
	AgentID        string    `json:"agentId" bson:"agentId"`
	MonthID        string    `json:"month" bson:"month"`
	WorkingDays    int       `json:"workingDays" bson:"workingDays"`
	WorkedDays     int       `json:"workedDays" bson:"workedDays"`
	LateMinutes    int       `json:"lateMinutes" bson:"lateMinutes"`
	AttitudePoints float64   `json:"attitudePoints" bson:"attitudePoints"`
	// AttendancePoints is the precomputed attendance score of legacy records
	AttendancePoints *float64  `json:"attendancePoints,omitempty" bson:"attendancePoints,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt" bson:"updatedAt"`
	UpdatedBy        string    `json:"updatedBy,omitempty" bson:"updatedBy,omitempty"`
}

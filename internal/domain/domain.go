package domain

// DateLayout is the calendar-date format used for due dates and the "today" argument.
const DateLayout = "2006-01-02"

type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusDanger  Status = "danger"
)

type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

type Direction string

const (
	HigherIsBetter Direction = "higher_is_better"
	LowerIsBetter  Direction = "lower_is_better"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Level is shared by action priority and problem severity.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Rank orders levels low < medium < high; unknown levels rank below low.
func (l Level) Rank() int {
	switch l {
	case LevelHigh:
		return 3
	case LevelMedium:
		return 2
	case LevelLow:
		return 1
	}
	return 0
}

type ActionStatus string

const (
	ActionTodo       ActionStatus = "todo"
	ActionInProgress ActionStatus = "in_progress"
	ActionDone       ActionStatus = "done"
)

type ProblemStatus string

const (
	ProblemOpen       ProblemStatus = "open"
	ProblemInProgress ProblemStatus = "in_progress"
	ProblemResolved   ProblemStatus = "resolved"
)

type WorkstationStatus string

const (
	WorkstationOperational WorkstationStatus = "operational"
	WorkstationMaintenance WorkstationStatus = "maintenance"
	WorkstationDown        WorkstationStatus = "down"
)

// Sample is one recorded KPI value.
type Sample struct {
	At         string  `json:"at" format:"date-time"`
	Value      float64 `json:"value"`
	RecordedBy string  `json:"recorded_by,omitempty"`
}

type KPI struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Category      string    `json:"category"`
	CurrentValue  float64   `json:"current_value"`
	TargetValue   float64   `json:"target_value"`
	Unit          string    `json:"unit"`
	Direction     Direction `json:"direction" enum:"higher_is_better,lower_is_better"`
	Tolerance     float64   `json:"tolerance"`
	WarningBand   *float64  `json:"warning_band,omitempty"`
	Status        Status    `json:"status" enum:"success,warning,danger"`
	Trend         Trend     `json:"trend" enum:"up,down,stable"`
	Frequency     Frequency `json:"frequency" enum:"daily,weekly,monthly"`
	History       []Sample  `json:"history,omitempty"`
	WorkstationID *string   `json:"workstation_id,omitempty"`
	CreatedAt     string    `json:"created_at" format:"date-time"`
	UpdatedAt     string    `json:"updated_at" format:"date-time"`
}

type Action struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	Description   string       `json:"description,omitempty"`
	Priority      Level        `json:"priority" enum:"low,medium,high"`
	Status        ActionStatus `json:"status" enum:"todo,in_progress,done"`
	Category      string       `json:"category"`
	DueDate       string       `json:"due_date" format:"date"`
	Assignee      string       `json:"assignee,omitempty"`
	WorkstationID *string      `json:"workstation_id,omitempty"`
	CreatedAt     string       `json:"created_at" format:"date-time"`
	UpdatedAt     string       `json:"updated_at" format:"date-time"`
	CompletedAt   *string      `json:"completed_at,omitempty" format:"date-time"`
}

type Problem struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Description   string        `json:"description,omitempty"`
	Category      string        `json:"category"`
	Severity      Level         `json:"severity" enum:"low,medium,high"`
	Status        ProblemStatus `json:"status" enum:"open,in_progress,resolved"`
	Escalated     bool          `json:"escalated"`
	EscalatedAt   *string       `json:"escalated_at,omitempty" format:"date-time"`
	WorkstationID *string       `json:"workstation_id,omitempty"`
	Assignee      string        `json:"assignee,omitempty"`
	ReportedBy    string        `json:"reported_by,omitempty"`
	CreatedAt     string        `json:"created_at" format:"date-time"`
	UpdatedAt     string        `json:"updated_at" format:"date-time"`
	ResolvedAt    *string       `json:"resolved_at,omitempty" format:"date-time"`
}

type Category struct {
	ID           string `json:"id"`
	Code         string `json:"code"`
	Name         string `json:"name"`
	Color        string `json:"color,omitempty"`
	DisplayOrder int    `json:"display_order"`
}

type Workstation struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Kind        string            `json:"kind" enum:"machine,station"`
	Status      WorkstationStatus `json:"status" enum:"operational,maintenance,down"`
	Location    string            `json:"location,omitempty"`
	Description string            `json:"description,omitempty"`
	CreatedAt   string            `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Role       string `json:"role"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Facets are the attributes list filters match against.
type Facets struct {
	Category    string
	Priority    string
	Status      string
	Title       string
	Description string
}

func (k KPI) Facets() Facets {
	return Facets{Category: k.Category, Status: string(k.Status), Title: k.Name, Description: k.Description}
}

func (a Action) Facets() Facets {
	return Facets{Category: a.Category, Priority: string(a.Priority), Status: string(a.Status), Title: a.Title, Description: a.Description}
}

func (p Problem) Facets() Facets {
	return Facets{Category: p.Category, Priority: string(p.Severity), Status: string(p.Status), Title: p.Title, Description: p.Description}
}

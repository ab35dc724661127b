package incident

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrIncidentNotFound: no incident has the given id.
	ErrIncidentNotFound = errors.New("incident not found")

	// ErrAlreadyResolved: the incident is already resolved; nothing changed.
	ErrAlreadyResolved = errors.New("incident already resolved")
)

// Status is the lifecycle state. Transitions are one-way: open -> resolved.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"

	// DecisionNoIncident is reported by Detect when nothing opens.
	DecisionNoIncident Status = "no_incident"
)

// Incident is a detected anomaly with lifecycle state.
type Incident struct {
	IncidentID    string         `json:"incident_id"`
	OrderID       string         `json:"order_id"`
	Type          Type           `json:"incident_type"`
	Severity      string         `json:"severity"`
	Status        Status         `json:"status"`
	EtaDeltaHours *float64       `json:"eta_delta_hours"`
	Description   string         `json:"description"`
	CreatedAt     time.Time      `json:"created_at"`
	ResolvedAt    *time.Time     `json:"resolved_at"`
	Metadata      map[string]any `json:"metadata"`
}

// Filter selects incidents. Zero fields match everything; Limit 0 means no
// limit.
type Filter struct {
	Status   Status
	Type     Type
	Severity string
	OrderID  string
	Limit    int
	Offset   int
}

// FormatHours renders hours the way narratives print them: at least one
// decimal place ("4.0", "3.25").
func FormatHours(h float64) string {
	s := strconv.FormatFloat(h, 'f', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

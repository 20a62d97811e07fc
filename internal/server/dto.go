package server

import (
	"encoding/json"

	"shopfloor/internal/domain"
	"shopfloor/internal/stats"
)

// Requests

type KPICreateRequest struct {
	ID            string   `json:"id,omitempty"`
	Name          string   `json:"name" minLength:"1"`
	Description   string   `json:"description,omitempty"`
	Category      string   `json:"category" minLength:"1"`
	CurrentValue  float64  `json:"current_value"`
	TargetValue   float64  `json:"target_value"`
	Unit          string   `json:"unit,omitempty"`
	Direction     string   `json:"direction,omitempty" enum:"higher_is_better,lower_is_better"`
	Tolerance     float64  `json:"tolerance,omitempty"`
	WarningBand   *float64 `json:"warning_band,omitempty"`
	Frequency     string   `json:"frequency,omitempty" enum:"daily,weekly,monthly"`
	WorkstationID string   `json:"workstation_id,omitempty"`
}

type KPIUpdateRequest struct {
	Name          *string  `json:"name,omitempty"`
	Description   *string  `json:"description,omitempty"`
	Category      *string  `json:"category,omitempty"`
	TargetValue   *float64 `json:"target_value,omitempty"`
	Unit          *string  `json:"unit,omitempty"`
	Direction     *string  `json:"direction,omitempty" enum:"higher_is_better,lower_is_better"`
	Tolerance     *float64 `json:"tolerance,omitempty"`
	WarningBand   *float64 `json:"warning_band,omitempty"`
	Frequency     *string  `json:"frequency,omitempty" enum:"daily,weekly,monthly"`
	WorkstationID *string  `json:"workstation_id,omitempty"`
}

type KPIValueRequest struct {
	Value float64 `json:"value"`
}

type ActionCreateRequest struct {
	ID            string `json:"id,omitempty"`
	Title         string `json:"title" minLength:"1"`
	Description   string `json:"description,omitempty"`
	Priority      string `json:"priority,omitempty" enum:"low,medium,high"`
	Category      string `json:"category" minLength:"1"`
	DueDate       string `json:"due_date"`
	Assignee      string `json:"assignee,omitempty"`
	WorkstationID string `json:"workstation_id,omitempty"`
}

type ActionUpdateRequest struct {
	Title         *string `json:"title,omitempty"`
	Description   *string `json:"description,omitempty"`
	Priority      *string `json:"priority,omitempty" enum:"low,medium,high"`
	Category      *string `json:"category,omitempty"`
	DueDate       *string `json:"due_date,omitempty"`
	Assignee      *string `json:"assignee,omitempty"`
	WorkstationID *string `json:"workstation_id,omitempty"`
}

// StatusRequest carries a target status. The value is checked by the
// lifecycle, not the schema, so unknown statuses surface as invalid_transition.
type StatusRequest struct {
	Status string `json:"status" minLength:"1"`
}

type ProblemCreateRequest struct {
	ID            string `json:"id,omitempty"`
	Title         string `json:"title" minLength:"1"`
	Description   string `json:"description,omitempty"`
	Category      string `json:"category" minLength:"1"`
	Severity      string `json:"severity,omitempty" enum:"low,medium,high"`
	WorkstationID string `json:"workstation_id,omitempty"`
	Assignee      string `json:"assignee,omitempty"`
	ReportedBy    string `json:"reported_by,omitempty"`
}

type ProblemUpdateRequest struct {
	Title         *string `json:"title,omitempty"`
	Description   *string `json:"description,omitempty"`
	Category      *string `json:"category,omitempty"`
	Severity      *string `json:"severity,omitempty" enum:"low,medium,high"`
	WorkstationID *string `json:"workstation_id,omitempty"`
	Assignee      *string `json:"assignee,omitempty"`
}

type WorkstationCreateRequest struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name" minLength:"1"`
	Kind        string `json:"kind,omitempty" enum:"machine,station"`
	Status      string `json:"status,omitempty" enum:"operational,maintenance,down"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
}

type CategoryCreateRequest struct {
	Code         string `json:"code" minLength:"1"`
	Name         string `json:"name" minLength:"1"`
	Color        string `json:"color,omitempty"`
	DisplayOrder int    `json:"display_order,omitempty"`
}

type APIKeyCreateRequest struct {
	Role string `json:"role" minLength:"1"`
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	Role    string `json:"role" minLength:"1"`
	Subject string `json:"subject,omitempty"`
}

// Responses

type DevLoginResponse struct {
	Token string `json:"token"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	Key       string `json:"key,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Role       string         `json:"role"`
	Payload    map[string]any `json:"payload"`
}

type ProblemBoardResponse struct {
	Counts stats.ProblemBoard `json:"counts"`
	Open   []domain.Problem   `json:"open"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func apiKeyResponse(k domain.APIKey, plain string) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, Role: k.Role, Name: k.Name, CreatedAt: k.CreatedAt, Key: plain}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Role:       e.Role,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func items[T any](in []T) listResponse[T] {
	if in == nil {
		in = []T{}
	}
	return listResponse[T]{Items: in}
}

package client

import "time"

// Health mirrors the daemon's UP/DOWN state.
type Health struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (h Health) IsUp() bool { return h.Status == "UP" }

type Activity struct {
	Severity  string    `json:"severity"`
	Tag       string    `json:"tag"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Webhook is one registered listener as reported by GET /webhooks.
type Webhook struct {
	DefinitionID string     `json:"definition_id"`
	Version      int        `json:"version"`
	ElementID    string     `json:"element_id"`
	ContextPath  string     `json:"context_path"`
	Type         string     `json:"type"`
	State        string     `json:"state"` // active or queued
	Health       Health     `json:"health"`
	Activities   []Activity `json:"activities"`
}

// PathStatus is the owner and waiting queue of one context path.
type PathStatus struct {
	Path   string    `json:"path"`
	Active *Webhook  `json:"active,omitempty"`
	Queued []Webhook `json:"queued"`
}

// AggregateHealth is the result of GET /webhooks/health.
type AggregateHealth struct {
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Webhooks int    `json:"webhooks"`
}

// ListQuery filters List. Empty fields match anything.
type ListQuery struct {
	Type       string
	Definition string
	Element    string
	Path       string
}

type Element struct {
	ID           string `json:"id"`
	ContextPath  string `json:"context_path"`
	Type         string `json:"type,omitempty"`
	Secret       string `json:"secret,omitempty"`
	SecretHeader string `json:"secret_header,omitempty"`
	Target       string `json:"target,omitempty"`
}

type Definition struct {
	ID       string    `json:"id"`
	Version  int       `json:"version"`
	Source   string    `json:"source,omitempty"`
	Elements []Element `json:"elements"`
}

type ElementResult struct {
	ElementID   string `json:"element_id"`
	ContextPath string `json:"context_path"`
	Outcome     string `json:"outcome"`
	Error       string `json:"error,omitempty"`
}

type DeployResult struct {
	DefinitionID string          `json:"definition_id"`
	Version      int             `json:"version"`
	Elements     []ElementResult `json:"elements"`
	Replaced     []int           `json:"replaced,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

package api

import (
	"time"

	"notescribe/internal/deps"
	"notescribe/internal/history"
	"notescribe/internal/notes"
	"notescribe/internal/transcribe"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Envelope wraps every JSON response.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// AnalysisResponse is the payload of a successful analysis.
type AnalysisResponse struct {
	RequestID  string        `json:"requestId"`
	Source     string        `json:"source,omitempty"`
	SampleRate int           `json:"sampleRate"`
	Duration   float64       `json:"durationSeconds"`
	ElapsedMS  int64         `json:"elapsedMs"`
	Notes      []notes.Event `json:"notes"`
	Warnings   []string      `json:"warnings,omitempty"`
	Stored     bool          `json:"stored"`
}

// HistoryItem describes a stored analysis in a transport-friendly format.
type HistoryItem struct {
	ID         string        `json:"id"`
	Source     string        `json:"source,omitempty"`
	CreatedAt  string        `json:"createdAt,omitempty"`
	SampleRate int           `json:"sampleRate"`
	Duration   float64       `json:"durationSeconds"`
	NoteCount  int           `json:"noteCount"`
	ElapsedMS  int64         `json:"elapsedMs"`
	Notes      []notes.Event `json:"notes,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
}

// HistoryListResponse wraps a collection of stored analyses.
type HistoryListResponse struct {
	Items []HistoryItem `json:"items"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// HealthResponse reports server readiness.
type HealthResponse struct {
	Status         string             `json:"status"`
	HistoryEnabled bool               `json:"historyEnabled"`
	Dependencies   []DependencyStatus `json:"dependencies"`
}

// FromResult converts a pipeline result into its transport form.
func FromResult(res transcribe.Result, source string, sampleRate int, stored bool) AnalysisResponse {
	out := AnalysisResponse{
		RequestID:  res.RequestID,
		Source:     source,
		SampleRate: sampleRate,
		Duration:   res.Duration,
		ElapsedMS:  res.Elapsed.Milliseconds(),
		Notes:      res.Notes,
		Stored:     stored,
	}
	if out.Notes == nil {
		out.Notes = []notes.Event{}
	}
	for _, w := range res.Warnings {
		out.Warnings = append(out.Warnings, w.Message)
	}
	return out
}

// FromHistoryEntry converts a stored entry into its transport form.
func FromHistoryEntry(entry history.Entry) HistoryItem {
	item := HistoryItem{
		ID:         entry.ID,
		Source:     entry.Source,
		SampleRate: entry.SampleRate,
		Duration:   entry.Duration,
		NoteCount:  entry.NoteCount,
		ElapsedMS:  entry.Elapsed.Milliseconds(),
		Notes:      entry.Notes,
		Warnings:   entry.Warnings,
		CreatedAt:  formatTime(entry.CreatedAt),
	}
	return item
}

// FromDependencies converts dependency checks into their transport form.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, len(statuses))
	for i, dep := range statuses {
		out[i] = DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		}
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

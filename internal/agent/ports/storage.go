package ports

import (
	"context"
	"time"
)

// RecordKind classifies durable records written by the engine.
type RecordKind string

const (
	RecordKindToolExecution RecordKind = "tool_execution"
	RecordKindReasoningStep RecordKind = "reasoning_step"
	RecordKindExecution     RecordKind = "execution"
	RecordKindReport        RecordKind = "report"
)

// StoredRecord is one persisted entry.
type StoredRecord struct {
	Kind      RecordKind     `json:"kind"`
	CreatedAt time.Time      `json:"created_at"`
	Payload   map[string]any `json:"payload"`
}

// RecordFilter narrows a query. Zero values match everything. The engine
// assumes only CRUD-with-filter semantics, never a query language.
type RecordFilter struct {
	Kind       RecordKind
	WorkflowID string
	TaskID     string
	Since      time.Time
	Limit      int
}

// Store persists engine records durably. Implemented by the surrounding
// storage layer; the engine treats persistence failures as log-and-continue.
type Store interface {
	Persist(ctx context.Context, kind RecordKind, payload map[string]any) error
	Query(ctx context.Context, filter RecordFilter) ([]StoredRecord, error)
}

type nopStore struct{}

func (nopStore) Persist(context.Context, RecordKind, map[string]any) error { return nil }
func (nopStore) Query(context.Context, RecordFilter) ([]StoredRecord, error) {
	return nil, nil
}

// NopStore returns a store that drops every record.
func NopStore() Store {
	return nopStore{}
}

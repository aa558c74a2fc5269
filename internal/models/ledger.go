package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Action is the kind of a ledger record.
type Action string

const (
	ActionRate         Action = "rate"
	ActionDecay        Action = "decay"
	ActionRevert       Action = "revert"
	ActionUndo         Action = "undo"
	ActionRecommend    Action = "recommend"
	ActionSkip         Action = "skip"
	ActionPlanAdd      Action = "plan-add"
	ActionPlanDefer    Action = "plan-defer"
	ActionEnrich       Action = "enrich"
	ActionRetestServed Action = "retest-served"
	ActionPending      Action = "pending"
	ActionConfirm      Action = "confirm"
	ActionDecline      Action = "decline"
)

// Persisted documents a ledger record can change.
const (
	DocTaste    = "taste"
	DocPlanning = "planning"
	DocSkips    = "skips"
	DocPending  = "pending"
)

// FieldChange is one changed leaf of a document. Old or New is nil when the
// field did not exist on that side.
type FieldChange struct {
	Path []string        `json:"path"`
	Old  json.RawMessage `json:"old,omitempty"`
	New  json.RawMessage `json:"new,omitempty"`
}

// LedgerRecord is one append-only audit entry.
type LedgerRecord struct {
	Seq         int64         `json:"seq"`
	Timestamp   time.Time     `json:"timestamp"`
	SessionID   string        `json:"session_id"`
	Action      Action        `json:"action"`
	Subject     string        `json:"subject"`
	RatingID    string        `json:"rating_id,omitempty"`
	Document    string        `json:"document,omitempty"`
	Version     int64         `json:"version,omitempty"` // document version this record produced
	Changes     []FieldChange `json:"changes,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Context     string        `json:"context,omitempty"`
	Compensates int64         `json:"compensates,omitempty"` // seq of the record this one undoes
	Score       float64       `json:"score,omitempty"`
	Strategy    string        `json:"strategy,omitempty"`
	Trace       []string      `json:"trace,omitempty"`
}

// StateChanging reports whether the record mutated a persisted document.
func (r LedgerRecord) StateChanging() bool {
	return r.Document != "" && len(r.Changes) > 0
}

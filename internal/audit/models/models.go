package models

import "time"

const (
	TableProjectData = "project_data"
	ActionUpdate     = "UPDATE"
)

// Changes is the before/after pair recorded for one mutation, in text form.
type Changes struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// Entry is one immutable audit record. Entries are written in the same
// transaction as the mutation they describe and never edited or deleted.
type Entry struct {
	ID         int64     `json:"id"`
	TableName  string    `json:"table_name"`
	RecordID   int64     `json:"record_id"`
	ActorID    int64     `json:"user_id"`
	ActionType string    `json:"action_type"`
	Changes    Changes   `json:"changes"`
	CreatedAt  time.Time `json:"created_at"`
}

// EntryView is an entry enriched for operational review.
type EntryView struct {
	Entry
	ActorLogin *string `json:"user_login"`
	ClientName *string `json:"client_name"`
}

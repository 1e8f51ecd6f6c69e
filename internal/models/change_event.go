package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Operation is the kind of row mutation carried by a ChangeEvent.
type Operation string

const (
	Insert Operation = "Insert"
	Update Operation = "Update"
	Delete Operation = "Delete"
)

// ParseOperation maps a wire literal back to an Operation.
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case Insert, Update, Delete:
		return Operation(s), nil
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

func (o Operation) MarshalText() ([]byte, error) {
	if _, err := ParseOperation(string(o)); err != nil {
		return nil, err
	}
	return []byte(o), nil
}

func (o *Operation) UnmarshalText(b []byte) error {
	op, err := ParseOperation(string(b))
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// Row maps column names to values.
type Row map[string]interface{}

// ChangeEvent represents one row-level mutation observed in a source database
type ChangeEvent struct {
	ID            uuid.UUID `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Database      string    `json:"database"`
	Table         string    `json:"table"`
	Operation     Operation `json:"operation"`
	Before        Row       `json:"before"`      // present for updates and deletes
	After         Row       `json:"after"`       // present for inserts and updates
	PrimaryKey    Row       `json:"primary_key"` // best effort, see connector docs
	TransactionID *string   `json:"transaction_id"`
}

// NewChangeEvent stamps a fresh identifier and UTC creation time.
func NewChangeEvent(database, table string, op Operation, before, after, primaryKey Row) ChangeEvent {
	if primaryKey == nil {
		primaryKey = Row{}
	}
	return ChangeEvent{
		ID:         uuid.New(),
		Timestamp:  time.Now().UTC(),
		Database:   database,
		Table:      table,
		Operation:  op,
		Before:     before,
		After:      after,
		PrimaryKey: primaryKey,
	}
}

// TopicName returns the sink-agnostic destination for a database table.
func TopicName(database, table string) string {
	return "cdc." + database + "." + table
}

// TopicName returns the sink-agnostic destination for the event.
func (e ChangeEvent) TopicName() string {
	return TopicName(e.Database, e.Table)
}

// Marshal encodes the event into its JSON wire payload.
func (e ChangeEvent) Marshal() ([]byte, error) {
	e.Timestamp = e.Timestamp.UTC()
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", e.ID, err)
	}
	return data, nil
}

// Unmarshal decodes a JSON wire payload. Numbers inside row images come
// back as json.Number so that 64-bit keys keep their exact value.
func Unmarshal(data []byte) (ChangeEvent, error) {
	var e ChangeEvent
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&e); err != nil {
		return ChangeEvent{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return e, nil
}

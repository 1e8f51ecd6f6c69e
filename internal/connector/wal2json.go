package connector

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"cdc-streamer/internal/models"
)

// walChange is one row change decoded from a wal2json entry. afterOrder
// keeps the column order of the post-image as the server sent it.
type walChange struct {
	Kind       string
	Schema     string
	Table      string
	Before     models.Row
	After      models.Row
	AfterOrder []string
	XID        *string
}

type walEntry struct {
	XID    json.Number     `json:"xid"`
	Change json.RawMessage `json:"change"`
}

type walRawChange struct {
	Kind         string          `json:"kind"`
	Schema       string          `json:"schema"`
	Table        string          `json:"table"`
	ColumnNames  []string        `json:"columnnames"`
	ColumnValues json.RawMessage `json:"columnvalues"`
	OldKeys      json.RawMessage `json:"oldkeys"`
}

type walKeys struct {
	KeyNames  []string        `json:"keynames"`
	KeyValues json.RawMessage `json:"keyvalues"`
}

// decodeWal2JSON decodes one entry returned by pg_logical_slot_get_changes.
// It accepts wal2json format 1 ({"xid":..,"change":[...]}) and a single
// change object with images given as JSON objects.
func decodeWal2JSON(data []byte) ([]walChange, error) {
	var entry walEntry
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&entry); err != nil {
		return nil, err
	}

	var xid *string
	if entry.XID != "" {
		s := entry.XID.String()
		xid = &s
	}

	var raws []walRawChange
	switch firstByte(entry.Change) {
	case '[':
		if err := json.Unmarshal(entry.Change, &raws); err != nil {
			return nil, fmt.Errorf("decode change list: %w", err)
		}
	case '{':
		var raw walRawChange
		if err := json.Unmarshal(entry.Change, &raw); err != nil {
			return nil, fmt.Errorf("decode change: %w", err)
		}
		raws = append(raws, raw)
	default:
		return nil, errors.New("entry has no change field")
	}

	changes := make([]walChange, 0, len(raws))
	for i, raw := range raws {
		after, order, err := decodeImage(raw.ColumnNames, raw.ColumnValues)
		if err != nil {
			return nil, fmt.Errorf("change %d: columnvalues: %w", i, err)
		}
		before, err := decodeOldKeys(raw.OldKeys)
		if err != nil {
			return nil, fmt.Errorf("change %d: oldkeys: %w", i, err)
		}
		changes = append(changes, walChange{
			Kind:       raw.Kind,
			Schema:     raw.Schema,
			Table:      raw.Table,
			Before:     before,
			After:      after,
			AfterOrder: order,
			XID:        xid,
		})
	}
	return changes, nil
}

func decodeOldKeys(raw json.RawMessage) (models.Row, error) {
	if firstByte(raw) != '{' {
		return nil, nil
	}
	var keys walKeys
	if err := json.Unmarshal(raw, &keys); err == nil && keys.KeyNames != nil {
		row, _, err := decodeImage(keys.KeyNames, keys.KeyValues)
		return row, err
	}
	row, _, err := decodeImage(nil, raw)
	return row, err
}

// decodeImage builds a row either from parallel name/value arrays or from a
// JSON object. Absent or null images yield a nil row.
func decodeImage(names []string, raw json.RawMessage) (models.Row, []string, error) {
	switch firstByte(raw) {
	case '[':
		var values []interface{}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&values); err != nil {
			return nil, nil, err
		}
		if len(values) != len(names) {
			return nil, nil, fmt.Errorf("%d values for %d columns", len(values), len(names))
		}
		row := make(models.Row, len(names))
		for i, name := range names {
			row[name] = values[i]
		}
		return row, names, nil
	case '{':
		return decodeOrderedObject(raw)
	}
	return nil, nil, nil
}

func decodeOrderedObject(raw json.RawMessage) (models.Row, []string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}

	row := models.Row{}
	var order []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected token %v", tok)
		}
		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return nil, nil, err
		}
		if _, dup := row[key]; !dup {
			order = append(order, key)
		}
		row[key] = value
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	return row, order, nil
}

func firstByte(raw json.RawMessage) byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	return raw[0]
}

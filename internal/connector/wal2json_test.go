package connector

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdc-streamer/internal/models"
)

func TestDecodeWal2JSONFormatOne(t *testing.T) {
	data := `{
		"xid": 1042,
		"change": [
			{
				"kind": "insert",
				"schema": "public",
				"table": "orders",
				"columnnames": ["id", "customer", "total"],
				"columntypes": ["integer", "text", "numeric"],
				"columnvalues": [7, "ann", 12.50]
			},
			{
				"kind": "update",
				"schema": "public",
				"table": "orders",
				"columnnames": ["id", "customer", "total"],
				"columntypes": ["integer", "text", "numeric"],
				"columnvalues": [7, "ann", 13.00],
				"oldkeys": {"keynames": ["id"], "keytypes": ["integer"], "keyvalues": [7]}
			},
			{
				"kind": "delete",
				"schema": "public",
				"table": "orders",
				"oldkeys": {"keynames": ["id"], "keytypes": ["integer"], "keyvalues": [7]}
			}
		]
	}`

	changes, err := decodeWal2JSON([]byte(data))
	require.NoError(t, err)
	require.Len(t, changes, 3)

	ins := changes[0]
	assert.Equal(t, "insert", ins.Kind)
	assert.Equal(t, "public", ins.Schema)
	assert.Equal(t, "orders", ins.Table)
	assert.Equal(t, models.Row{"id": json.Number("7"), "customer": "ann", "total": json.Number("12.50")}, ins.After)
	assert.Equal(t, []string{"id", "customer", "total"}, ins.AfterOrder)
	assert.Nil(t, ins.Before)
	require.NotNil(t, ins.XID)
	assert.Equal(t, "1042", *ins.XID)

	assert.Equal(t, models.Row{"id": json.Number("7")}, changes[1].Before)

	del := changes[2]
	assert.Nil(t, del.After)
	assert.Empty(t, del.AfterOrder)
	assert.Equal(t, models.Row{"id": json.Number("7")}, del.Before)
}

func TestDecodeWal2JSONObjectShape(t *testing.T) {
	data := `{"change": {"kind": "update", "table": "users", "columnvalues": {"zeta": 1, "alpha": "x"}, "oldkeys": {"zeta": 1}}}`

	changes, err := decodeWal2JSON([]byte(data))
	require.NoError(t, err)
	require.Len(t, changes, 1)

	c := changes[0]
	assert.Nil(t, c.XID)
	assert.Equal(t, []string{"zeta", "alpha"}, c.AfterOrder)
	assert.Equal(t, models.Row{"zeta": json.Number("1"), "alpha": "x"}, c.After)
	assert.Equal(t, models.Row{"zeta": json.Number("1")}, c.Before)
}

func TestDecodeWal2JSONEmptyTransaction(t *testing.T) {
	changes, err := decodeWal2JSON([]byte(`{"xid": 5, "change": []}`))
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestDecodeWal2JSONErrors(t *testing.T) {
	tests := map[string]string{
		"not json":        `{"change": [`,
		"no change":       `{"xid": 1}`,
		"length mismatch": `{"change": [{"kind": "insert", "table": "t", "columnnames": ["a", "b"], "columnvalues": [1]}]}`,
		"bad change":      `{"change": "insert"}`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := decodeWal2JSON([]byte(data))
			assert.Error(t, err)
		})
	}
}

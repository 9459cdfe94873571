package eventstream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeduperByTimestampAndCommand(t *testing.T) {
	d := NewDeduper(0)

	assert.False(t, d.Seen(json.RawMessage(`{"command":"echo hi","timestamp":1}`)))
	assert.True(t, d.Seen(json.RawMessage(`{"timestamp":1,"command":"echo hi","output":"changed"}`)))
	assert.False(t, d.Seen(json.RawMessage(`{"command":"echo hi","timestamp":2}`)))
	assert.False(t, d.Seen(json.RawMessage(`{"command":"ls","timestamp":1}`)))
	assert.Equal(t, 3, d.Len())
}

func TestDeduperKeylessEntriesPassThrough(t *testing.T) {
	d := NewDeduper(0)
	assert.False(t, d.Seen(json.RawMessage(`{"type":"heartbeat"}`)))
	assert.False(t, d.Seen(json.RawMessage(`{"type":"heartbeat"}`)))
	assert.False(t, d.Seen(json.RawMessage(`not json`)))
	assert.Equal(t, 0, d.Len())
}

func TestDeduperForgetsOldest(t *testing.T) {
	d := NewDeduper(2)
	d.Seen(json.RawMessage(`{"timestamp":1}`))
	d.Seen(json.RawMessage(`{"timestamp":2}`))
	d.Seen(json.RawMessage(`{"timestamp":3}`))
	assert.Equal(t, 2, d.Len())
	assert.False(t, d.Seen(json.RawMessage(`{"timestamp":1}`)), "oldest key should have been evicted")
	assert.True(t, d.Seen(json.RawMessage(`{"timestamp":3}`)))
}

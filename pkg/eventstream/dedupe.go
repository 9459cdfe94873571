package eventstream

import (
	"bytes"
	"encoding/json"
	"sync"
)

const defaultDedupeCapacity = 10_000

// Deduper drops task-log entries already seen, keyed by timestamp+command.
// The task-log feed replays its full history on every reconnect, so callers
// see each entry once only through a Deduper.
type Deduper struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	order    []string
	capacity int
}

// NewDeduper remembers at most capacity keys, forgetting the oldest first.
func NewDeduper(capacity int) *Deduper {
	if capacity <= 0 {
		capacity = defaultDedupeCapacity
	}
	return &Deduper{seen: make(map[string]struct{}), capacity: capacity}
}

// Key returns the dedupe key of a log entry. ok is false when the entry has
// neither a timestamp nor a command.
func Key(raw json.RawMessage) (key string, ok bool) {
	var entry struct {
		Timestamp json.RawMessage `json:"timestamp"`
		Command   json.RawMessage `json:"command"`
	}
	if err := json.Unmarshal(raw, &entry); err != nil {
		return "", false
	}
	ts := bytes.TrimSpace(entry.Timestamp)
	cmd := bytes.TrimSpace(entry.Command)
	if len(ts) == 0 && len(cmd) == 0 {
		return "", false
	}
	return string(ts) + "\x00" + string(cmd), true
}

// Seen records raw and reports whether it was already recorded. Entries
// without a key are never treated as duplicates.
func (d *Deduper) Seen(raw json.RawMessage) bool {
	key, ok := Key(raw)
	if !ok {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.seen[key]; dup {
		return true
	}
	d.seen[key] = struct{}{}
	d.order = append(d.order, key)
	if len(d.order) > d.capacity {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	return false
}

// Len reports how many keys are remembered.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

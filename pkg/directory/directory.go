// Package directory holds the set of known endpoints and resolves which one
// owns an outgoing URL.
package directory

import (
	"strings"
	"sync"
)

// Role distinguishes the primary hub from worker agents.
type Role string

const (
	RoleHub    Role = "hub"
	RoleWorker Role = "worker"
)

// Identity describes one known endpoint.
type Identity struct {
	Name    string `yaml:"name" json:"name"`
	BaseURL string `yaml:"base_url" json:"base_url"`
	Role    Role   `yaml:"role" json:"role"`
	// SharedSecret is minted into a short-lived token per call.
	SharedSecret string `yaml:"shared_secret,omitempty" json:"shared_secret,omitempty"`
	// Token is a pre-signed credential used verbatim.
	Token string `yaml:"token,omitempty" json:"token,omitempty"`
}

// IsHub reports whether the identity is the primary hub.
func (i Identity) IsHub() bool { return i.Role == RoleHub }

// Defaults returns the stock local layout: a hub on :5000 and two workers.
func Defaults() []Identity {
	return []Identity{
		{Name: "hub", BaseURL: "http://localhost:5000", Role: RoleHub, SharedSecret: "hubsecret"},
		{Name: "alpha", BaseURL: "http://localhost:5001", Role: RoleWorker, SharedSecret: "secret1"},
		{Name: "beta", BaseURL: "http://localhost:5002", Role: RoleWorker, SharedSecret: "secret2"},
	}
}

// Directory is a concurrency-safe, replace-only set of identities.
type Directory struct {
	mu         sync.RWMutex
	identities []Identity
}

// New returns a directory seeded with ids.
func New(ids ...Identity) *Directory {
	d := &Directory{}
	d.Replace(ids)
	return d
}

// Replace swaps the full identity set. Last writer wins.
func (d *Directory) Replace(ids []Identity) {
	normalized := make([]Identity, 0, len(ids))
	for _, id := range ids {
		id.BaseURL = normalizeBase(id.BaseURL)
		if id.BaseURL == "" {
			continue
		}
		if id.Role == "" {
			id.Role = RoleWorker
		}
		normalized = append(normalized, id)
	}
	d.mu.Lock()
	d.identities = normalized
	d.mu.Unlock()
}

// All returns a copy of the identity set.
func (d *Directory) All() []Identity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Identity, len(d.identities))
	copy(out, d.identities)
	return out
}

// Lookup finds the identity whose base URL is the longest prefix of target.
// On equal-length prefixes the earlier entry wins.
func (d *Directory) Lookup(target string) (Identity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	best := -1
	bestLen := -1
	for i, id := range d.identities {
		if !hasBoundaryPrefix(target, id.BaseURL) {
			continue
		}
		if len(id.BaseURL) > bestLen {
			best = i
			bestLen = len(id.BaseURL)
		}
	}
	if best < 0 {
		return Identity{}, false
	}
	return d.identities[best], true
}

// ByName finds an identity by its configured name.
func (d *Directory) ByName(name string) (Identity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, id := range d.identities {
		if id.Name == name {
			return id, true
		}
	}
	return Identity{}, false
}

// Hub returns the first identity with the hub role.
func (d *Directory) Hub() (Identity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, id := range d.identities {
		if id.IsHub() {
			return id, true
		}
	}
	return Identity{}, false
}

func normalizeBase(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

// hasBoundaryPrefix keeps http://host:5000 from claiming http://host:50001.
func hasBoundaryPrefix(target, base string) bool {
	if base == "" || !strings.HasPrefix(target, base) {
		return false
	}
	if len(target) == len(base) {
		return true
	}
	switch target[len(base)] {
	case '/', '?', '#':
		return true
	}
	return false
}

// Package credential mints short-lived signed tokens from a shared secret and
// models the credentials the gateway attaches to outgoing calls.
package credential

import "strings"

// Kind tags what a Credential holds.
type Kind int

const (
	// KindNone is an anonymous call.
	KindNone Kind = iota
	// KindRaw is a shared secret that must be minted before use.
	KindRaw
	// KindSigned is an already-signed token used verbatim.
	KindSigned
	// KindSession is the logged-in operator's first-party token.
	KindSession
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindSigned:
		return "signed"
	case KindSession:
		return "session"
	default:
		return "none"
	}
}

// Credential is an opaque bearer value tagged with its origin. The zero value
// means no credential.
type Credential struct {
	kind  Kind
	value string
}

// Raw wraps a shared secret. Empty input yields no credential.
func Raw(secret string) Credential { return newCredential(KindRaw, secret) }

// Signed wraps a pre-signed token.
func Signed(token string) Credential { return newCredential(KindSigned, token) }

// Session wraps a first-party session token.
func Session(token string) Credential { return newCredential(KindSession, token) }

func newCredential(kind Kind, value string) Credential {
	value = strings.TrimSpace(value)
	if value == "" {
		return Credential{}
	}
	return Credential{kind: kind, value: value}
}

// Parse classifies an untyped string at input boundaries (flags, config).
// Only a value with exactly two '.' separators, the header.payload.signature
// shape of a JWT, is treated as an already-signed token. Any other value,
// including one with a single '.', is a raw secret to be minted. This is
// stricter than treating every dotted value as signed, so a dotted shared
// secret is still signed before use.
func Parse(s string) Credential {
	s = strings.TrimSpace(s)
	if s == "" {
		return Credential{}
	}
	if strings.Count(s, ".") == 2 {
		return Signed(s)
	}
	return Raw(s)
}

// Kind reports the credential's tag.
func (c Credential) Kind() Kind { return c.kind }

// Value returns the underlying string.
func (c Credential) Value() string { return c.value }

// IsZero reports whether c carries nothing.
func (c Credential) IsZero() bool { return c.kind == KindNone || c.value == "" }

// NeedsMinting reports whether c must pass through a Minter before use.
func (c Credential) NeedsMinting() bool { return c.kind == KindRaw && c.value != "" }

// String redacts the value.
func (c Credential) String() string {
	if c.IsZero() {
		return "credential(none)"
	}
	return "credential(" + c.kind.String() + ")"
}

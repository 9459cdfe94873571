// Package auth decides which credential accompanies an outgoing call.
package auth

import (
	"github.com/ananta888/hubgate/pkg/credential"
	"github.com/ananta888/hubgate/pkg/directory"
	gwerrors "github.com/ananta888/hubgate/pkg/errors"
	"github.com/ananta888/hubgate/pkg/logging"
	"github.com/ananta888/hubgate/pkg/session"
)

// Resolver picks a credential per target URL. A present session token always
// beats the hub's shared secret.
type Resolver struct {
	dir      *directory.Directory
	sessions *session.Store
	minter   *credential.Minter
	logger   *logging.Logger
}

// NewResolver wires a resolver. sessions and minter may be nil.
func NewResolver(dir *directory.Directory, sessions *session.Store, minter *credential.Minter, logger *logging.Logger) *Resolver {
	if dir == nil {
		dir = directory.New()
	}
	if minter == nil {
		minter = credential.NewMinter()
	}
	return &Resolver{
		dir:      dir,
		sessions: sessions,
		minter:   minter,
		logger:   logging.OrNop(logger).Named(logging.ComponentAuth),
	}
}

// Directory exposes the endpoint directory the resolver consults.
func (r *Resolver) Directory() *directory.Directory { return r.dir }

// Sessions exposes the session store; may be nil.
func (r *Resolver) Sessions() *session.Store { return r.sessions }

// Resolve returns the bearer-ready credential for target. The zero Credential
// means the call goes out anonymously.
//
// Order: explicit credential, then the longest-prefix identity. For the hub
// the session token wins; otherwise the identity's shared secret is minted,
// or its pre-signed token is used as is.
func (r *Resolver) Resolve(target string, explicit credential.Credential) (credential.Credential, error) {
	if !explicit.IsZero() {
		return r.minter.Materialize(explicit)
	}

	id, ok := r.dir.Lookup(target)
	if !ok {
		r.logger.Debug("no identity for target", "target", target)
		return credential.Credential{}, nil
	}

	if id.IsHub() {
		if tok := r.sessions.Token(); tok != "" {
			return credential.Session(tok), nil
		}
	}
	if id.SharedSecret != "" {
		return r.minter.Materialize(credential.Raw(id.SharedSecret))
	}
	if id.Token != "" {
		return credential.Signed(id.Token), nil
	}
	return credential.Credential{}, nil
}

// ResolveSessionOnly is for feeds that only accept the operator's own
// session, such as hub-wide system events. Shared secrets are never minted
// here. An explicit signed or session credential is used verbatim.
func (r *Resolver) ResolveSessionOnly(target string, explicit credential.Credential) (credential.Credential, error) {
	switch explicit.Kind() {
	case credential.KindSigned, credential.KindSession:
		return explicit, nil
	case credential.KindRaw:
		return credential.Credential{}, gwerrors.AuthRequired("shared secrets are not accepted for this feed").
			WithContext("target", target)
	}
	if tok := r.sessions.Token(); tok != "" {
		return credential.Session(tok), nil
	}
	return credential.Credential{}, gwerrors.AuthRequired("no session token available").
		WithContext("target", target)
}

// BearerHeader renders c as an Authorization header value, or "" for none.
func BearerHeader(c credential.Credential) string {
	if c.IsZero() {
		return ""
	}
	return "Bearer " + c.Value()
}

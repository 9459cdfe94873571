package credential

import (
	"fmt"
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ananta888/hubgate/pkg/clock"
	gwerrors "github.com/ananta888/hubgate/pkg/errors"
)

// DefaultTTL is the expiry offset injected into every minted token.
const DefaultTTL = time.Hour

// DefaultSubject is the subject claim used when callers mint without claims.
const DefaultSubject = "frontend"

// Minter builds compact HS256 tokens. It never verifies tokens and never
// judges secret strength.
type Minter struct {
	clock clock.Clock
	ttl   time.Duration
}

// NewMinter returns a Minter using the real clock and DefaultTTL.
func NewMinter() *Minter {
	return NewMinterWithClock(clock.Real())
}

// NewMinterWithClock returns a Minter reading time from c.
func NewMinterWithClock(c clock.Clock) *Minter {
	if c == nil {
		c = clock.Real()
	}
	return &Minter{clock: c, ttl: DefaultTTL}
}

// Mint signs claims with secret. The payload always gets exp = now + 1h;
// iat defaults to now when the caller did not set it.
func (m *Minter) Mint(claims map[string]any, secret string) (string, error) {
	now := m.clock.Now()

	payload := jwt.MapClaims{}
	maps.Copy(payload, claims)
	if _, ok := payload["iat"]; !ok {
		payload["iat"] = now.Unix()
	}
	payload["exp"] = now.Add(m.ttl).Unix()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", gwerrors.Wrap(err, gwerrors.ErrCodeSigning, "failed to sign token")
	}
	return signed, nil
}

// MintDefault mints a token carrying only the default subject.
func (m *Minter) MintDefault(secret string) (string, error) {
	return m.Mint(map[string]any{"sub": DefaultSubject}, secret)
}

// Materialize turns c into a bearer-ready credential: raw secrets are minted
// into Signed credentials, everything else passes through untouched.
func (m *Minter) Materialize(c Credential) (Credential, error) {
	if !c.NeedsMinting() {
		return c, nil
	}
	token, err := m.MintDefault(c.Value())
	if err != nil {
		return Credential{}, fmt.Errorf("mint credential: %w", err)
	}
	return Signed(token), nil
}

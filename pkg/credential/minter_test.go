package credential

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ananta888/hubgate/pkg/clock"
)

func TestMintTokenShape(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMinterWithClock(clock.NewFake(now))

	token, err := m.Mint(map[string]any{"sub": "frontend"}, "secret")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3, "token should have exactly two separators")
	for i, part := range parts {
		assert.NotContains(t, part, "=", "segment %d should be unpadded", i)
		_, err := base64.RawURLEncoding.DecodeString(part)
		assert.NoError(t, err, "segment %d should be base64url", i)
	}

	headerJSON, _ := base64.RawURLEncoding.DecodeString(parts[0])
	var header map[string]any
	require.NoError(t, json.Unmarshal(headerJSON, &header))
	assert.Equal(t, "HS256", header["alg"])
	assert.Equal(t, "JWT", header["typ"])

	payloadJSON, _ := base64.RawURLEncoding.DecodeString(parts[1])
	var payload map[string]any
	require.NoError(t, json.Unmarshal(payloadJSON, &payload))
	assert.Equal(t, "frontend", payload["sub"])
	assert.Equal(t, float64(now.Unix()+3600), payload["exp"])
	assert.Equal(t, float64(now.Unix()), payload["iat"])
}

func TestMintSignatureIsHMACOverHeaderAndPayload(t *testing.T) {
	m := NewMinterWithClock(clock.NewFake(time.Unix(1_700_000_000, 0)))
	token, err := m.Mint(map[string]any{"sub": "frontend"}, "secret")
	require.NoError(t, err)

	idx := strings.LastIndex(token, ".")
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(token[:idx]))
	want := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, token[idx+1:])

	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) { return []byte("secret"), nil },
		jwt.WithTimeFunc(func() time.Time { return time.Unix(1_700_000_000, 0) }))
	require.NoError(t, err)
	assert.True(t, parsed.Valid)
}

func TestMintDeterministicForSameInstant(t *testing.T) {
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	m := NewMinterWithClock(fc)

	a, err := m.Mint(map[string]any{"sub": "frontend"}, "secret")
	require.NoError(t, err)
	b, err := m.Mint(map[string]any{"sub": "frontend"}, "secret")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	fc.Advance(time.Second)
	c, err := m.Mint(map[string]any{"sub": "frontend"}, "secret")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestMintOverridesCallerExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMinterWithClock(clock.NewFake(now))

	token, err := m.Mint(map[string]any{"exp": 1, "iat": 42}, "secret")
	require.NoError(t, err)

	payloadJSON, _ := base64.RawURLEncoding.DecodeString(strings.Split(token, ".")[1])
	var payload map[string]any
	require.NoError(t, json.Unmarshal(payloadJSON, &payload))
	assert.Equal(t, float64(now.Unix()+3600), payload["exp"])
	assert.Equal(t, float64(42), payload["iat"], "caller iat is kept")
}

func TestMintAcceptsWeakSecrets(t *testing.T) {
	_, err := NewMinter().Mint(nil, "")
	assert.NoError(t, err)
}

func TestMaterialize(t *testing.T) {
	m := NewMinterWithClock(clock.NewFake(time.Unix(1_700_000_000, 0)))

	minted, err := m.Materialize(Raw("secret1"))
	require.NoError(t, err)
	assert.Equal(t, KindSigned, minted.Kind())
	assert.Equal(t, 2, strings.Count(minted.Value(), "."))

	session := Session("user-token")
	same, err := m.Materialize(session)
	require.NoError(t, err)
	assert.Equal(t, session, same)

	none, err := m.Materialize(Credential{})
	require.NoError(t, err)
	assert.True(t, none.IsZero())
}

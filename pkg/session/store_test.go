package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetTokenNotifiesSubscribers(t *testing.T) {
	s := NewStore("")
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	s.SetToken("tok-1")
	assert.Equal(t, "tok-1", <-ch)
	assert.Equal(t, "tok-1", s.Token())

	s.SetToken("tok-1")
	select {
	case v := <-ch:
		t.Fatalf("unchanged token should not notify, got %q", v)
	default:
	}
}

func TestSlowSubscriberSeesLatest(t *testing.T) {
	s := NewStore("a")
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	s.SetToken("b")
	s.SetToken("c")
	s.Clear()

	assert.Equal(t, "", <-ch)
	assert.Equal(t, "", s.Token())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	s := NewStore("")
	ch, unsubscribe := s.Subscribe()
	unsubscribe()
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)

	s.SetToken("after")
	assert.Equal(t, "after", s.Token())
}

func TestNilStoreToken(t *testing.T) {
	var s *Store
	assert.Equal(t, "", s.Token())

	s.SetToken("ignored")
	s.Clear()
	assert.Equal(t, "", s.Token())

	ch, stop := s.Subscribe()
	defer stop()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestTokenFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session")

	tok, err := LoadTokenFile(path)
	require.NoError(t, err)
	assert.Empty(t, tok)

	require.NoError(t, SaveTokenFile(path, "user-token"))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	tok, err = LoadTokenFile(path)
	require.NoError(t, err)
	assert.Equal(t, "user-token", tok)

	require.NoError(t, SaveTokenFile(path, ""))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDotHeuristic(t *testing.T) {
	assert.Equal(t, KindSigned, Parse("a.b.c").Kind())
	assert.Equal(t, KindRaw, Parse("hubsecret").Kind())
	assert.Equal(t, KindRaw, Parse("one.dot").Kind())
	assert.Equal(t, KindRaw, Parse("a.b.c.d").Kind())
	assert.Equal(t, KindRaw, Parse("pass.word").Kind())
	assert.Equal(t, KindSigned, Parse(" eyJhbGciOiJIUzI1NiJ9.e30.sig ").Kind())
	assert.True(t, Parse("   ").IsZero())
}

func TestConstructorsTrimAndRejectEmpty(t *testing.T) {
	assert.True(t, Raw("").IsZero())
	assert.True(t, Session("  ").IsZero())
	assert.Equal(t, "tok", Signed(" tok ").Value())
}

func TestStringRedactsValue(t *testing.T) {
	c := Session("super-secret")
	assert.Equal(t, "credential(session)", c.String())
	assert.NotContains(t, c.String(), "super-secret")
	assert.Equal(t, "credential(none)", Credential{}.String())
}

package chatstream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func feedAll(chunks ...string) ([]string, bool) {
	var dec Decoder
	var out []string
	for _, c := range chunks {
		frags, done := dec.Feed([]byte(c))
		out = append(out, frags...)
		if done {
			return out, true
		}
	}
	frags, done := dec.Flush()
	return append(out, frags...), done
}

func TestDecoderSplitAcrossChunks(t *testing.T) {
	out, done := feedAll("data: ab", "c\n\ndata: [DONE]\n\n")
	assert.Equal(t, []string{"abc"}, out)
	assert.True(t, done)
}

func TestDecoderByteAtATime(t *testing.T) {
	input := "data: hel\n\ndata: lo\n\ndata:  world\n\ndata: [DONE]\n\n"
	chunks := strings.Split(input, "")
	out, done := feedAll(chunks...)
	assert.Equal(t, []string{"hel", "lo", " world"}, out)
	assert.True(t, done)
}

func TestDecoderCRLF(t *testing.T) {
	out, done := feedAll("data: a\r", "\n\r\ndata: b\r\n\r\n", "data: [DONE]\r\n\r\n")
	assert.Equal(t, []string{"a", "b"}, out)
	assert.True(t, done)
}

func TestDecoderIgnoresNonDataLines(t *testing.T) {
	out, _ := feedAll(": keepalive\n\nevent: token\nid: 4\ndata: x\n\n")
	assert.Equal(t, []string{"x"}, out)
}

func TestDecoderEmitsEachDataLine(t *testing.T) {
	out, _ := feedAll("data: one\ndata: two\n\n")
	assert.Equal(t, []string{"one", "two"}, out)
}

func TestDecoderStopsAtDone(t *testing.T) {
	var dec Decoder
	frags, done := dec.Feed([]byte("data: a\n\ndata: [DONE]\n\ndata: ignored\n\n"))
	assert.Equal(t, []string{"a"}, frags)
	assert.True(t, done)

	frags, done = dec.Feed([]byte("data: later\n\n"))
	assert.Empty(t, frags)
	assert.True(t, done)
}

func TestDecoderFlushesTrailingFrame(t *testing.T) {
	out, done := feedAll("data: a\n\ndata: tail")
	assert.Equal(t, []string{"a", "tail"}, out)
	assert.False(t, done)
}

func TestDecoderWithoutSpaceAfterPrefix(t *testing.T) {
	out, _ := feedAll("data:tight\n\n")
	assert.Equal(t, []string{"tight"}, out)
}

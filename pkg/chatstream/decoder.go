package chatstream

import (
	"bytes"
	"strings"
)

const doneSentinel = "[DONE]"

var frameDelimiter = []byte("\n\n")

// Decoder reassembles "\n\n"-delimited frames from arbitrarily split chunks.
// Partial frames stay buffered until the delimiter arrives.
type Decoder struct {
	buf  []byte
	done bool
}

// Feed appends chunk and returns the data fragments of every frame it
// completed. done reports that the [DONE] sentinel was reached; fragments
// after it are discarded.
func (d *Decoder) Feed(chunk []byte) (fragments []string, done bool) {
	if d.done {
		return nil, true
	}
	d.buf = append(d.buf, chunk...)
	d.normalize()

	for {
		idx := bytes.Index(d.buf, frameDelimiter)
		if idx < 0 {
			break
		}
		frame := string(d.buf[:idx])
		d.buf = d.buf[idx+len(frameDelimiter):]
		if d.frame(frame, &fragments) {
			d.done = true
			d.buf = nil
			return fragments, true
		}
	}
	return fragments, false
}

// Flush drains a trailing frame left without a delimiter at end of input.
func (d *Decoder) Flush() (fragments []string, done bool) {
	if d.done {
		return nil, true
	}
	rest := strings.TrimRight(string(d.buf), "\r\n")
	d.buf = nil
	if rest == "" {
		return nil, false
	}
	d.done = d.frame(rest, &fragments)
	return fragments, d.done
}

// normalize rewrites CRLF to LF. A lone trailing CR is kept until the next
// chunk shows whether an LF follows.
func (d *Decoder) normalize() {
	if bytes.IndexByte(d.buf, '\r') < 0 {
		return
	}
	d.buf = bytes.ReplaceAll(d.buf, []byte("\r\n"), []byte("\n"))
}

func (d *Decoder) frame(frame string, out *[]string) bool {
	for _, line := range strings.Split(frame, "\n") {
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		payload = strings.TrimPrefix(payload, " ")
		if payload == doneSentinel {
			return true
		}
		if payload == "" {
			continue
		}
		*out = append(*out, payload)
	}
	return false
}

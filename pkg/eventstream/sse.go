package eventstream

import (
	"bufio"
	"io"
	"strings"
)

// Event is one Server-Sent Event.
type Event struct {
	// Type is the "event:" field; empty for the default type.
	Type string
	// ID is the "id:" field.
	ID string
	// Data joins every "data:" line of the event with "\n".
	Data string
}

// Scanner reads Server-Sent Events from an io.Reader. Events end at a blank
// line; comment lines (":") and unknown fields are ignored.
//
//	scanner := NewScanner(body)
//	for scanner.Next() {
//	    ev := scanner.Event()
//	}
//	if err := scanner.Err(); err != nil { ... }
type Scanner struct {
	reader  *bufio.Reader
	current Event
	err     error
	done    bool
}

// NewScanner creates a scanner over r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next advances to the next event. It returns false at EOF or on error; Err
// distinguishes the two.
func (s *Scanner) Next() bool {
	if s.done {
		return false
	}
	s.current = Event{}

	var (
		dataLines []string
		hasData   bool
		ev        Event
	)
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && line == "" {
			s.done = true
			if err != io.EOF {
				s.err = err
				return false
			}
			if hasData {
				ev.Data = strings.Join(dataLines, "\n")
				s.current = ev
				return true
			}
			return false
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData {
				ev.Data = strings.Join(dataLines, "\n")
				s.current = ev
				return true
			}
			ev = Event{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, ok := strings.Cut(line, ":")
		if ok {
			value = strings.TrimPrefix(value, " ")
		} else {
			field, value = line, ""
		}
		switch field {
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		case "event":
			ev.Type = value
		case "id":
			ev.ID = value
		}
	}
}

// Event returns the event produced by the last successful Next.
func (s *Scanner) Event() Event { return s.current }

// Err returns the first non-EOF error.
func (s *Scanner) Err() error { return s.err }

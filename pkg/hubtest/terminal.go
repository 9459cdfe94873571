package hubtest

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

type terminalMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type resizeData struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// SetTerminalGreeting makes the terminal send text as an unframed frame
// right after the ready message.
func (s *Server) SetTerminalGreeting(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.termGreeting = text
}

// TerminalInputs returns the input received by interactive sessions.
func (s *Server) TerminalInputs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.termInputs...)
}

// TerminalResizes returns every resize as {rows, cols}.
func (s *Server) TerminalResizes() [][2]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][2]int(nil), s.termResizes...)
}

// ReadModeWrites counts frames a read-only session sent. Always zero for a
// well-behaved client.
func (s *Server) ReadModeWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readModeWrite
}

// handleTerminal echoes input back as output frames.
func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode != "interactive" && mode != "read" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid mode"})
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(messageType int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(messageType, data)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-s.done:
			writeMu.Lock()
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub shutting down"))
			writeMu.Unlock()
			_ = conn.Close()
		case <-stop:
		}
	}()

	ready, _ := json.Marshal(map[string]any{"type": "ready", "data": map[string]string{"mode": mode}})
	if err := send(websocket.TextMessage, ready); err != nil {
		return
	}
	s.mu.Lock()
	greeting := s.termGreeting
	s.mu.Unlock()
	if greeting != "" {
		if err := send(websocket.TextMessage, []byte(greeting)); err != nil {
			return
		}
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mode == "read" {
			s.mu.Lock()
			s.readModeWrite++
			s.mu.Unlock()
			continue
		}

		var msg terminalMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "input":
			var text string
			if err := json.Unmarshal(msg.Data, &text); err != nil {
				continue
			}
			s.mu.Lock()
			s.termInputs = append(s.termInputs, text)
			s.mu.Unlock()
			out, _ := json.Marshal(map[string]any{"type": "output", "data": map[string]string{"chunk": text}})
			if err := send(websocket.TextMessage, out); err != nil {
				return
			}
		case "resize":
			var size resizeData
			if err := json.Unmarshal(msg.Data, &size); err != nil {
				continue
			}
			s.mu.Lock()
			s.termResizes = append(s.termResizes, [2]int{size.Rows, size.Cols})
			s.mu.Unlock()
		}
	}
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"voice-relay/pkg/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketMessage is the streaming frame exchanged with callers.
// Type selects the operation; unused fields stay empty.
type WebSocketMessage struct {
	Type           string          `json:"type"`
	UserID         string          `json:"user_id,omitempty"`
	SessionID      string          `json:"session_id,omitempty"`
	SourceLanguage string          `json:"source_language,omitempty"`
	TargetLanguage string          `json:"target_language,omitempty"`
	Direction      int             `json:"direction,omitempty"`
	Timestamp      int64           `json:"timestamp,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	Utterance      json.RawMessage `json:"utterance,omitempty"`
	Summary        json.RawMessage `json:"summary,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// WebSocketHandler runs one streaming connection: the caller starts or
// attaches to a session, streams audio_chunk frames, and receives
// utterance results in emission order on the same socket.
func (h *Handlers) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &wsConn{conn: conn}
	var sessionID string

	for {
		var msg WebSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}

		switch msg.Type {
		case "start_session":
			id, err := h.manager.StartSession(msg.UserID, msg.SourceLanguage, msg.TargetLanguage)
			if err != nil {
				c.send(WebSocketMessage{Type: "error", Error: err.Error()})
				continue
			}
			sessionID = id
			c.send(WebSocketMessage{Type: "session_started", SessionID: id})
			h.streamResults(ctx, c, id)

		case "attach":
			if _, err := h.manager.Session(msg.SessionID); err != nil {
				c.send(WebSocketMessage{Type: "error", Error: err.Error()})
				continue
			}
			sessionID = msg.SessionID
			c.send(WebSocketMessage{Type: "attached", SessionID: sessionID})
			h.streamResults(ctx, c, sessionID)

		case "audio_chunk":
			h.handleAudioChunk(c, sessionID, &msg)

		case "end_session":
			if sessionID == "" {
				c.send(WebSocketMessage{Type: "error", Error: "no active session"})
				continue
			}
			summary, err := h.manager.EndSession(sessionID)
			if err != nil {
				c.send(WebSocketMessage{Type: "error", SessionID: sessionID, Error: err.Error()})
				continue
			}
			c.send(WebSocketMessage{
				Type:      "session_summary",
				SessionID: sessionID,
				Summary:   mustMarshal(summary),
			})
			sessionID = ""

		case "ping":
			c.send(WebSocketMessage{Type: "pong"})

		default:
			c.send(WebSocketMessage{Type: "error", Error: "unknown message type"})
		}
	}
}

func (h *Handlers) handleAudioChunk(c *wsConn, sessionID string, msg *WebSocketMessage) {
	if sessionID == "" {
		c.send(WebSocketMessage{Type: "error", Error: "start or attach a session first"})
		return
	}

	var audio []byte
	if err := json.Unmarshal(msg.Data, &audio); err != nil {
		c.send(WebSocketMessage{Type: "error", SessionID: sessionID, Error: "invalid audio data format"})
		return
	}

	err := h.manager.ProcessAudioChunk(sessionID, models.Direction(msg.Direction), audio, msg.Timestamp)
	if err != nil {
		c.send(WebSocketMessage{Type: "error", SessionID: sessionID, Error: err.Error()})
		return
	}
	c.send(WebSocketMessage{Type: "chunk_admitted", SessionID: sessionID, Timestamp: msg.Timestamp})
}

// streamResults pumps completed utterances to the socket until the
// pipeline closes its result channel or the connection goes away.
func (h *Handlers) streamResults(ctx context.Context, c *wsConn, sessionID string) {
	results, err := h.manager.Results(sessionID)
	if err != nil {
		c.send(WebSocketMessage{Type: "error", SessionID: sessionID, Error: err.Error()})
		return
	}

	go func() {
		for {
			select {
			case u, ok := <-results:
				if !ok {
					return
				}
				c.send(WebSocketMessage{
					Type:      "utterance",
					SessionID: sessionID,
					Utterance: mustMarshal(u),
				})
			case <-ctx.Done():
				return
			}
		}
	}()
}

// wsConn serializes writes: the read loop and the result pump both
// send frames, and gorilla connections allow one writer at a time.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(msg WebSocketMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		logrus.WithError(err).Debug("API: websocket write failed")
	}
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		logrus.WithError(err).Warn("API: marshal failed")
		return json.RawMessage(`{}`)
	}
	return data
}

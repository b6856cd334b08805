package handlers

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-portfolio-backend/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
)

// command is one client frame on a live stream.
type command struct {
	Type   string `json:"type"`
	Name   string `json:"name,omitempty"`
	Text   string `json:"text,omitempty"`
	ChatID string `json:"chat_id,omitempty"`
}

// newUpgrader accepts upgrades from the allowed origins, or from any origin
// when none are configured. Requests without an Origin header come from
// non-browser clients and are accepted.
func newUpgrader(origins []string) *websocket.Upgrader {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return &websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if len(allowed) == 0 || origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// peer is one upgraded connection. A single writer goroutine (writePump)
// owns all writes; the handler goroutine runs readPump.
type peer struct {
	conn    *websocket.Conn
	log     zerolog.Logger
	replies chan any
	done    chan struct{} // closed when writePump has exited
}

func newPeer(conn *websocket.Conn, log zerolog.Logger) *peer {
	return &peer{
		conn:    conn,
		log:     log,
		replies: make(chan any, 16),
		done:    make(chan struct{}),
	}
}

// reply queues a direct answer to a command. It never blocks the reader: if
// the writer is gone or the queue is full the reply is dropped.
func (p *peer) reply(v any) {
	select {
	case p.replies <- v:
	case <-p.done:
	default:
		p.log.Warn().Msg("websocket reply queue full; dropping reply")
	}
}

// writePump forwards session events and command replies to the client and
// pings it every pingPeriod. It returns once events is closed (after
// flushing queued replies and sending a close frame) or a write fails.
func writePump[E any](p *peer, events <-chan E) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
		close(p.done)
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				p.flushReplies()
				_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = p.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := p.write(ev); err != nil {
				return
			}
		case r := <-p.replies:
			if err := p.write(r); err != nil {
				return
			}
		case <-ticker.C:
			if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *peer) flushReplies() {
	for {
		select {
		case r := <-p.replies:
			if p.write(r) != nil {
				return
			}
		default:
			return
		}
	}
}

func (p *peer) write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to encode websocket frame")
		return nil
	}
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := p.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		p.log.Debug().Err(err).Msg("websocket write failed")
		return err
	}
	return nil
}

// readPump decodes client commands and passes them to handle until the
// connection fails, the client goes silent for pongWait, or handle returns
// false. Undecodable frames are answered with badFrame's reply.
func (p *peer) readPump(badFrame func(error) any, handle func(cmd command) bool) {
	p.conn.SetReadLimit(maxMessageSize)
	if err := p.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.log.Debug().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.Type == "" {
			p.reply(badFrame(domain.Validation("malformed command")))
			continue
		}
		if !handle(cmd) {
			return
		}
	}
}

// streamError turns a command error into the code and text of an error
// event. Unclassified failures get a generic text.
func streamError(err error) (code, text string) {
	kind := domain.KindOf(err)
	code = codeFor(kind)
	if kind == domain.KindUnknown || domain.HTTPStatus(kind) >= http.StatusInternalServerError {
		return code, "something went wrong, please try again"
	}
	return code, err.Error()
}

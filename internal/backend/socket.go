package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/aretw0/prdflow/pkg/wire"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const socketWriteWait = 5 * time.Second

// socketSession is one client connection.
type socketSession struct {
	s        *Server
	conn     *websocket.Conn
	clientID string
	// inbound carries decoded client messages from the read pump.
	inbound chan wire.Outbound
}

func (s *Server) socket(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "client_id")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "client_id", clientID, "err", err)
		return
	}
	s.connections.Add(1)
	defer s.connections.Add(-1)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ss := &socketSession{s: s, conn: conn, clientID: clientID, inbound: make(chan wire.Outbound, 8)}
	go ss.readPump(ctx, cancel)

	s.logger.Info("socket client connected", "client_id", clientID)
	room := "client_" + clientID
	if err := ss.send(wire.Message{Type: wire.TypeConnect, Data: map[string]any{
		"message": "Connected to room: " + room,
		"roomId":  room,
	}}); err != nil {
		return
	}
	if err := ss.send(wire.Message{Type: "ping", Data: map[string]any{"message": "Connection test - ping"}}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("socket client disconnected", "client_id", clientID)
			return
		case msg := <-ss.inbound:
			prompt := strings.TrimSpace(msg.Prompt)
			if prompt == "" {
				continue
			}
			if err := ss.converse(ctx, prompt); err != nil {
				s.logger.Debug("socket conversation ended", "client_id", clientID, "err", err)
				return
			}
		}
	}
}

// readPump decodes client messages until the connection fails.
func (ss *socketSession) readPump(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		var msg wire.Outbound
		if err := ss.conn.ReadJSON(&msg); err != nil {
			if _, ok := err.(*websocket.CloseError); !ok {
				ss.s.logger.Debug("socket read failed", "client_id", ss.clientID, "err", err)
			}
			return
		}
		select {
		case ss.inbound <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (ss *socketSession) send(m wire.Message) error {
	ss.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	return ss.conn.WriteJSON(m)
}

// step sends m after the configured pause.
func (ss *socketSession) step(ctx context.Context, m wire.Message) error {
	if !ss.s.pause(ctx) {
		return ctx.Err()
	}
	return ss.send(m)
}

func status(msg string) wire.Message {
	return wire.Message{Type: wire.TypeStatus, Data: map[string]any{"message": msg}}
}

func progress(msg string) wire.Message {
	return wire.Message{Type: wire.TypeProgress, Data: map[string]any{"message": msg}}
}

// answer waits for the next non-blank answer from the client.
func (ss *socketSession) answer(ctx context.Context) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case msg := <-ss.inbound:
			if a := strings.TrimSpace(msg.Answer); a != "" {
				return a, nil
			}
		}
	}
}

// converse runs one workflow: the clarification round question by question,
// then every pipeline stage, then the summary.
func (ss *socketSession) converse(ctx context.Context, prompt string) error {
	m := ss.s.manager
	c, err := m.Start(ctx, prompt)
	if err != nil {
		return err
	}

	if err := ss.send(status("Starting Clarifier conversation...")); err != nil {
		return err
	}
	if err := ss.step(ctx, progress("Clarifier (Round 1): I need to understand your app requirements.")); err != nil {
		return err
	}
	batch := domain.ClarifierBatchEvent{Questions: c.Questions, Done: c.Done}
	if err := ss.step(ctx, wire.Encode(batch)); err != nil {
		return err
	}

	pending := c.Pending()
	collected := 0
	for _, q := range c.Questions {
		if !q.Pending() {
			continue
		}
		if err := ss.step(ctx, wire.Message{Type: wire.TypeQuestion, Data: map[string]any{"question": q.Question}}); err != nil {
			return err
		}
		text, err := ss.answer(ctx)
		if err != nil {
			return err
		}
		if c, err = m.Continue(ctx, c.ID, []string{text}); err != nil {
			return err
		}
		collected++
		if err := ss.send(status(fmt.Sprintf("User inputs collected: %d/%d", collected, pending))); err != nil {
			return err
		}
	}
	if err := ss.step(ctx, status(fmt.Sprintf("Clarifier finished after %d rounds", c.Round))); err != nil {
		return err
	}

	final := map[string]any{"clarifier": clarifierData(c)}
	for _, st := range pipeline() {
		name := strings.ToUpper(st.Stage[:1]) + st.Stage[1:]
		if err := ss.step(ctx, status("Generating "+name+" response...")); err != nil {
			return err
		}
		if err := ss.step(ctx, wire.Encode(domain.StageResultEvent{Stage: st.Stage, Payload: st.Data})); err != nil {
			return err
		}
		final[st.Stage] = st.Data
	}
	if err := ss.step(ctx, status("Final Merged JSON generated")); err != nil {
		return err
	}
	if err := ss.step(ctx, wire.Encode(domain.StageResultEvent{Stage: "final", Payload: final})); err != nil {
		return err
	}
	if err := ss.step(ctx, status("Generating Final Summary...")); err != nil {
		return err
	}
	if _, err := m.Update(ctx, c.ID, func(c *domain.Conversation) error {
		c.Result = finalResult(c)
		return nil
	}); err != nil {
		return err
	}
	return ss.step(ctx, wire.Message{Type: wire.TypeComplete, Data: map[string]any{"summary": mockSummary}})
}

// Package ws is the streaming transport: one authenticated WebSocket
// connection carrying run and cancel commands inbound and start, chunk,
// complete, and error events outbound.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/saleskit/ltc-backend/internal/auth"
	"github.com/saleskit/ltc-backend/internal/executor"
)

// Runner is the coordinator surface the gateway binds to.
type Runner interface {
	Execute(ctx context.Context, req executor.Request) <-chan executor.Event
	Cancel(ctx context.Context, interactionID uuid.UUID) error
}

type Verifier interface {
	Verify(raw string) (auth.Identity, error)
}

// command is one inbound frame.
type command struct {
	Type          string         `json:"type" validate:"required,oneof=run cancel"`
	TeamID        uuid.UUID      `json:"team_id"`
	Skill         string         `json:"skill"`
	Message       string         `json:"message"`
	InteractionID *uuid.UUID     `json:"interaction_id,omitempty"`
	CustomerID    *uuid.UUID     `json:"customer_id,omitempty"`
	DocumentIDs   []uuid.UUID    `json:"document_ids,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	EndOfTurn     bool           `json:"end_of_turn,omitempty"`
}

// runCommand is the validated shape of a run frame.
type runCommand struct {
	TeamID  uuid.UUID `validate:"required"`
	Skill   string    `validate:"required"`
	Message string    `validate:"required"`
}

// event is one outbound frame.
type event struct {
	Type          string     `json:"type"`
	InteractionID uuid.UUID  `json:"interaction_id,omitempty"`
	Content       string     `json:"content,omitempty"`
	DocumentID    *uuid.UUID `json:"document_id,omitempty"`
	Message       string     `json:"message,omitempty"`
}

type Gateway struct {
	runner   Runner
	verifier Verifier
	validate *validator.Validate
	logger   *slog.Logger
}

func NewGateway(runner Runner, verifier Verifier, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{
		runner:   runner,
		verifier: verifier,
		validate: validator.New(),
		logger:   logger,
	}
}

// conn serializes writes: run events and command errors come from different
// goroutines but share one socket.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) write(ctx context.Context, ev event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.ws, ev)
}

// ServeHTTP upgrades the connection after verifying the bearer credential.
// Without a valid token the socket is never accepted (fail-closed). The
// credential comes from the Authorization header or, for browser clients
// that cannot set headers on the handshake, a token query parameter.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, ok := g.authenticate(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	wsConn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket accept failed", "error", err)
		return
	}
	c := &conn{ws: wsConn}
	defer func() { _ = wsConn.Close(websocket.StatusNormalClosure, "bye") }()

	g.logger.Info("streaming client connected", "user_id", identity.UserID)

	ctx := auth.WithIdentity(r.Context(), identity)
	var runs sync.WaitGroup
	defer runs.Wait()

	for {
		var cmd command
		if err := wsjson.Read(ctx, wsConn, &cmd); err != nil {
			g.logger.Debug("streaming client disconnected", "user_id", identity.UserID, "error", err)
			return
		}

		switch cmd.Type {
		case "run":
			if err := g.validate.Struct(runCommand{
				TeamID:  cmd.TeamID,
				Skill:   cmd.Skill,
				Message: cmd.Message,
			}); err != nil {
				g.writeError(ctx, c, uuid.Nil, "invalid run command: "+err.Error())
				continue
			}

			events := g.runner.Execute(ctx, executor.Request{
				TeamID:        cmd.TeamID,
				UserID:        identity.UserID,
				SkillSlug:     cmd.Skill,
				InteractionID: cmd.InteractionID,
				CustomerID:    cmd.CustomerID,
				DocumentIDs:   cmd.DocumentIDs,
				Message:       cmd.Message,
				Parameters:    cmd.Parameters,
				EndOfTurn:     cmd.EndOfTurn,
			})
			runs.Add(1)
			go func() {
				defer runs.Done()
				g.forward(ctx, c, events)
			}()

		case "cancel":
			if cmd.InteractionID == nil {
				g.writeError(ctx, c, uuid.Nil, "cancel requires interaction_id")
				continue
			}
			if err := g.runner.Cancel(ctx, *cmd.InteractionID); err != nil {
				// a failed cancel is reported on the stream, never a disconnect
				g.writeError(ctx, c, *cmd.InteractionID, err.Error())
			}

		default:
			g.writeError(ctx, c, uuid.Nil, "unknown command type")
		}
	}
}

func (g *Gateway) forward(ctx context.Context, c *conn, events <-chan executor.Event) {
	for ev := range events {
		out := event{
			Type:          string(ev.Type),
			InteractionID: ev.InteractionID,
			DocumentID:    ev.DocumentID,
		}
		switch ev.Type {
		case executor.EventError:
			out.Message = ev.Content
		default:
			out.Content = ev.Content
		}
		if err := c.write(ctx, out); err != nil {
			g.logger.Debug("event write failed, draining run", "error", err)
			// keep draining so the run goroutine can finish
			for range events {
			}
			return
		}
	}
}

func (g *Gateway) writeError(ctx context.Context, c *conn, interactionID uuid.UUID, msg string) {
	if err := c.write(ctx, event{Type: "error", InteractionID: interactionID, Message: msg}); err != nil {
		g.logger.Debug("error write failed", "error", err)
	}
}

func (g *Gateway) authenticate(r *http.Request) (auth.Identity, bool) {
	raw := ""
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		const prefix = "Bearer "
		if !strings.HasPrefix(authz, prefix) {
			return auth.Identity{}, false
		}
		raw = strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	} else {
		raw = r.URL.Query().Get("token")
	}
	if raw == "" {
		return auth.Identity{}, false
	}

	identity, err := g.verifier.Verify(raw)
	if err != nil {
		g.logger.Warn("handshake rejected", "error", err)
		return auth.Identity{}, false
	}
	return identity, true
}

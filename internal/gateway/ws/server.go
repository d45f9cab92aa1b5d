// Package ws implements the WebSocket conversation endpoint. A client
// connects once, identifies itself, and exchanges turns over the open
// connection instead of polling POST /v1/turn.
package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/jkaninda/nafsi/internal/core"
	"github.com/jkaninda/nafsi/internal/domain"
	"github.com/jkaninda/nafsi/internal/ratelimit"
)

const (
	// Message types on the wire.
	MsgHello      = "hello"       // Client → server: identify the counterpart.
	MsgWelcome    = "welcome"     // Server → client: identity accepted.
	MsgTurn       = "turn"        // Client → server: one message.
	MsgTurnResult = "turn.result" // Server → client: synthesized reply.
	MsgError      = "error"       // Server → client: per-message failure.

	registrationTimeout = 10 * time.Second
)

// Envelope is one WebSocket frame, JSON-encoded.
type Envelope struct {
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// HelloPayload identifies the connecting counterpart.
type HelloPayload struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name,omitempty"`
}

// TurnPayload is one incoming message.
type TurnPayload struct {
	Message  string `json:"message"`
	Override string `json:"perspective,omitempty"`
}

// TurnResultPayload is the synthesized reply.
type TurnResultPayload struct {
	Text            string `json:"text"`
	Posture         string `json:"posture"`
	CapabilityLevel string `json:"capability_level"`
	Degraded        bool   `json:"degraded,omitempty"`
	SideEffects     int    `json:"side_effects,omitempty"`
}

// ErrorPayload reports a per-message failure without closing the stream.
type ErrorPayload struct {
	Error string `json:"error"`
}

// Config configures the WebSocket server.
type Config struct {
	APIToken string // Same bearer token as the HTTP API. Empty disables auth.
}

// Server handles WebSocket conversation connections.
type Server struct {
	engine  *core.Engine
	limiter *ratelimit.Limiter
	cfg     Config
	logger  *slog.Logger
}

// NewServer creates a WebSocket conversation server.
func NewServer(engine *core.Engine, limiter *ratelimit.Limiter, cfg Config, logger *slog.Logger) *Server {
	return &Server{engine: engine, limiter: limiter, cfg: cfg, logger: logger}
}

// Handler returns an http.Handler that upgrades connections to WebSocket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.cfg.APIToken != "" {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.APIToken)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"nafsi-v1"},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	s.handleConnection(r.Context(), conn)
}

func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close(websocket.StatusNormalClosure, "connection closed")

	counterpart, err := s.waitForHello(ctx, conn)
	if err != nil {
		s.logger.Warn("websocket hello failed", slog.String("error", err.Error()))
		conn.Close(websocket.StatusPolicyViolation, "hello required")
		return
	}

	s.logger.Info("websocket session started",
		slog.String("counterpart_id", counterpart.ID.String()),
		slog.String("external_id", counterpart.ExternalID),
	)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.logger.Info("websocket session closed",
					slog.String("counterpart_id", counterpart.ID.String()))
			} else {
				s.logger.Warn("websocket connection error",
					slog.String("counterpart_id", counterpart.ID.String()),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.writeError(ctx, conn, "", "invalid message")
			continue
		}

		s.handleMessage(ctx, conn, counterpart, &env)
	}
}

func (s *Server) waitForHello(ctx context.Context, conn *websocket.Conn) (*domain.Counterpart, error) {
	helloCtx, cancel := context.WithTimeout(ctx, registrationTimeout)
	defer cancel()

	_, data, err := conn.Read(helloCtx)
	if err != nil {
		return nil, fmt.Errorf("reading hello: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parsing hello: %w", err)
	}
	if env.Type != MsgHello {
		return nil, fmt.Errorf("expected %s, got %s", MsgHello, env.Type)
	}

	var hello HelloPayload
	if err := json.Unmarshal(env.Payload, &hello); err != nil {
		return nil, fmt.Errorf("parsing hello payload: %w", err)
	}
	if hello.ExternalID == "" {
		return nil, fmt.Errorf("external_id is required")
	}

	counterpart, err := s.engine.Resolve(ctx, hello.ExternalID, hello.Name)
	if err != nil {
		return nil, fmt.Errorf("resolving counterpart: %w", err)
	}

	s.writeEnvelope(ctx, conn, &Envelope{Type: MsgWelcome})
	return counterpart, nil
}

func (s *Server) handleMessage(ctx context.Context, conn *websocket.Conn, counterpart *domain.Counterpart, env *Envelope) {
	switch env.Type {
	case MsgTurn:
		var turn TurnPayload
		if err := json.Unmarshal(env.Payload, &turn); err != nil || turn.Message == "" {
			s.writeError(ctx, conn, env.CorrelationID, "message is required")
			return
		}

		if s.limiter != nil {
			if err := s.limiter.Allow(counterpart.ExternalID); err != nil {
				s.writeError(ctx, conn, env.CorrelationID, "rate limit exceeded")
				return
			}
		}

		correlationID := env.CorrelationID
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		result, err := s.engine.HandleTurn(ctx, &domain.TurnRequest{
			CounterpartID: counterpart.ID,
			Message:       turn.Message,
			Timestamp:     time.Now().UTC(),
			CorrelationID: correlationID,
			Override:      turn.Override,
		})
		if err != nil {
			s.logger.Error("websocket turn failed",
				slog.String("correlation_id", correlationID),
				slog.String("error", err.Error()),
			)
			s.writeError(ctx, conn, correlationID, "turn failed")
			return
		}

		payload, _ := json.Marshal(TurnResultPayload{
			Text:            result.Text,
			Posture:         result.Posture,
			CapabilityLevel: result.CapabilityLevel,
			Degraded:        result.Degraded,
			SideEffects:     len(result.SideEffects),
		})
		s.writeEnvelope(ctx, conn, &Envelope{
			Type:          MsgTurnResult,
			CorrelationID: correlationID,
			Payload:       payload,
		})

	default:
		s.writeError(ctx, conn, env.CorrelationID, fmt.Sprintf("unknown message type %q", env.Type))
	}
}

func (s *Server) writeError(ctx context.Context, conn *websocket.Conn, correlationID, msg string) {
	payload, _ := json.Marshal(ErrorPayload{Error: msg})
	s.writeEnvelope(ctx, conn, &Envelope{Type: MsgError, CorrelationID: correlationID, Payload: payload})
}

func (s *Server) writeEnvelope(ctx context.Context, conn *websocket.Conn, env *Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("encoding websocket envelope", slog.String("error", err.Error()))
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		s.logger.Warn("writing websocket envelope", slog.String("error", err.Error()))
	}
}

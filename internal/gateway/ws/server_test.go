package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/jkaninda/nafsi/internal/agency"
	"github.com/jkaninda/nafsi/internal/core"
	"github.com/jkaninda/nafsi/internal/degradation"
	"github.com/jkaninda/nafsi/internal/embedding"
	"github.com/jkaninda/nafsi/internal/heritage"
	"github.com/jkaninda/nafsi/internal/limbic"
	"github.com/jkaninda/nafsi/internal/llm"
	"github.com/jkaninda/nafsi/internal/memory"
	"github.com/jkaninda/nafsi/internal/monologue"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubProvider struct{}

func (stubProvider) SendMessage(_ context.Context, _ *llm.Request) (*llm.Response, error) {
	return &llm.Response{Content: `{"response": "Hello there.", "confidence": 0.8}`}, nil
}

func (stubProvider) Name() string { return "stub" }

type fullCapability struct{}

func (fullCapability) Level() degradation.Capability { return degradation.CapabilityFull }

type nopExecutor struct{}

func (nopExecutor) CaptureRollback(context.Context, string, string, map[string]any) (string, error) {
	return "{}", nil
}
func (nopExecutor) Execute(context.Context, string, string, map[string]any) (string, error) {
	return "done", nil
}
func (nopExecutor) Rollback(context.Context, string, string, string) error { return nil }

func testEngine(t *testing.T) *core.Engine {
	t.Helper()
	logger := discardLogger()
	trust := agency.NewTrustManager(agency.NewMemoryTrustStore(), nil, nil, logger)
	gate := agency.NewGate(
		agency.DefaultContract(),
		trust,
		nopExecutor{},
		agency.NewMemoryActionStore(),
		agency.NewMemoryAuditStore(),
		agency.NewAdvisoryQueue(time.Hour, logger),
		nil,
		logger,
	)
	return core.NewEngine(
		limbic.NewEngine(limbic.NewMemoryStateStore(), limbic.Config{}, nil, logger),
		memory.NewIndex(memory.NewMemoryStore(), memory.Config{}, nil, logger),
		heritage.NewMemoryStore(),
		monologue.NewEngine(stubProvider{}, logger),
		gate,
		fullCapability{},
		embedding.NewLocalProvider(),
		core.NewMemoryCounterpartStore(),
		nil,
		nil,
		logger,
	)
}

func dial(t *testing.T, url, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url+"?token="+token, &websocket.DialOptions{
		Subprotocols: []string{"nafsi-v1"},
	})
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, env Envelope) {
	t.Helper()
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("encoding envelope: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("writing envelope: %v", err)
	}
}

func receive(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("reading envelope: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	return env
}

func rawPayload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("encoding payload: %v", err)
	}
	return data
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestServer_HelloThenTurn(t *testing.T) {
	server := NewServer(testEngine(t), nil, Config{}, discardLogger())
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	conn := dial(t, wsURL(ts.URL), "")
	send(t, conn, Envelope{Type: MsgHello, Payload: rawPayload(t, HelloPayload{ExternalID: "ws-client", Name: "Asha"})})

	if env := receive(t, conn); env.Type != MsgWelcome {
		t.Fatalf("expected %s, got %s", MsgWelcome, env.Type)
	}

	send(t, conn, Envelope{
		Type:          MsgTurn,
		CorrelationID: "abc123",
		Payload:       rawPayload(t, TurnPayload{Message: "good morning"}),
	})

	env := receive(t, conn)
	if env.Type != MsgTurnResult {
		t.Fatalf("expected %s, got %s", MsgTurnResult, env.Type)
	}
	if env.CorrelationID != "abc123" {
		t.Fatalf("correlation id = %q", env.CorrelationID)
	}
	var result TurnResultPayload
	if err := json.Unmarshal(env.Payload, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if result.Text == "" || result.Posture == "" {
		t.Fatalf("incomplete result: %+v", result)
	}
	if result.CapabilityLevel != "FULL" {
		t.Fatalf("capability = %q", result.CapabilityLevel)
	}
}

func TestServer_TurnBeforeHelloCloses(t *testing.T) {
	server := NewServer(testEngine(t), nil, Config{}, discardLogger())
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	conn := dial(t, wsURL(ts.URL), "")
	send(t, conn, Envelope{Type: MsgTurn, Payload: rawPayload(t, TurnPayload{Message: "hi"})})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); err == nil {
		t.Fatal("expected connection to close without hello")
	}
}

func TestServer_EmptyMessageRejected(t *testing.T) {
	server := NewServer(testEngine(t), nil, Config{}, discardLogger())
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	conn := dial(t, wsURL(ts.URL), "")
	send(t, conn, Envelope{Type: MsgHello, Payload: rawPayload(t, HelloPayload{ExternalID: "ws-client"})})
	receive(t, conn)

	send(t, conn, Envelope{Type: MsgTurn, Payload: rawPayload(t, TurnPayload{})})
	env := receive(t, conn)
	if env.Type != MsgError {
		t.Fatalf("expected %s, got %s", MsgError, env.Type)
	}
}

func TestServer_RejectsBadToken(t *testing.T) {
	server := NewServer(testEngine(t), nil, Config{APIToken: "secret"}, discardLogger())
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, wsURL(ts.URL)+"?token=wrong", nil)
	if err == nil {
		t.Fatal("expected dial to fail with bad token")
	}
	if resp != nil && resp.StatusCode != 401 {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/saleskit/ltc-backend/internal/auth"
	"github.com/saleskit/ltc-backend/internal/domain"
	"github.com/saleskit/ltc-backend/internal/executor"
)

type fakeRunner struct {
	events    []executor.Event
	lastReq   executor.Request
	cancelErr error
	cancelled []uuid.UUID
}

func (f *fakeRunner) Execute(_ context.Context, req executor.Request) <-chan executor.Event {
	f.lastReq = req
	out := make(chan executor.Event, len(f.events))
	for _, ev := range f.events {
		out <- ev
	}
	close(out)
	return out
}

func (f *fakeRunner) Cancel(_ context.Context, id uuid.UUID) error {
	f.cancelled = append(f.cancelled, id)
	return f.cancelErr
}

func testGateway(t *testing.T, runner Runner) (*httptest.Server, *auth.TokenVerifier) {
	t.Helper()
	verifier, err := auth.NewTokenVerifier("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(NewGateway(runner, verifier, logger))
	t.Cleanup(srv.Close)
	return srv, verifier
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, srv *httptest.Server, verifier *auth.TokenVerifier, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	token, err := verifier.Issue(userID, false)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	conn, _, err := websocket.Dial(context.Background(), wsURL(srv), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var ev event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func TestHandshakeRejectsMissingToken(t *testing.T) {
	srv, _ := testGateway(t, &fakeRunner{})

	_, resp, err := websocket.Dial(context.Background(), wsURL(srv), nil)
	if err == nil {
		t.Fatal("expected dial to fail without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestHandshakeRejectsInvalidToken(t *testing.T) {
	srv, _ := testGateway(t, &fakeRunner{})

	_, resp, err := websocket.Dial(context.Background(), wsURL(srv), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer not-a-jwt"}},
	})
	if err == nil {
		t.Fatal("expected dial to fail with a garbage token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestHandshakeAcceptsQueryParamToken(t *testing.T) {
	srv, verifier := testGateway(t, &fakeRunner{})

	token, err := verifier.Issue(uuid.New(), false)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	conn, _, err := websocket.Dial(context.Background(), wsURL(srv)+"?token="+token, nil)
	if err != nil {
		t.Fatalf("expected query-param token to be accepted: %v", err)
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")
}

func TestRunForwardsEventSequence(t *testing.T) {
	interactionID := uuid.New()
	docID := uuid.New()
	runner := &fakeRunner{events: []executor.Event{
		{Type: executor.EventStart, InteractionID: interactionID},
		{Type: executor.EventChunk, InteractionID: interactionID, Content: "Hello"},
		{Type: executor.EventChunk, InteractionID: interactionID, Content: " there"},
		{Type: executor.EventComplete, InteractionID: interactionID, Content: "Hello there", DocumentID: &docID},
	}}
	srv, verifier := testGateway(t, runner)

	userID := uuid.New()
	conn := dial(t, srv, verifier, userID)

	teamID := uuid.New()
	contextDocID := uuid.New()
	err := wsjson.Write(context.Background(), conn, command{
		Type:        "run",
		TeamID:      teamID,
		Skill:       "write-email",
		Message:     "draft it",
		DocumentIDs: []uuid.UUID{contextDocID},
	})
	if err != nil {
		t.Fatalf("write run: %v", err)
	}

	wantTypes := []string{"start", "chunk", "chunk", "complete"}
	for i, want := range wantTypes {
		ev := readEvent(t, conn)
		if ev.Type != want {
			t.Fatalf("event %d: expected %s, got %+v", i, want, ev)
		}
		if ev.InteractionID != interactionID {
			t.Fatalf("event %d: wrong interaction id", i)
		}
	}

	if runner.lastReq.UserID != userID {
		t.Fatal("expected caller identity from the token, not the payload")
	}
	if runner.lastReq.TeamID != teamID || runner.lastReq.SkillSlug != "write-email" {
		t.Fatalf("unexpected request forwarded: %+v", runner.lastReq)
	}
	if len(runner.lastReq.DocumentIDs) != 1 || runner.lastReq.DocumentIDs[0] != contextDocID {
		t.Fatalf("expected context document forwarded, got %+v", runner.lastReq.DocumentIDs)
	}
}

func TestRunValidationFailureIsErrorEvent(t *testing.T) {
	srv, verifier := testGateway(t, &fakeRunner{})
	conn := dial(t, srv, verifier, uuid.New())

	// missing skill and message
	if err := wsjson.Write(context.Background(), conn, command{Type: "run", TeamID: uuid.New()}); err != nil {
		t.Fatalf("write: %v", err)
	}

	ev := readEvent(t, conn)
	if ev.Type != "error" || ev.Message == "" {
		t.Fatalf("expected error event, got %+v", ev)
	}
}

func TestCancelFailureIsErrorEventNotDisconnect(t *testing.T) {
	runner := &fakeRunner{cancelErr: domain.ErrNoActiveExecution}
	srv, verifier := testGateway(t, runner)
	conn := dial(t, srv, verifier, uuid.New())

	interactionID := uuid.New()
	if err := wsjson.Write(context.Background(), conn, command{Type: "cancel", InteractionID: &interactionID}); err != nil {
		t.Fatalf("write cancel: %v", err)
	}

	ev := readEvent(t, conn)
	if ev.Type != "error" || ev.InteractionID != interactionID {
		t.Fatalf("expected error event for the cancel, got %+v", ev)
	}
	if len(runner.cancelled) != 1 || runner.cancelled[0] != interactionID {
		t.Fatalf("expected cancel forwarded, got %+v", runner.cancelled)
	}

	// connection still works after the failed cancel
	runner.cancelErr = nil
	if err := wsjson.Write(context.Background(), conn, command{Type: "cancel", InteractionID: &interactionID}); err != nil {
		t.Fatalf("write second cancel: %v", err)
	}
}

func TestUnknownCommandIsErrorEvent(t *testing.T) {
	srv, verifier := testGateway(t, &fakeRunner{})
	conn := dial(t, srv, verifier, uuid.New())

	if err := wsjson.Write(context.Background(), conn, map[string]string{"type": "subscribe"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	ev := readEvent(t, conn)
	if ev.Type != "error" {
		t.Fatalf("expected error event, got %+v", ev)
	}
}

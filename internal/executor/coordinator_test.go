package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/saleskit/ltc-backend/internal/domain"
	"github.com/saleskit/ltc-backend/internal/llm"
)

type fakeStores struct {
	mu           sync.Mutex
	members      map[string]bool
	skills       map[string]domain.Skill
	interactions map[uuid.UUID]*domain.Interaction
	messages     map[uuid.UUID][]domain.InteractionMessage
	documents    []domain.CreateDocumentParams
	docs         map[uuid.UUID]domain.Document
	customers    map[uuid.UUID]domain.Customer
}

func newFakeStores() *fakeStores {
	return &fakeStores{
		members:      map[string]bool{},
		skills:       map[string]domain.Skill{},
		interactions: map[uuid.UUID]*domain.Interaction{},
		messages:     map[uuid.UUID][]domain.InteractionMessage{},
		docs:         map[uuid.UUID]domain.Document{},
		customers:    map[uuid.UUID]domain.Customer{},
	}
}

func memberKey(teamID, userID uuid.UUID) string {
	return teamID.String() + "|" + userID.String()
}

func (f *fakeStores) IsMember(_ context.Context, teamID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[memberKey(teamID, userID)], nil
}

func (f *fakeStores) Get(slug string) (domain.Skill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	skill, ok := f.skills[slug]
	if !ok {
		return domain.Skill{}, domain.ErrSkillNotFound
	}
	return skill, nil
}

func (f *fakeStores) ValidateParams(slug string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.skills[slug]; !ok {
		return domain.ErrSkillNotFound
	}
	return nil
}

func (f *fakeStores) Create(_ context.Context, params domain.CreateInteractionParams) (domain.Interaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it := domain.Interaction{
		ID:         uuid.New(),
		TeamID:     params.TeamID,
		CustomerID: params.CustomerID,
		SkillID:    params.SkillID,
		UserID:     params.UserID,
		Status:     domain.InteractionRunning,
		Parameters: params.Parameters,
		StartedAt:  time.Now(),
	}
	f.interactions[it.ID] = &it
	return it, nil
}

func (f *fakeStores) GetInteraction(id uuid.UUID) domain.Interaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.interactions[id]
}

func (f *fakeStores) Get2(_ context.Context, id uuid.UUID) (domain.Interaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.interactions[id]
	if !ok {
		return domain.Interaction{}, domain.ErrInteractionNotFound
	}
	return *it, nil
}

func (f *fakeStores) markTerminal(id uuid.UUID, status domain.InteractionStatus, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.interactions[id]
	if !ok {
		return domain.ErrInteractionNotFound
	}
	if it.Status.Terminal() {
		return nil
	}
	it.Status = status
	if summary != "" {
		it.Summary = summary
	}
	now := time.Now()
	it.CompletedAt = &now
	return nil
}

func (f *fakeStores) MarkCompleted(_ context.Context, id uuid.UUID, summary string) error {
	return f.markTerminal(id, domain.InteractionCompleted, summary)
}

func (f *fakeStores) MarkFailed(_ context.Context, id uuid.UUID) error {
	return f.markTerminal(id, domain.InteractionFailed, "")
}

func (f *fakeStores) MarkCancelled(_ context.Context, id uuid.UUID) error {
	return f.markTerminal(id, domain.InteractionCancelled, "")
}

func (f *fakeStores) UpdateSummary(_ context.Context, id uuid.UUID, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.interactions[id]
	if !ok {
		return domain.ErrInteractionNotFound
	}
	if it.Status.Terminal() {
		return nil
	}
	it.Summary = summary
	return nil
}

func (f *fakeStores) AppendMessage(_ context.Context, interactionID uuid.UUID, role domain.MessageRole, content string, turn int, metadata json.RawMessage) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages[interactionID] {
		if m.Turn == turn {
			return uuid.Nil, fmt.Errorf("%w: duplicate turn %d", domain.ErrConflict, turn)
		}
	}
	id := uuid.New()
	f.messages[interactionID] = append(f.messages[interactionID], domain.InteractionMessage{
		ID:            id,
		InteractionID: interactionID,
		Role:          role,
		Content:       content,
		Turn:          turn,
		Metadata:      metadata,
		CreatedAt:     time.Now(),
	})
	return id, nil
}

func (f *fakeStores) CountMessages(_ context.Context, interactionID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages[interactionID]), nil
}

func (f *fakeStores) ListMessages(_ context.Context, interactionID uuid.UUID) ([]domain.InteractionMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.InteractionMessage, len(f.messages[interactionID]))
	copy(out, f.messages[interactionID])
	return out, nil
}

func (f *fakeStores) CreateDocument(_ context.Context, params domain.CreateDocumentParams) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents = append(f.documents, params)
	return uuid.New(), nil
}

func (f *fakeStores) GetDocument(_ context.Context, id uuid.UUID) (domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return domain.Document{}, domain.ErrNotFound
	}
	return d, nil
}

func (f *fakeStores) GetCustomer(_ context.Context, id uuid.UUID) (domain.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.customers[id]
	if !ok {
		return domain.Customer{}, domain.ErrNotFound
	}
	return c, nil
}

// interactionStoreAdapter renames Get2 to Get so fakeStores can satisfy both
// SkillStore.Get(slug) and InteractionStore.Get(id).
type interactionStoreAdapter struct{ *fakeStores }

func (a interactionStoreAdapter) Get(ctx context.Context, id uuid.UUID) (domain.Interaction, error) {
	return a.Get2(ctx, id)
}

type documentStoreAdapter struct{ *fakeStores }

func (a documentStoreAdapter) Create(ctx context.Context, params domain.CreateDocumentParams) (uuid.UUID, error) {
	return a.CreateDocument(ctx, params)
}

func (a documentStoreAdapter) Get(ctx context.Context, id uuid.UUID) (domain.Document, error) {
	return a.GetDocument(ctx, id)
}

type fakeStreamer struct {
	chunks    []string
	err       error
	onDeliver func(i int)

	mu      sync.Mutex
	lastReq llm.ChatRequest
}

func (s *fakeStreamer) LastRequest() llm.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReq
}

func (s *fakeStreamer) Stream(_ context.Context, req llm.ChatRequest, onChunk func(string) error) (string, error) {
	s.mu.Lock()
	s.lastReq = req
	s.mu.Unlock()

	var full strings.Builder
	for i, chunk := range s.chunks {
		if s.onDeliver != nil {
			s.onDeliver(i)
		}
		full.WriteString(chunk)
		if err := onChunk(chunk); err != nil {
			return full.String(), err
		}
	}
	if s.err != nil {
		return full.String(), s.err
	}
	return full.String(), nil
}

func testCoordinator(stores *fakeStores, streamer *fakeStreamer) *Coordinator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCoordinator(
		stores,
		stores,
		interactionStoreAdapter{stores},
		documentStoreAdapter{stores},
		stores,
		streamer,
		logger,
	)
}

func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out draining events, got %d so far", len(out))
		}
	}
}

func setupRun(stores *fakeStores) (teamID, userID uuid.UUID) {
	teamID, userID = uuid.New(), uuid.New()
	stores.members[memberKey(teamID, userID)] = true
	stores.skills["write-email"] = domain.Skill{
		Slug:              "write-email",
		Name:              "Write Email",
		SystemPrompt:      "You draft emails.",
		SupportsMultiTurn: true,
	}
	return teamID, userID
}

func TestExecuteHappyPath(t *testing.T) {
	stores := newFakeStores()
	teamID, userID := setupRun(stores)

	long := strings.Repeat("x", 150)
	coord := testCoordinator(stores, &fakeStreamer{chunks: []string{long[:75], long[75:]}})

	events := drain(t, coord.Execute(context.Background(), Request{
		TeamID:    teamID,
		UserID:    userID,
		SkillSlug: "write-email",
		Message:   "draft an intro email",
		EndOfTurn: true,
	}))

	if len(events) != 4 {
		t.Fatalf("expected start, 2 chunks, complete; got %d events: %+v", len(events), events)
	}
	if events[0].Type != EventStart || events[0].InteractionID == uuid.Nil {
		t.Fatalf("expected start event with id, got %+v", events[0])
	}
	if events[1].Type != EventChunk || events[2].Type != EventChunk {
		t.Fatalf("expected chunk events, got %+v", events[1:3])
	}
	last := events[3]
	if last.Type != EventComplete || last.Content != long {
		t.Fatalf("expected complete with full content, got %+v", last)
	}
	if last.DocumentID == nil {
		t.Fatal("expected a document for content >= 100 chars")
	}

	it := stores.GetInteraction(last.InteractionID)
	if it.Status != domain.InteractionCompleted {
		t.Fatalf("expected COMPLETED, got %s", it.Status)
	}
	if it.CompletedAt == nil {
		t.Fatal("expected completion timestamp")
	}
	if it.Summary != long {
		t.Fatalf("expected summary to equal short content, got %d chars", len(it.Summary))
	}

	msgs, _ := stores.ListMessages(context.Background(), last.InteractionID)
	if len(msgs) != 2 {
		t.Fatalf("expected user + assistant messages, got %d", len(msgs))
	}
	if msgs[0].Role != domain.MessageUser || msgs[0].Turn != 1 {
		t.Fatalf("expected user message at turn 1, got %+v", msgs[0])
	}
	if msgs[1].Role != domain.MessageAssistant || msgs[1].Turn != 2 {
		t.Fatalf("expected assistant message at turn 2, got %+v", msgs[1])
	}

	if len(stores.documents) != 1 {
		t.Fatalf("expected 1 document, got %d", len(stores.documents))
	}
	if !strings.HasPrefix(stores.documents[0].Title, "Write Email - ") {
		t.Fatalf("expected title from skill name and date, got %q", stores.documents[0].Title)
	}
}

func TestExecuteSummaryTruncatedAt500(t *testing.T) {
	stores := newFakeStores()
	teamID, userID := setupRun(stores)

	long := strings.Repeat("y", 800)
	coord := testCoordinator(stores, &fakeStreamer{chunks: []string{long}})

	events := drain(t, coord.Execute(context.Background(), Request{
		TeamID: teamID, UserID: userID, SkillSlug: "write-email", Message: "go", EndOfTurn: true,
	}))

	last := events[len(events)-1]
	if last.Type != EventComplete {
		t.Fatalf("expected complete, got %+v", last)
	}
	it := stores.GetInteraction(last.InteractionID)
	if len(it.Summary) != 500 {
		t.Fatalf("expected 500-char summary, got %d", len(it.Summary))
	}
}

func TestDocumentGating(t *testing.T) {
	for _, tc := range []struct {
		length  int
		wantDoc bool
	}{
		{99, false},
		{100, true},
	} {
		t.Run(fmt.Sprintf("length %d", tc.length), func(t *testing.T) {
			stores := newFakeStores()
			teamID, userID := setupRun(stores)
			coord := testCoordinator(stores, &fakeStreamer{chunks: []string{strings.Repeat("z", tc.length)}})

			events := drain(t, coord.Execute(context.Background(), Request{
				TeamID: teamID, UserID: userID, SkillSlug: "write-email", Message: "go", EndOfTurn: true,
			}))

			last := events[len(events)-1]
			if last.Type != EventComplete {
				t.Fatalf("expected complete, got %+v", last)
			}
			if tc.wantDoc && (last.DocumentID == nil || len(stores.documents) != 1) {
				t.Fatal("expected a document row")
			}
			if !tc.wantDoc && (last.DocumentID != nil || len(stores.documents) != 0) {
				t.Fatal("expected no document row")
			}
		})
	}
}

func TestExecuteMultiTurnIncreasesTurns(t *testing.T) {
	stores := newFakeStores()
	teamID, userID := setupRun(stores)
	coord := testCoordinator(stores, &fakeStreamer{chunks: []string{"first reply"}})

	first := drain(t, coord.Execute(context.Background(), Request{
		TeamID: teamID, UserID: userID, SkillSlug: "write-email", Message: "turn one",
	}))
	interactionID := first[len(first)-1].InteractionID

	if got := stores.GetInteraction(interactionID).Status; got != domain.InteractionRunning {
		t.Fatalf("expected conversation to stay RUNNING between turns, got %s", got)
	}

	second := drain(t, coord.Execute(context.Background(), Request{
		TeamID:        teamID,
		UserID:        userID,
		SkillSlug:     "write-email",
		InteractionID: &interactionID,
		Message:       "turn two",
		EndOfTurn:     true,
	}))
	if second[len(second)-1].Type != EventComplete {
		t.Fatalf("expected follow-up to complete, got %+v", second[len(second)-1])
	}
	for _, ev := range second {
		if ev.Type == EventStart {
			t.Fatal("follow-up turn must not emit start")
		}
	}

	msgs, _ := stores.ListMessages(context.Background(), interactionID)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages after two turns, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.Turn != i+1 {
			t.Fatalf("expected turn %d at position %d, got %d", i+1, i, m.Turn)
		}
	}
}

func TestMultiTurnSummaryRollsForward(t *testing.T) {
	stores := newFakeStores()
	teamID, userID := setupRun(stores)

	streamer := &fakeStreamer{chunks: []string{strings.Repeat("a", 120)}}
	coord := testCoordinator(stores, streamer)

	first := drain(t, coord.Execute(context.Background(), Request{
		TeamID: teamID, UserID: userID, SkillSlug: "write-email", Message: "turn one",
	}))
	interactionID := first[len(first)-1].InteractionID

	it := stores.GetInteraction(interactionID)
	if it.Status != domain.InteractionRunning {
		t.Fatalf("expected RUNNING after a non-final turn, got %s", it.Status)
	}
	if it.Summary != strings.Repeat("a", 120) {
		t.Fatalf("expected summary from turn one, got %q", it.Summary)
	}
	if len(stores.documents) != 0 {
		t.Fatal("non-final turn must not synthesize a document")
	}

	streamer.chunks = []string{strings.Repeat("b", 120)}
	second := drain(t, coord.Execute(context.Background(), Request{
		TeamID:        teamID,
		UserID:        userID,
		SkillSlug:     "write-email",
		InteractionID: &interactionID,
		Message:       "turn two",
		EndOfTurn:     true,
	}))
	if second[len(second)-1].Type != EventComplete {
		t.Fatalf("expected final turn to complete, got %+v", second[len(second)-1])
	}

	it = stores.GetInteraction(interactionID)
	if it.Status != domain.InteractionCompleted {
		t.Fatalf("expected COMPLETED after the final turn, got %s", it.Status)
	}
	if it.Summary != strings.Repeat("b", 120) {
		t.Fatalf("expected summary refreshed on the final turn, got %q", it.Summary)
	}
	if len(stores.documents) != 1 {
		t.Fatalf("expected document from the final turn, got %d", len(stores.documents))
	}
}

func TestCancelDuringFollowUpTurn(t *testing.T) {
	stores := newFakeStores()
	teamID, userID := setupRun(stores)

	streamer := &fakeStreamer{chunks: []string{"turn one answer"}}
	coord := testCoordinator(stores, streamer)

	first := drain(t, coord.Execute(context.Background(), Request{
		TeamID: teamID, UserID: userID, SkillSlug: "write-email", Message: "turn one",
	}))
	interactionID := first[len(first)-1].InteractionID

	streamer.chunks = []string{"turn", "two", "answer"}
	streamer.onDeliver = func(i int) {
		if i != 1 {
			return
		}
		if err := coord.Cancel(context.Background(), interactionID); err != nil {
			t.Errorf("cancel on follow-up turn: %v", err)
		}
	}

	second := drain(t, coord.Execute(context.Background(), Request{
		TeamID:        teamID,
		UserID:        userID,
		SkillSlug:     "write-email",
		InteractionID: &interactionID,
		Message:       "turn two",
	}))
	for _, ev := range second {
		if ev.Type == EventComplete {
			t.Fatal("cancelled follow-up turn must not emit complete")
		}
		if ev.Type == EventError {
			t.Fatalf("cancelled follow-up turn must not emit error: %+v", ev)
		}
	}

	it := stores.GetInteraction(interactionID)
	if it.Status != domain.InteractionCancelled {
		t.Fatalf("expected CANCELLED after cancel on turn two, got %s", it.Status)
	}
	if it.Summary != "turn one answer" {
		t.Fatalf("expected turn-one summary retained, got %q", it.Summary)
	}
}

func TestFollowUpOnCompletedInteractionRejected(t *testing.T) {
	stores := newFakeStores()
	teamID, userID := setupRun(stores)
	coord := testCoordinator(stores, &fakeStreamer{chunks: []string{"done"}})

	first := drain(t, coord.Execute(context.Background(), Request{
		TeamID: teamID, UserID: userID, SkillSlug: "write-email", Message: "turn one", EndOfTurn: true,
	}))
	interactionID := first[len(first)-1].InteractionID

	second := drain(t, coord.Execute(context.Background(), Request{
		TeamID:        teamID,
		UserID:        userID,
		SkillSlug:     "write-email",
		InteractionID: &interactionID,
		Message:       "one more thing",
	}))
	if len(second) != 1 || !errors.Is(second[0].Err, domain.ErrConflict) {
		t.Fatalf("expected conflict for a turn on a finished conversation, got %+v", second)
	}

	it := stores.GetInteraction(interactionID)
	if it.Status != domain.InteractionCompleted {
		t.Fatalf("rejected turn must not disturb the terminal status, got %s", it.Status)
	}
	if it.Summary != "done" {
		t.Fatalf("rejected turn must not disturb the summary, got %q", it.Summary)
	}
}

func TestPromptIncludesDocumentContext(t *testing.T) {
	stores := newFakeStores()
	teamID, userID := setupRun(stores)

	docID := uuid.New()
	stores.docs[docID] = domain.Document{
		ID:      docID,
		TeamID:  teamID,
		Title:   "Q3 proposal",
		Content: "pricing tiers and rollout plan",
	}

	streamer := &fakeStreamer{chunks: []string{"ok"}}
	coord := testCoordinator(stores, streamer)

	events := drain(t, coord.Execute(context.Background(), Request{
		TeamID:      teamID,
		UserID:      userID,
		SkillSlug:   "write-email",
		DocumentIDs: []uuid.UUID{docID},
		Message:     "reference the proposal",
		EndOfTurn:   true,
	}))
	if events[len(events)-1].Type != EventComplete {
		t.Fatalf("expected complete, got %+v", events[len(events)-1])
	}

	msgs := streamer.LastRequest().Messages
	last := msgs[len(msgs)-1]
	if !strings.Contains(last.Content, "Q3 proposal") || !strings.Contains(last.Content, "pricing tiers and rollout plan") {
		t.Fatalf("expected document title and content in the prompt, got %q", last.Content)
	}
}

func TestDocumentContextFromOtherTeamRejected(t *testing.T) {
	stores := newFakeStores()
	teamID, userID := setupRun(stores)

	docID := uuid.New()
	stores.docs[docID] = domain.Document{ID: docID, TeamID: uuid.New(), Title: "theirs", Content: "secret"}

	coord := testCoordinator(stores, &fakeStreamer{chunks: []string{"ok"}})

	events := drain(t, coord.Execute(context.Background(), Request{
		TeamID:      teamID,
		UserID:      userID,
		SkillSlug:   "write-email",
		DocumentIDs: []uuid.UUID{docID},
		Message:     "use that doc",
		EndOfTurn:   true,
	}))

	last := events[len(events)-1]
	if last.Type != EventError || !errors.Is(last.Err, domain.ErrNotFound) {
		t.Fatalf("expected not-found error for a foreign document, got %+v", last)
	}
}

func TestCancelSuppressesChunks(t *testing.T) {
	stores := newFakeStores()
	teamID, userID := setupRun(stores)

	streamer := &fakeStreamer{chunks: []string{"one", "two", "three"}}
	coord := testCoordinator(stores, streamer)
	streamer.onDeliver = func(i int) {
		if i != 1 {
			return
		}
		// cancel between the first and second chunk
		ids := activeIDs(coord)
		if len(ids) != 1 {
			t.Errorf("expected one active run, got %d", len(ids))
			return
		}
		if err := coord.Cancel(context.Background(), ids[0]); err != nil {
			t.Errorf("cancel: %v", err)
		}
	}

	events := drain(t, coord.Execute(context.Background(), Request{
		TeamID: teamID, UserID: userID, SkillSlug: "write-email", Message: "go",
	}))

	chunks := 0
	for _, ev := range events {
		switch ev.Type {
		case EventChunk:
			chunks++
		case EventComplete:
			t.Fatal("cancelled run must not emit complete")
		case EventError:
			t.Fatalf("cancelled run must not emit error: %+v", ev)
		}
	}
	if chunks != 1 {
		t.Fatalf("expected exactly 1 chunk before cancellation, got %d", chunks)
	}

	interactionID := events[0].InteractionID
	it := stores.GetInteraction(interactionID)
	if it.Status != domain.InteractionCancelled {
		t.Fatalf("expected CANCELLED, got %s", it.Status)
	}

	msgs, _ := stores.ListMessages(context.Background(), interactionID)
	if len(msgs) != 1 {
		t.Fatalf("expected only the user message persisted, got %d", len(msgs))
	}

	if err := coord.Cancel(context.Background(), interactionID); !errors.Is(err, domain.ErrNoActiveExecution) {
		t.Fatalf("expected registry cleanup after terminal state, got %v", err)
	}
}

func TestCancelWithoutActiveRun(t *testing.T) {
	coord := testCoordinator(newFakeStores(), &fakeStreamer{})

	err := coord.Cancel(context.Background(), uuid.New())
	if !errors.Is(err, domain.ErrNoActiveExecution) {
		t.Fatalf("expected ErrNoActiveExecution, got %v", err)
	}
}

func TestExecuteRejectsNonMember(t *testing.T) {
	stores := newFakeStores()
	setupRun(stores)
	coord := testCoordinator(stores, &fakeStreamer{chunks: []string{"nope"}})

	events := drain(t, coord.Execute(context.Background(), Request{
		TeamID: uuid.New(), UserID: uuid.New(), SkillSlug: "write-email", Message: "go",
	}))

	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("expected single error event, got %+v", events)
	}
	if !errors.Is(events[0].Err, domain.ErrUnauthorized) {
		t.Fatalf("expected authorization error, got %v", events[0].Err)
	}
	if len(stores.interactions) != 0 {
		t.Fatal("no interaction may be created for a non-member")
	}
}

func TestExecuteUnknownSkill(t *testing.T) {
	stores := newFakeStores()
	teamID, userID := setupRun(stores)
	coord := testCoordinator(stores, &fakeStreamer{})

	events := drain(t, coord.Execute(context.Background(), Request{
		TeamID: teamID, UserID: userID, SkillSlug: "ghost", Message: "go",
	}))

	if len(events) != 1 || !errors.Is(events[0].Err, domain.ErrSkillNotFound) {
		t.Fatalf("expected ErrSkillNotFound event, got %+v", events)
	}
}

func TestExecuteProviderFailureMarksFailed(t *testing.T) {
	stores := newFakeStores()
	teamID, userID := setupRun(stores)
	providerErr := fmt.Errorf("%w: upstream 500", domain.ErrProvider)
	coord := testCoordinator(stores, &fakeStreamer{chunks: []string{"partial"}, err: providerErr})

	events := drain(t, coord.Execute(context.Background(), Request{
		TeamID: teamID, UserID: userID, SkillSlug: "write-email", Message: "go",
	}))

	last := events[len(events)-1]
	if last.Type != EventError || !errors.Is(last.Err, domain.ErrProvider) {
		t.Fatalf("expected provider error event, got %+v", last)
	}

	it := stores.GetInteraction(last.InteractionID)
	if it.Status != domain.InteractionFailed {
		t.Fatalf("expected FAILED, got %s", it.Status)
	}
}

func TestExecuteSecondRunOnActiveInteractionFails(t *testing.T) {
	stores := newFakeStores()
	teamID, userID := setupRun(stores)

	release := make(chan struct{})
	firstStarted := make(chan uuid.UUID, 1)

	streamer := &fakeStreamer{chunks: []string{"slow reply that keeps the run active for a while..."}}
	coord := testCoordinator(stores, streamer)
	streamer.onDeliver = func(int) {
		ids := activeIDs(coord)
		if len(ids) == 1 {
			firstStarted <- ids[0]
		}
		<-release
	}

	firstEvents := coord.Execute(context.Background(), Request{
		TeamID: teamID, UserID: userID, SkillSlug: "write-email", Message: "turn one", EndOfTurn: true,
	})

	var interactionID uuid.UUID
	select {
	case interactionID = <-firstStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never reached the provider")
	}

	second := drain(t, coord.Execute(context.Background(), Request{
		TeamID:        teamID,
		UserID:        userID,
		SkillSlug:     "write-email",
		InteractionID: &interactionID,
		Message:       "turn two",
	}))
	if len(second) == 0 || !errors.Is(second[len(second)-1].Err, domain.ErrExecutionActive) {
		t.Fatalf("expected ErrExecutionActive, got %+v", second)
	}

	close(release)
	first := drain(t, firstEvents)
	if first[len(first)-1].Type != EventComplete {
		t.Fatalf("first run must still complete, got %+v", first[len(first)-1])
	}
	if stores.GetInteraction(interactionID).Status != domain.InteractionCompleted {
		t.Fatal("rejected second run must not fail the active interaction")
	}
}

// activeIDs exposes the registry contents to tests that need to cancel a run
// they did not observe the id of yet.
func activeIDs(c *Coordinator) []uuid.UUID {
	c.runs.mu.Lock()
	defer c.runs.mu.Unlock()
	out := make([]uuid.UUID, 0, len(c.runs.active))
	for id := range c.runs.active {
		out = append(out, id)
	}
	return out
}

// Package executor runs one conversational turn of a skill against the
// model provider, with context assembly, transcript persistence, and
// cooperative cancellation.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saleskit/ltc-backend/internal/domain"
	"github.com/saleskit/ltc-backend/internal/llm"
	"github.com/saleskit/ltc-backend/internal/metrics"
)

const maxSummaryLength = 500

type EventType string

const (
	EventStart    EventType = "start"
	EventChunk    EventType = "chunk"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one item on a run's outbound stream. The channel always ends with
// a complete or error event; errors never escape the stream.
type Event struct {
	Type          EventType  `json:"type"`
	InteractionID uuid.UUID  `json:"interaction_id"`
	Content       string     `json:"content,omitempty"`
	DocumentID    *uuid.UUID `json:"document_id,omitempty"`
	Err           error      `json:"-"`
}

// Request is one skill run: a new interaction when InteractionID is nil, a
// follow-up turn on an existing one otherwise.
type Request struct {
	TeamID        uuid.UUID
	UserID        uuid.UUID
	SkillSlug     string
	InteractionID *uuid.UUID
	CustomerID    *uuid.UUID
	DocumentIDs   []uuid.UUID // documents to include as prompt context
	Message       string
	Parameters    map[string]any
	EndOfTurn     bool // close the conversation and produce the deliverable
}

type MembershipAuthority interface {
	IsMember(ctx context.Context, teamID, userID uuid.UUID) (bool, error)
}

type SkillStore interface {
	Get(slug string) (domain.Skill, error)
	ValidateParams(slug string, params map[string]any) error
}

type InteractionStore interface {
	Create(ctx context.Context, params domain.CreateInteractionParams) (domain.Interaction, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Interaction, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, summary string) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
	MarkCancelled(ctx context.Context, id uuid.UUID) error
	UpdateSummary(ctx context.Context, id uuid.UUID, summary string) error
	AppendMessage(ctx context.Context, interactionID uuid.UUID, role domain.MessageRole, content string, turn int, metadata json.RawMessage) (uuid.UUID, error)
	CountMessages(ctx context.Context, interactionID uuid.UUID) (int, error)
	ListMessages(ctx context.Context, interactionID uuid.UUID) ([]domain.InteractionMessage, error)
}

type DocumentStore interface {
	Create(ctx context.Context, params domain.CreateDocumentParams) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Document, error)
}

type CustomerStore interface {
	GetCustomer(ctx context.Context, id uuid.UUID) (domain.Customer, error)
}

type Streamer interface {
	Stream(ctx context.Context, req llm.ChatRequest, onChunk func(string) error) (string, error)
}

type Coordinator struct {
	members      MembershipAuthority
	skills       SkillStore
	interactions InteractionStore
	documents    DocumentStore
	customers    CustomerStore
	provider     Streamer
	logger       *slog.Logger
	runs         *registry
}

func NewCoordinator(
	members MembershipAuthority,
	skills SkillStore,
	interactions InteractionStore,
	documents DocumentStore,
	customers CustomerStore,
	provider Streamer,
	logger *slog.Logger,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		members:      members,
		skills:       skills,
		interactions: interactions,
		documents:    documents,
		customers:    customers,
		provider:     provider,
		logger:       logger,
		runs:         newRegistry(),
	}
}

// Execute starts one skill run and returns its event stream. The channel is
// closed after the terminal complete or error event; the caller only reads.
func (c *Coordinator) Execute(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, 32)
	go c.run(ctx, req, events)
	return events
}

func (c *Coordinator) run(ctx context.Context, req Request, events chan<- Event) {
	defer close(events)
	started := time.Now()

	interactionID, err := c.execute(ctx, req, events)
	if err != nil {
		// terminal status first, then the event, so a reader that reacts
		// immediately sees the persisted FAILED state
		if interactionID != uuid.Nil && !errors.Is(err, domain.ErrExecutionActive) {
			if markErr := c.interactions.MarkFailed(ctx, interactionID); markErr != nil {
				c.logger.Error("mark interaction failed errored", "interaction_id", interactionID, "error", markErr)
			}
		}
		c.logger.Warn("skill run failed",
			"interaction_id", interactionID,
			"skill", req.SkillSlug,
			"error", err,
		)
		metrics.IncSkillRunStatus(domain.InteractionFailed)
		send(ctx, events, Event{Type: EventError, InteractionID: interactionID, Content: err.Error(), Err: err})
		return
	}

	metrics.ObserveSkillRunDuration(time.Since(started))
}

// execute runs steps one by one and returns the interaction id it worked on
// (uuid.Nil if it never got that far) so the caller can record the failure.
func (c *Coordinator) execute(ctx context.Context, req Request, events chan<- Event) (uuid.UUID, error) {
	member, err := c.members.IsMember(ctx, req.TeamID, req.UserID)
	if err != nil {
		return uuid.Nil, err
	}
	if !member {
		return uuid.Nil, domain.ErrNotTeamMember
	}

	skill, err := c.skills.Get(req.SkillSlug)
	if err != nil {
		return uuid.Nil, err
	}
	if err := c.skills.ValidateParams(req.SkillSlug, req.Parameters); err != nil {
		return uuid.Nil, err
	}

	var interaction domain.Interaction
	if req.InteractionID != nil {
		interaction, err = c.interactions.Get(ctx, *req.InteractionID)
		if err != nil {
			return *req.InteractionID, err
		}
		if interaction.TeamID != req.TeamID {
			return interaction.ID, domain.ErrInteractionNotFound
		}
		if !skill.SupportsMultiTurn {
			return interaction.ID, fmt.Errorf("%w: skill %s does not support follow-up turns", domain.ErrValidation, skill.Slug)
		}
		if interaction.Status.Terminal() {
			return interaction.ID, fmt.Errorf("%w: interaction is already %s", domain.ErrConflict, interaction.Status)
		}
	} else {
		var parameters json.RawMessage
		if len(req.Parameters) > 0 {
			parameters, err = json.Marshal(req.Parameters)
			if err != nil {
				return uuid.Nil, fmt.Errorf("%w: encode parameters: %v", domain.ErrValidation, err)
			}
		}
		interaction, err = c.interactions.Create(ctx, domain.CreateInteractionParams{
			TeamID:     req.TeamID,
			CustomerID: req.CustomerID,
			SkillID:    req.SkillSlug,
			UserID:     req.UserID,
			Parameters: parameters,
		})
		if err != nil {
			return uuid.Nil, err
		}
		send(ctx, events, Event{Type: EventStart, InteractionID: interaction.ID})
	}

	run, err := c.runs.register(interaction.ID)
	if err != nil {
		return interaction.ID, err
	}
	defer c.runs.remove(interaction.ID)

	turn, err := c.interactions.CountMessages(ctx, interaction.ID)
	if err != nil {
		return interaction.ID, err
	}
	turn++
	if _, err := c.interactions.AppendMessage(ctx, interaction.ID, domain.MessageUser, req.Message, turn, nil); err != nil {
		return interaction.ID, err
	}

	prompt, err := c.assemblePrompt(ctx, skill, interaction, req)
	if err != nil {
		return interaction.ID, err
	}

	suppressed := 0
	content, err := c.provider.Stream(ctx, llm.ChatRequest{Messages: prompt}, func(delta string) error {
		if run.cancelled.Load() {
			suppressed++
			return nil
		}
		metrics.IncStreamChunks()
		send(ctx, events, Event{Type: EventChunk, InteractionID: interaction.ID, Content: delta})
		return nil
	})
	if err != nil {
		return interaction.ID, err
	}

	if run.cancelled.Load() {
		// Cancel already marked the interaction; nothing more goes out
		c.logger.Info("skill run cancelled",
			"interaction_id", interaction.ID,
			"suppressed_chunks", suppressed,
		)
		metrics.IncSkillRunStatus(domain.InteractionCancelled)
		return interaction.ID, nil
	}

	if _, err := c.interactions.AppendMessage(ctx, interaction.ID, domain.MessageAssistant, content, turn+1, nil); err != nil {
		return interaction.ID, err
	}

	// A multi-turn conversation stays RUNNING between turns; only the final
	// turn (EndOfTurn, or any turn of a single-shot skill) records COMPLETED
	// and synthesizes the document. Non-final turns roll the summary forward.
	summary := truncate(content, maxSummaryLength)
	final := req.EndOfTurn || !skill.SupportsMultiTurn
	if !final {
		if err := c.interactions.UpdateSummary(ctx, interaction.ID, summary); err != nil {
			return interaction.ID, err
		}
		send(ctx, events, Event{
			Type:          EventComplete,
			InteractionID: interaction.ID,
			Content:       content,
		})
		return interaction.ID, nil
	}

	if err := c.interactions.MarkCompleted(ctx, interaction.ID, summary); err != nil {
		return interaction.ID, err
	}

	var documentID *uuid.UUID
	if len([]rune(content)) >= domain.MinDocumentContentLength {
		docID, err := c.documents.Create(ctx, domain.CreateDocumentParams{
			TeamID:        req.TeamID,
			CustomerID:    req.CustomerID,
			InteractionID: &interaction.ID,
			Title:         fmt.Sprintf("%s - %s", skill.Name, time.Now().Format("2006-01-02")),
			Content:       content,
		})
		if err != nil {
			return interaction.ID, err
		}
		documentID = &docID
		metrics.IncDocumentsGenerated()
	}

	metrics.IncSkillRunStatus(domain.InteractionCompleted)
	send(ctx, events, Event{
		Type:          EventComplete,
		InteractionID: interaction.ID,
		Content:       content,
		DocumentID:    documentID,
	})
	return interaction.ID, nil
}

// send delivers an event unless the consumer is gone. Persisted state is the
// source of truth, so a dropped event on a dead connection is acceptable.
func send(ctx context.Context, events chan<- Event, ev Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

// Cancel flips the cancellation flag of the active run for interactionID and
// records the CANCELLED status. The provider stream is not torn down; its
// remaining chunks are dropped by the flag check.
func (c *Coordinator) Cancel(ctx context.Context, interactionID uuid.UUID) error {
	run, ok := c.runs.lookup(interactionID)
	if !ok {
		return domain.ErrNoActiveExecution
	}
	run.cancelled.Store(true)

	if err := c.interactions.MarkCancelled(ctx, interactionID); err != nil {
		return err
	}
	c.logger.Info("cancellation requested", "interaction_id", interactionID)
	return nil
}

// assemblePrompt builds the provider message list: skill system prompt, the
// transcript so far (including the just-persisted user message), then the
// optional parameter, customer, and document context blocks as a trailing
// user message.
func (c *Coordinator) assemblePrompt(ctx context.Context, skill domain.Skill, interaction domain.Interaction, req Request) ([]llm.Message, error) {
	transcript, err := c.interactions.ListMessages(ctx, interaction.ID)
	if err != nil {
		return nil, err
	}

	messages := make([]llm.Message, 0, len(transcript)+3)
	messages = append(messages, llm.Message{Role: "system", Content: skill.SystemPrompt})

	for _, m := range transcript {
		role := "user"
		switch m.Role {
		case domain.MessageAssistant:
			role = "assistant"
		case domain.MessageSystem:
			role = "system"
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Content})
	}

	if req.EndOfTurn {
		messages = append(messages, llm.Message{
			Role:    "user",
			Content: "This is the final turn. Produce the complete deliverable now.",
		})
	}

	var contextBlocks []string
	if len(req.Parameters) > 0 {
		params, err := json.MarshalIndent(req.Parameters, "", "  ")
		if err == nil {
			contextBlocks = append(contextBlocks, "Parameters:\n"+string(params))
		}
	}
	if req.CustomerID != nil {
		customer, err := c.customers.GetCustomer(ctx, *req.CustomerID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}
		} else {
			block := fmt.Sprintf("Customer: %s", customer.Name)
			if customer.Industry != "" {
				block += fmt.Sprintf("\nIndustry: %s", customer.Industry)
			}
			if customer.Notes != "" {
				block += fmt.Sprintf("\nNotes: %s", customer.Notes)
			}
			contextBlocks = append(contextBlocks, block)
		}
	}
	for _, docID := range req.DocumentIDs {
		doc, err := c.documents.Get(ctx, docID)
		if err != nil {
			return nil, fmt.Errorf("load context document %s: %w", docID, err)
		}
		// documents from other teams do not exist as far as this run is
		// concerned
		if doc.TeamID != req.TeamID {
			return nil, fmt.Errorf("%w: document %s", domain.ErrNotFound, docID)
		}
		contextBlocks = append(contextBlocks, fmt.Sprintf("Document %q:\n%s", doc.Title, doc.Content))
	}
	if len(contextBlocks) > 0 {
		messages = append(messages, llm.Message{
			Role:    "user",
			Content: strings.Join(contextBlocks, "\n\n"),
		})
	}

	return messages, nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

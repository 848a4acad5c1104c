package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/stelwijs/stelwijs/internal/log"
	"github.com/stelwijs/stelwijs/internal/retrieval"
)

// titleMaxRunes bounds auto-derived conversation titles.
const titleMaxRunes = 60

// groundedSystemPrompt instructs the model to answer only from the numbered
// passages and to cite them.
const groundedSystemPrompt = `You are a warehouse safety assistant. Answer the user's question using ONLY the numbered passages below. Cite the passages you use as [1], [2], etc. If the passages do not contain the answer, say that you cannot answer from the available documentation. Answer in the language of the question.

Passages:

%s`

// ungroundedSystemPrompt is used when retrieval found nothing relevant. The
// model must decline instead of answering from its own knowledge.
const ungroundedSystemPrompt = `You are a warehouse safety assistant. No relevant documentation was found for the user's question. Tell the user, in the language of their question, that you cannot answer this from the available documentation and suggest they rephrase or ingest a relevant source. Do not answer the question from general knowledge.`

// Retriever supplies grounding context for a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string, opts ...retrieval.Option) (*retrieval.GroundingContext, error)
}

// StreamCallback receives each text delta as the model produces it.
type StreamCallback func(ctx context.Context, text string) error

// Generator produces a streamed model response and returns the full text.
// The concrete implementation wraps genkit; tests substitute a fake streamer.
type Generator interface {
	Generate(ctx context.Context, system string, messages []*ai.Message, onDelta StreamCallback) (string, error)
}

// HistoryStore is the slice of the conversation Store the orchestrator needs.
type HistoryStore interface {
	Create(ctx context.Context) (*Conversation, error)
	Get(ctx context.Context, id uuid.UUID) (*Conversation, error)
	AppendTurn(ctx context.Context, conversationID uuid.UUID, role, content string, citations []retrieval.Citation) (*Turn, error)
	Turns(ctx context.Context, conversationID uuid.UUID) ([]Turn, error)
	SetTitle(ctx context.Context, id uuid.UUID, title string) error
}

// EventSink receives streaming events in emission order: all sources first,
// then text deltas. A sink error aborts the stream.
type EventSink interface {
	Source(citation retrieval.Citation) error
	TextDelta(text string) error
}

// Request is one user message, optionally continuing an existing
// conversation.
type Request struct {
	ConversationID uuid.UUID // uuid.Nil starts a new conversation
	Message        string
}

// Exchange is the persisted outcome of one Respond call.
type Exchange struct {
	ConversationID uuid.UUID
	UserTurn       *Turn
	AssistantTurn  *Turn
	Grounding      *retrieval.GroundingContext
}

// Orchestrator runs the ask loop: retrieve, stream a grounded answer, and
// persist both sides of the exchange.
type Orchestrator struct {
	retriever Retriever
	generator Generator
	store     HistoryStore
	logger    log.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(retriever Retriever, generator Generator, store HistoryStore, logger log.Logger) *Orchestrator {
	return &Orchestrator{
		retriever: retriever,
		generator: generator,
		store:     store,
		logger:    logger,
	}
}

// Respond answers req.Message, streaming citations and text deltas to sink
// while it generates. The user turn is persisted before generation starts;
// the assistant turn only after generation completed, so a canceled stream
// leaves the question without an answer rather than with a truncated one.
func (o *Orchestrator) Respond(ctx context.Context, req Request, sink EventSink) (*Exchange, error) {
	question := strings.TrimSpace(req.Message)
	if question == "" {
		return nil, fmt.Errorf("message is required")
	}

	// Retrieval runs before the conversation is touched: a retrieval failure
	// on a fresh chat must not leave an empty conversation row behind.
	grounding, err := o.retriever.Retrieve(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}

	conv, history, err := o.ensureConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	userTurn, err := o.store.AppendTurn(ctx, conv.ID, RoleUser, question, nil)
	if err != nil {
		return nil, fmt.Errorf("persisting user turn: %w", err)
	}

	// Sources go out before any text so clients can display provenance while
	// the answer streams.
	for _, citation := range grounding.Citations {
		if err := sink.Source(citation); err != nil {
			return nil, fmt.Errorf("emitting source: %w", err)
		}
	}

	answer, err := o.generate(ctx, question, history, grounding, sink)
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	assistantTurn, err := o.store.AppendTurn(ctx, conv.ID, RoleAssistant, answer, grounding.Citations)
	if err != nil {
		return nil, fmt.Errorf("persisting assistant turn: %w", err)
	}

	if len(history) == 0 {
		if err := o.store.SetTitle(ctx, conv.ID, deriveTitle(question)); err != nil {
			o.logger.Warn("setting conversation title", "conversation_id", conv.ID, "error", err)
		}
	}

	o.logger.Info("exchange completed",
		"conversation_id", conv.ID,
		"grounded", grounding.Grounded,
		"chunks_used", grounding.ChunksUsed,
		"answer_runes", len([]rune(answer)))

	return &Exchange{
		ConversationID: conv.ID,
		UserTurn:       userTurn,
		AssistantTurn:  assistantTurn,
		Grounding:      grounding,
	}, nil
}

// ensureConversation loads the requested conversation and its history, or
// starts a fresh one.
func (o *Orchestrator) ensureConversation(ctx context.Context, id uuid.UUID) (*Conversation, []Turn, error) {
	if id == uuid.Nil {
		conv, err := o.store.Create(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("creating conversation: %w", err)
		}
		return conv, nil, nil
	}

	conv, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("loading conversation: %w", err)
	}
	history, err := o.store.Turns(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("loading history: %w", err)
	}
	return conv, history, nil
}

// generate streams the model response through sink and returns the full text.
func (o *Orchestrator) generate(ctx context.Context, question string, history []Turn, grounding *retrieval.GroundingContext, sink EventSink) (string, error) {
	system := ungroundedSystemPrompt
	if grounding.Grounded {
		system = fmt.Sprintf(groundedSystemPrompt, grounding.Text)
	}

	messages := make([]*ai.Message, 0, len(history)+1)
	for i := range history {
		turn := &history[i]
		switch turn.Role {
		case RoleAssistant:
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(turn.Content)))
		default:
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(turn.Content)))
		}
	}
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(question)))

	return o.generator.Generate(ctx, system, messages,
		func(ctx context.Context, text string) error {
			return sink.TextDelta(text)
		})
}

// deriveTitle rune-truncates the first question into a conversation title.
func deriveTitle(question string) string {
	runes := []rune(strings.Join(strings.Fields(question), " "))
	if len(runes) <= titleMaxRunes {
		return string(runes)
	}
	return string(runes[:titleMaxRunes-1]) + "…"
}

// GenkitGenerator is the production Generator backed by a genkit instance
// and a fixed model.
type GenkitGenerator struct {
	g     *genkit.Genkit
	model string
}

// NewGenkitGenerator creates a Generator that calls the named model.
func NewGenkitGenerator(g *genkit.Genkit, model string) *GenkitGenerator {
	return &GenkitGenerator{g: g, model: model}
}

// Generate implements Generator.
func (gg *GenkitGenerator) Generate(ctx context.Context, system string, messages []*ai.Message, onDelta StreamCallback) (string, error) {
	resp, err := genkit.Generate(ctx, gg.g,
		ai.WithModelName(gg.model),
		ai.WithSystem(system),
		ai.WithMessages(messages...),
		ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			return onDelta(ctx, chunk.Text())
		}),
	)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/stelwijs/stelwijs/internal/log"
	"github.com/stelwijs/stelwijs/internal/retrieval"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRetriever returns a fixed grounding context.
type fakeRetriever struct {
	grounding *retrieval.GroundingContext
	err       error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, question string, opts ...retrieval.Option) (*retrieval.GroundingContext, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.grounding, nil
}

// fakeGenerator streams its answer in fixed-size pieces. It can fail partway
// through to simulate a dropped stream.
type fakeGenerator struct {
	answer     string
	failAfter  int // deltas emitted before failing; 0 = never fail
	gotSystem  string
	gotHistory int
}

func (f *fakeGenerator) Generate(ctx context.Context, system string, messages []*ai.Message, onDelta StreamCallback) (string, error) {
	f.gotSystem = system
	f.gotHistory = len(messages)

	emitted := 0
	for _, word := range strings.SplitAfter(f.answer, " ") {
		if f.failAfter > 0 && emitted >= f.failAfter {
			return "", context.Canceled
		}
		if err := onDelta(ctx, word); err != nil {
			return "", err
		}
		emitted++
	}
	return f.answer, nil
}

// memoryStore is an in-memory HistoryStore.
type memoryStore struct {
	convs  map[uuid.UUID]*Conversation
	turns  map[uuid.UUID][]Turn
	titles map[uuid.UUID]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		convs:  make(map[uuid.UUID]*Conversation),
		turns:  make(map[uuid.UUID][]Turn),
		titles: make(map[uuid.UUID]string),
	}
}

func (m *memoryStore) Create(ctx context.Context) (*Conversation, error) {
	conv := &Conversation{ID: uuid.New()}
	m.convs[conv.ID] = conv
	return conv, nil
}

func (m *memoryStore) Get(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	if conv, ok := m.convs[id]; ok {
		return conv, nil
	}
	return nil, ErrNotFound
}

func (m *memoryStore) AppendTurn(ctx context.Context, conversationID uuid.UUID, role, content string, citations []retrieval.Citation) (*Turn, error) {
	if _, ok := m.convs[conversationID]; !ok {
		return nil, ErrNotFound
	}
	turn := Turn{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Sequence:       len(m.turns[conversationID]),
		Role:           role,
		Content:        content,
		Citations:      citations,
	}
	m.turns[conversationID] = append(m.turns[conversationID], turn)
	return &turn, nil
}

func (m *memoryStore) Turns(ctx context.Context, conversationID uuid.UUID) ([]Turn, error) {
	return m.turns[conversationID], nil
}

func (m *memoryStore) SetTitle(ctx context.Context, id uuid.UUID, title string) error {
	if _, ok := m.convs[id]; !ok {
		return ErrNotFound
	}
	m.titles[id] = title
	return nil
}

// recordingSink records the event stream in order.
type recordingSink struct {
	events []string // "source:<url>" or "delta:<text>"
	err    error    // returned from every call when set
}

func (r *recordingSink) Source(c retrieval.Citation) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, "source:"+c.URL)
	return nil
}

func (r *recordingSink) TextDelta(text string) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, "delta:"+text)
	return nil
}

func groundedContext() *retrieval.GroundingContext {
	return &retrieval.GroundingContext{
		Grounded:   true,
		Text:       "[1] (source: https://example.com/keuring)\nJaarlijkse keuring is verplicht.",
		Citations:  []retrieval.Citation{{Index: 1, Title: "Keuring", URL: "https://example.com/keuring"}},
		ChunksUsed: 1,
	}
}

func TestRespondStreamsSourcesBeforeText(t *testing.T) {
	store := newMemoryStore()
	gen := &fakeGenerator{answer: "Ja, jaarlijks [1]."}
	o := NewOrchestrator(&fakeRetriever{grounding: groundedContext()}, gen, store, log.NewNop())
	sink := &recordingSink{}

	exchange, err := o.Respond(context.Background(), Request{Message: "Hoe vaak keuren?"}, sink)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	if len(sink.events) < 2 {
		t.Fatalf("too few events: %v", sink.events)
	}
	if sink.events[0] != "source:https://example.com/keuring" {
		t.Errorf("first event = %q, want the source", sink.events[0])
	}
	for i, ev := range sink.events[1:] {
		if !strings.HasPrefix(ev, "delta:") {
			t.Errorf("event %d = %q, want a text delta after the sources", i+1, ev)
		}
	}

	var streamed strings.Builder
	for _, ev := range sink.events[1:] {
		streamed.WriteString(strings.TrimPrefix(ev, "delta:"))
	}
	if streamed.String() != "Ja, jaarlijks [1]." {
		t.Errorf("streamed text = %q, want full answer", streamed.String())
	}

	if exchange.AssistantTurn == nil || exchange.AssistantTurn.Content != "Ja, jaarlijks [1]." {
		t.Errorf("assistant turn = %+v", exchange.AssistantTurn)
	}
	if len(exchange.AssistantTurn.Citations) != 1 {
		t.Errorf("assistant turn citations = %+v", exchange.AssistantTurn.Citations)
	}
	if !strings.Contains(gen.gotSystem, "Jaarlijkse keuring is verplicht.") {
		t.Error("grounding text missing from system prompt")
	}
}

func TestRespondPersistsBothTurns(t *testing.T) {
	store := newMemoryStore()
	o := NewOrchestrator(&fakeRetriever{grounding: groundedContext()},
		&fakeGenerator{answer: "antwoord"}, store, log.NewNop())

	exchange, err := o.Respond(context.Background(), Request{Message: "vraag"}, &recordingSink{})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	turns := store.turns[exchange.ConversationID]
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(turns))
	}
	if turns[0].Role != RoleUser || turns[0].Content != "vraag" {
		t.Errorf("turn 0 = %+v", turns[0])
	}
	if turns[1].Role != RoleAssistant || turns[1].Sequence != 1 {
		t.Errorf("turn 1 = %+v", turns[1])
	}
}

func TestRespondDerivesTitleOnFirstExchange(t *testing.T) {
	store := newMemoryStore()
	o := NewOrchestrator(&fakeRetriever{grounding: groundedContext()},
		&fakeGenerator{answer: "antwoord"}, store, log.NewNop())

	question := strings.Repeat("waarom ", 20) // longer than the title bound
	exchange, err := o.Respond(context.Background(), Request{Message: question}, &recordingSink{})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	title := store.titles[exchange.ConversationID]
	if title == "" {
		t.Fatal("no title derived on first exchange")
	}
	if n := len([]rune(title)); n > titleMaxRunes {
		t.Errorf("title has %d runes, exceeds %d", n, titleMaxRunes)
	}

	// A second exchange must not overwrite the title.
	store.titles[exchange.ConversationID] = "vastgezet"
	if _, err := o.Respond(context.Background(),
		Request{ConversationID: exchange.ConversationID, Message: "en verder?"}, &recordingSink{}); err != nil {
		t.Fatalf("second Respond: %v", err)
	}
	if store.titles[exchange.ConversationID] != "vastgezet" {
		t.Error("title overwritten on later exchange")
	}
}

func TestRespondContinuesConversationWithHistory(t *testing.T) {
	store := newMemoryStore()
	gen := &fakeGenerator{answer: "vervolg"}
	o := NewOrchestrator(&fakeRetriever{grounding: groundedContext()}, gen, store, log.NewNop())

	first, err := o.Respond(context.Background(), Request{Message: "eerste vraag"}, &recordingSink{})
	if err != nil {
		t.Fatalf("first Respond: %v", err)
	}

	second, err := o.Respond(context.Background(),
		Request{ConversationID: first.ConversationID, Message: "tweede vraag"}, &recordingSink{})
	if err != nil {
		t.Fatalf("second Respond: %v", err)
	}
	if second.ConversationID != first.ConversationID {
		t.Error("second exchange started a new conversation")
	}
	// 2 history turns + the new question.
	if gen.gotHistory != 3 {
		t.Errorf("generator saw %d messages, want 3", gen.gotHistory)
	}
	if len(store.turns[first.ConversationID]) != 4 {
		t.Errorf("got %d turns, want 4", len(store.turns[first.ConversationID]))
	}
}

func TestRespondUngroundedUsesRefusalPrompt(t *testing.T) {
	gen := &fakeGenerator{answer: "Dat staat niet in de documentatie."}
	o := NewOrchestrator(&fakeRetriever{grounding: &retrieval.GroundingContext{}},
		gen, newMemoryStore(), log.NewNop())
	sink := &recordingSink{}

	exchange, err := o.Respond(context.Background(), Request{Message: "iets anders"}, sink)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	for _, ev := range sink.events {
		if strings.HasPrefix(ev, "source:") {
			t.Errorf("ungrounded answer emitted a source event: %q", ev)
		}
	}
	if !strings.Contains(gen.gotSystem, "Do not answer the question from general knowledge") {
		t.Error("ungrounded system prompt missing refusal instruction")
	}
	if len(exchange.AssistantTurn.Citations) != 0 {
		t.Errorf("ungrounded assistant turn has citations: %+v", exchange.AssistantTurn.Citations)
	}
}

func TestRespondCanceledStreamPersistsNoAssistantTurn(t *testing.T) {
	store := newMemoryStore()
	gen := &fakeGenerator{answer: "dit antwoord wordt afgebroken halverwege", failAfter: 2}
	o := NewOrchestrator(&fakeRetriever{grounding: groundedContext()}, gen, store, log.NewNop())

	_, err := o.Respond(context.Background(), Request{Message: "vraag"}, &recordingSink{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}

	for _, turns := range store.turns {
		if len(turns) != 1 {
			t.Fatalf("got %d turns, want 1 (only the user turn)", len(turns))
		}
		if turns[0].Role != RoleUser {
			t.Errorf("surviving turn role = %q, want user", turns[0].Role)
		}
	}
}

func TestRespondValidation(t *testing.T) {
	o := NewOrchestrator(&fakeRetriever{grounding: groundedContext()},
		&fakeGenerator{answer: "x"}, newMemoryStore(), log.NewNop())

	if _, err := o.Respond(context.Background(), Request{Message: "   "}, &recordingSink{}); err == nil {
		t.Error("empty message accepted")
	}

	if _, err := o.Respond(context.Background(),
		Request{ConversationID: uuid.New(), Message: "vraag"}, &recordingSink{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown conversation: error = %v, want ErrNotFound", err)
	}
}

func TestRespondRetrievalErrorAborts(t *testing.T) {
	store := newMemoryStore()
	retErr := errors.New("connection refused")
	o := NewOrchestrator(&fakeRetriever{err: retErr}, &fakeGenerator{answer: "x"}, store, log.NewNop())

	_, err := o.Respond(context.Background(), Request{Message: "vraag"}, &recordingSink{})
	if !errors.Is(err, retErr) {
		t.Fatalf("error = %v, want wrapped retrieval error", err)
	}
	// Retrieval runs first, so a fresh chat leaves no conversation row behind.
	if len(store.convs) != 0 {
		t.Errorf("got %d conversations after retrieval failure, want 0", len(store.convs))
	}
	for _, turns := range store.turns {
		if len(turns) != 0 {
			t.Error("turns persisted despite retrieval failure")
		}
	}
}

func TestDeriveTitle(t *testing.T) {
	if got := deriveTitle("korte vraag"); got != "korte vraag" {
		t.Errorf("deriveTitle = %q", got)
	}
	long := strings.Repeat("magazijn ", 30)
	got := deriveTitle(long)
	if n := len([]rune(got)); n > titleMaxRunes {
		t.Errorf("title has %d runes, exceeds %d", n, titleMaxRunes)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("truncated title missing ellipsis: %q", got)
	}
}

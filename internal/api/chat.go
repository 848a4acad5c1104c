package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/stelwijs/stelwijs/internal/api/sse"
	"github.com/stelwijs/stelwijs/internal/conversation"
	"github.com/stelwijs/stelwijs/internal/retrieval"
)

type chatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

type doneEvent struct {
	ConversationID uuid.UUID            `json:"conversation_id"`
	Citations      []retrieval.Citation `json:"citations,omitempty"`
}

// sseSink forwards orchestrator events onto the SSE stream.
type sseSink struct {
	ctx    context.Context
	writer *sse.Writer
}

func (s *sseSink) Source(citation retrieval.Citation) error {
	return s.writer.WriteEvent(s.ctx, sse.EventSource, citation)
}

func (s *sseSink) TextDelta(text string) error {
	return s.writer.WriteEvent(s.ctx, sse.EventTextDelta, map[string]string{"text": text})
}

// handleChatStream answers one chat message as an SSE stream: source events
// first, then text deltas, then a done event carrying the conversation ID.
// Errors before the first event are plain HTTP errors; after that the stream
// is committed and failures arrive as error events.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", s.logger)
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required", s.logger)
		return
	}

	conversationID := uuid.Nil
	if req.ConversationID != "" {
		parsed, err := uuid.Parse(req.ConversationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid conversation id", s.logger)
			return
		}
		conversationID = parsed
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported", s.logger)
		return
	}

	ctx := r.Context()
	sink := &sseSink{ctx: ctx, writer: writer}

	exchange, err := s.cfg.Responder.Respond(ctx, conversation.Request{
		ConversationID: conversationID,
		Message:        req.Message,
	}, sink)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			// Headers are already sent; the status line cannot say 404 anymore.
			_ = writer.WriteError(ctx, "conversation not found")
			return
		}
		s.logger.Error("chat stream failed", "error", err, "request_id", requestID(ctx))
		_ = writer.WriteError(ctx, "answer generation failed")
		return
	}

	done := doneEvent{ConversationID: exchange.ConversationID}
	if exchange.Grounding != nil {
		done.Citations = exchange.Grounding.Citations
	}
	if err := writer.WriteEvent(ctx, sse.EventDone, done); err != nil {
		s.logger.Debug("writing done event", "error", err)
	}
}

package api

import (
	"net/http"
	"strconv"

	"github.com/stelwijs/stelwijs/internal/knowledge"
)

const maxSearchTopK = 50

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query parameter q is required", s.logger)
		return
	}

	topK := 0
	if raw := r.URL.Query().Get("top_k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxSearchTopK {
			writeError(w, http.StatusBadRequest, "invalid_request", "top_k must be between 1 and 50", s.logger)
			return
		}
		topK = parsed
	}

	results, err := s.cfg.Searcher.Lookup(r.Context(), query, topK)
	if err != nil {
		s.logger.Error("search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search_failed", "search failed", s.logger)
		return
	}

	if results == nil {
		results = []knowledge.SimilarityResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results}, s.logger)
}

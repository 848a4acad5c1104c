package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/stelwijs/stelwijs/internal/knowledge"
	"github.com/stelwijs/stelwijs/internal/scrape"
)

type ingestRequest struct {
	URL string `json:"url"`
}

type ingestBatchRequest struct {
	URLs []string `json:"urls"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", s.logger)
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "url is required", s.logger)
		return
	}

	result, err := s.cfg.Ingestor.Ingest(r.Context(), req.URL)
	if err != nil {
		var acqErr *scrape.AcquisitionError
		if errors.As(err, &acqErr) {
			writeError(w, http.StatusBadGateway, "acquisition_failed", err.Error(), s.logger)
			return
		}
		s.logger.Error("ingestion failed", "url", req.URL, "error", err)
		writeError(w, http.StatusInternalServerError, "ingestion_failed", "ingestion failed", s.logger)
		return
	}

	status := http.StatusCreated
	if result.Skipped {
		status = http.StatusOK
	}
	writeJSON(w, status, result, s.logger)
}

func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	var req ingestBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", s.logger)
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "urls is required", s.logger)
		return
	}

	results, err := s.cfg.Ingestor.IngestBatch(r.Context(), req.URLs)
	if err != nil && len(results) == 0 {
		s.logger.Error("batch ingestion failed", "urls", len(req.URLs), "error", err)
		writeError(w, http.StatusBadGateway, "ingestion_failed", err.Error(), s.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results}, s.logger)
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid document id", s.logger)
		return
	}

	result, err := s.cfg.Ingestor.Reprocess(r.Context(), id)
	if err != nil {
		if errors.Is(err, knowledge.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "document not found", s.logger)
			return
		}
		s.logger.Error("reprocess failed", "document_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "reprocess_failed", "reprocess failed", s.logger)
		return
	}

	writeJSON(w, http.StatusOK, result, s.logger)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.cfg.Documents.ListDocuments(r.Context())
	if err != nil {
		s.logger.Error("listing documents failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "listing documents failed", s.logger)
		return
	}

	// An empty library is a valid answer, not a null one.
	if docs == nil {
		docs = []knowledge.DocumentInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs}, s.logger)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid document id", s.logger)
		return
	}

	if err := s.cfg.Documents.DeleteDocument(r.Context(), id); err != nil {
		if errors.Is(err, knowledge.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "document not found", s.logger)
			return
		}
		s.logger.Error("deleting document failed", "document_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "delete_failed", "deleting document failed", s.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/dunamismax/linework/internal/domain"
	"github.com/dunamismax/linework/internal/pipeline"
)

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	rawMode := r.PathValue("mode")
	mode, err := domain.ParseColorMode(rawMode)
	if err != nil {
		writeError(w, invalidMode(rawMode))
		return
	}

	up, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !s.admit(w, r, len(up.Items)) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	startedAt := time.Now()
	results, err := s.converter.Process(ctx, up.Items, mode)
	s.metrics.observeBatch(mode, len(up.Items), time.Since(startedAt), err)
	if err != nil {
		s.logger.Printf("convert batch failed mode=%s files=%d kind=%s err=%v", mode, len(up.Items), pipeline.ErrorKind(err), err)
		writeError(w, err)
		return
	}

	s.logger.Printf("converted batch mode=%s files=%d duration=%s", mode, len(results), time.Since(startedAt).Round(time.Millisecond))
	writeJSON(w, http.StatusOK, domain.NewBatchResponse(mode, results))
}

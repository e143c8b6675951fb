package api

import (
	"net/http"
	"strings"

	"github.com/MrWong99/talkwire/pkg/provider/analysis"
	"github.com/MrWong99/talkwire/pkg/store"
)

type analyzeCallRequest struct {
	UserInterpretation string `json:"user_interpretation"`
}

type analysisResponse struct {
	CallID             int64  `json:"call_id"`
	UserInterpretation string `json:"user_interpretation"`
	Result             string `json:"result"`
}

// handleAnalyzeCall runs the analysis provider over a stored transcript and
// persists the result, replacing any earlier analysis for the call.
func (s *Server) handleAnalyzeCall(w http.ResponseWriter, r *http.Request) {
	callID, ok := callIDFrom(w, r)
	if !ok {
		return
	}
	var req analyzeCallRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if _, err := s.store.GetCall(r.Context(), callID); err != nil {
		writeDomainError(w, err)
		return
	}
	transcript, err := s.store.GetTranscript(r.Context(), callID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if strings.TrimSpace(transcript.Content) == "" {
		writeError(w, http.StatusBadRequest, "no transcript available for this call")
		return
	}
	if s.analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis is not configured")
		return
	}

	result, err := s.analyzer.Analyze(r.Context(), analysis.Request{
		Transcript: transcript.Content,
		Guidelines: req.UserInterpretation,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	rec := store.Analysis{
		CallID:         callID,
		Interpretation: req.UserInterpretation,
		Result:         result,
	}
	if err := s.store.SaveAnalysis(r.Context(), rec); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysisResponse{
		CallID:             callID,
		UserInterpretation: rec.Interpretation,
		Result:             rec.Result,
	})
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	callID, ok := callIDFrom(w, r)
	if !ok {
		return
	}
	rec, err := s.store.GetAnalysis(r.Context(), callID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysisResponse{
		CallID:             rec.CallID,
		UserInterpretation: rec.Interpretation,
		Result:             rec.Result,
	})
}

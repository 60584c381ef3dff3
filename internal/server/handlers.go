package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/citategenie/resolution-service/internal/domain"
	"github.com/citategenie/resolution-service/internal/observability"
)

// maxRequestBodySize bounds request bodies at 1 MB.
const maxRequestBodySize = 1 << 20

// citationPayload is one citation inside a resolve request.
type citationPayload struct {
	RawText string `json:"raw_text" validate:"required,max=2000"`
}

// resolveRequest is the JSON body for resolving a single citation.
type resolveRequest struct {
	RawText string `json:"raw_text" validate:"required,max=2000"`
	UserID  int64  `json:"user_id,omitempty" validate:"gte=0"`
	Style   string `json:"style,omitempty" validate:"omitempty,oneof=apa mla chicago harvard"`
}

// resolveDocumentRequest is the JSON body for resolving a document batch.
type resolveDocumentRequest struct {
	UserID    int64             `json:"user_id,omitempty" validate:"gte=0"`
	Style     string            `json:"style,omitempty" validate:"omitempty,oneof=apa mla chicago harvard"`
	Citations []citationPayload `json:"citations" validate:"required,min=1,max=500,dive"`
}

// saveEditRequest is the JSON body for recording a user's kept citation.
type saveEditRequest struct {
	LookupKey       string            `json:"lookup_key" validate:"required,max=512"`
	SavedText       string            `json:"saved_text" validate:"required,max=10000"`
	RecommendedText string            `json:"recommended_text" validate:"max=10000"`
	Overrides       map[string]string `json:"overrides,omitempty" validate:"max=16"`
}

// decodeAndValidate reads, unmarshals and validates a JSON request body.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// resolveCitation handles POST /api/v1/resolve. Resolution itself never
// fails: an unresolvable citation is a 200 with found=false.
func (s *Server) resolveCitation(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	if req.UserID != 0 {
		ctx = observability.WithUserID(ctx, req.UserID)
	}

	result := s.resolver.ResolveOne(ctx, &domain.CitationRequest{
		RawText: req.RawText,
		UserID:  req.UserID,
		Style:   req.Style,
	})

	writeJSON(w, http.StatusOK, resultToResponse(result))
}

// resolveDocument handles POST /api/v1/documents/{documentID}/resolve.
func (s *Server) resolveDocument(w http.ResponseWriter, r *http.Request) {
	documentID, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document ID")
		return
	}

	var req resolveDocumentRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	reqs := make([]*domain.CitationRequest, len(req.Citations))
	for i, c := range req.Citations {
		reqs[i] = &domain.CitationRequest{
			RawText:    c.RawText,
			UserID:     req.UserID,
			DocumentID: documentID,
			Style:      req.Style,
		}
	}

	ctx := observability.WithDocumentSession(r.Context(), documentID.String(), observability.RequestIDFromContext(r.Context()))
	if req.UserID != 0 {
		ctx = observability.WithUserID(ctx, req.UserID)
	}

	results := s.resolver.ResolveBatch(ctx, reqs)

	resp := resolveDocumentResponse{
		DocumentID: documentID.String(),
		Citations:  len(results),
		Results:    make([]resolutionResponse, len(results)),
	}
	for i, res := range results {
		resp.Results[i] = resultToResponse(res)
		resp.TotalCostUSD += res.Cost
		if res.Found {
			resp.Resolved++
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// libraryStats handles GET /api/v1/library/stats.
func (s *Server) libraryStats(w http.ResponseWriter, r *http.Request) {
	topN := 0
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "top must be a non-negative integer")
			return
		}
		topN = n
	}

	stats, err := s.repo.Stats(r.Context(), topN)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load library stats")
		writeError(w, http.StatusServiceUnavailable, "library unavailable")
		return
	}

	writeJSON(w, http.StatusOK, statsToResponse(stats))
}

// purgeRecord handles DELETE /api/v1/library/records/{lookupKey}. Purging
// removes the shared record plus every alias and user entry cascading
// from it.
func (s *Server) purgeRecord(w http.ResponseWriter, r *http.Request) {
	lookupKey := chi.URLParam(r, "lookupKey")
	if lookupKey == "" {
		writeError(w, http.StatusBadRequest, "lookup key is required")
		return
	}

	deleted, err := s.repo.PurgeByKey(r.Context(), lookupKey)
	if err != nil {
		s.logger.Error().Err(err).Str("lookup_key", lookupKey).Msg("failed to purge record")
		writeError(w, http.StatusServiceUnavailable, "library unavailable")
		return
	}
	if deleted == 0 {
		writeError(w, http.StatusNotFound, "no record matches the lookup key")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// saveUserEdit handles POST /api/v1/users/{userID}/edits.
func (s *Server) saveUserEdit(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	var req saveEditRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	record, err := s.repo.GetSharedByKeys(r.Context(), []string{req.LookupKey})
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "no record matches the lookup key")
		return
	case err != nil:
		s.logger.Error().Err(err).Str("lookup_key", req.LookupKey).Msg("failed to load record for edit")
		writeError(w, http.StatusServiceUnavailable, "library unavailable")
		return
	}

	class, err := s.edits.SaveUserEdit(r.Context(), userID, record, req.SavedText, req.RecommendedText, req.Overrides)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "library unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"edit_class": string(class)})
}

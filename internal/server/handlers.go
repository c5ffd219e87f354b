package server

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/huytu0702/graphtog/internal/jobs"
	"github.com/huytu0702/graphtog/internal/jsonx"
	"github.com/huytu0702/graphtog/internal/status"
)

const maxBodyBytes = 16 << 20

type ingestRequest struct {
	DocumentID string `json:"document_id,omitempty"`
	Name       string `json:"name"`
	FilePath   string `json:"file_path,omitempty"`
	Content    string `json:"content"`
	Async      bool   `json:"async,omitempty"`
}

type queryRequest struct {
	Question    string   `json:"question"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.write(w, status.Fail(status.E(status.KindInvalidInput, "content is empty")))
		return
	}
	if req.DocumentID == "" {
		req.DocumentID = uuid.NewString()
	}

	if req.Async && s.deps.Jobs != nil {
		jobID, err := s.deps.Jobs.Enqueue(r.Context(), jobs.KindIngestDocument, jobs.IngestPayload{
			DocumentID: req.DocumentID,
			Name:       req.Name,
			FilePath:   req.FilePath,
			Content:    req.Content,
		})
		if err != nil {
			s.write(w, status.Fail(err))
			return
		}
		s.writeCode(w, http.StatusAccepted, status.OK(map[string]string{
			"job_id":      jobID,
			"document_id": req.DocumentID,
		}))
		return
	}

	result, err := s.deps.Ingestor.IngestDocument(r.Context(), req.DocumentID, req.Name, req.FilePath, req.Content)
	if err != nil {
		s.write(w, status.Fail(err))
		return
	}
	s.write(w, status.OK(result))
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Store.GetDocument(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.write(w, status.Fail(err))
		return
	}
	s.write(w, status.OK(doc))
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.deps.Store.DeleteDocumentSubgraph(r.Context(), id); err != nil {
		s.write(w, status.Fail(err))
		return
	}
	s.write(w, status.OK(map[string]string{"document_id": id, "deleted": "true"}))
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.write(w, s.deps.Query.Query(r.Context(), req.Question))
}

func (s *Server) handleReason(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.write(w, s.deps.Reasoner.AnswerScoped(r.Context(), req.Question, req.DocumentIDs))
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Types []string `json:"types,omitempty"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.enqueue(w, r, jobs.KindResolveEntities, jobs.ResolvePayload{Types: req.Types})
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	s.enqueue(w, r, jobs.KindDetectCommunity, nil)
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CommunityIDs []int `json:"community_ids,omitempty"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.enqueue(w, r, jobs.KindSummarize, jobs.SummarizePayload{CommunityIDs: req.CommunityIDs})
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, kind jobs.Kind, payload any) {
	if s.deps.Jobs == nil {
		s.write(w, status.Fail(status.E(status.KindInvalidInput, "background jobs are not configured")))
		return
	}
	jobID, err := s.deps.Jobs.Enqueue(r.Context(), kind, payload)
	if err != nil {
		s.write(w, status.Fail(err))
		return
	}
	s.writeCode(w, http.StatusAccepted, status.OK(map[string]string{"job_id": jobID}))
}

func (s *Server) handleEntitySearch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Search == nil {
		s.write(w, status.Fail(status.E(status.KindInvalidInput, "entity search is not configured")))
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.write(w, status.Fail(status.E(status.KindInvalidInput, "query parameter q is empty")))
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	matches, err := s.deps.Search.FuzzyFind(r.Context(), q, r.URL.Query().Get("type"), limit)
	if err != nil {
		s.write(w, status.Fail(err))
		return
	}
	s.write(w, status.OK(matches))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Store.GraphStatistics(r.Context())
	if err != nil {
		s.write(w, status.Fail(err))
		return
	}
	s.write(w, status.OK(stats))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.write(w, status.OK(map[string]string{"status": "ok"}))
}

// decode reads and unmarshals the body; on failure it writes the error
// envelope and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.write(w, status.Fail(status.Wrap(status.KindInvalidInput, "read request body", err)))
		return false
	}
	if len(body) == 0 {
		// Endpoints with all-optional fields accept an empty body.
		return true
	}
	if err := jsonx.Unmarshal(body, out); err != nil {
		s.write(w, status.Fail(status.Wrap(status.KindInvalidInput, "parse request body", err)))
		return false
	}
	return true
}

func (s *Server) write(w http.ResponseWriter, env status.Envelope) {
	s.writeCode(w, httpCode(env), env)
}

func (s *Server) writeCode(w http.ResponseWriter, code int, env status.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	data, err := jsonx.Marshal(env)
	if err != nil {
		s.logger.Error("encode response", zap.Error(err))
		return
	}
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("write response", zap.Error(err))
	}
}

// httpCode maps an envelope onto an HTTP status. Partial results are still
// 200s; the envelope's own status field carries the nuance.
func httpCode(env status.Envelope) int {
	switch env.Status {
	case status.StatusSuccess, status.StatusPartial:
		return http.StatusOK
	case status.StatusNotFound:
		return http.StatusNotFound
	}
	switch env.ErrorKind {
	case status.KindInvalidInput:
		return http.StatusBadRequest
	case status.KindNotFound:
		return http.StatusNotFound
	case status.KindInsufficientEvidence, status.KindCycle:
		return http.StatusUnprocessableEntity
	case status.KindLLMTransient, status.KindGraphUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

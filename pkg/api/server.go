package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/promptdeck/agentgate/pkg/approvals"
	"github.com/promptdeck/agentgate/pkg/audit"
	"github.com/promptdeck/agentgate/pkg/events"
	"github.com/promptdeck/agentgate/pkg/policy"
	"github.com/promptdeck/agentgate/pkg/preview"
)

const maxBodyBytes = 1 << 20 // 1MB limit

// Server exposes the approvals service over localhost HTTP.
type Server struct {
	svc     *approvals.Service
	bus     *events.Bus
	prefs   policy.PreferenceStore
	issuer  *TokenIssuer
	limiter LimiterStore
	auditor audit.Logger
	logger  *slog.Logger
}

// NewServer wires the HTTP surface. Auth and rate limiting are attached
// with the With helpers; without them the surface trusts local callers.
func NewServer(svc *approvals.Service, bus *events.Bus, prefs policy.PreferenceStore) *Server {
	return &Server{
		svc:     svc,
		bus:     bus,
		prefs:   prefs,
		auditor: audit.NopLogger{},
		logger:  slog.Default().With("component", "api"),
	}
}

// WithAuth enables bearer-token authentication.
func (s *Server) WithAuth(issuer *TokenIssuer) *Server {
	s.issuer = issuer
	return s
}

// WithLimiter enables per-client rate limiting.
func (s *Server) WithLimiter(store LimiterStore) *Server {
	s.limiter = store
	return s
}

// WithAudit attaches the audit trail for policy changes.
func (s *Server) WithAudit(log audit.Logger) *Server {
	if log != nil {
		s.auditor = log
	}
	return s
}

// WithLogger overrides the default logger.
func (s *Server) WithLogger(logger *slog.Logger) *Server {
	if logger != nil {
		s.logger = logger.With("component", "api")
	}
	return s
}

// Handler assembles the route table and middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/previews", s.handlePreviews)
	mux.HandleFunc("/v1/previews/", s.handlePreviewByID)
	mux.HandleFunc("/v1/approvals", s.handleApprovals)
	mux.HandleFunc("/v1/approvals/", s.handleApprovalByID)
	mux.HandleFunc("/v1/rules", s.handleRules)
	mux.HandleFunc("/v1/watch", s.handleWatch)

	var h http.Handler = mux
	if s.issuer != nil {
		h = Auth(s.issuer)(h)
	}
	if s.limiter != nil {
		h = RateLimit(s.limiter)(h)
	}
	return RequestID(h)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ProposeRequest is the wire form of a new preview.
type ProposeRequest struct {
	ID              string                 `json:"id,omitempty"`
	SessionID       string                 `json:"session_id"`
	ToolExecutionID string                 `json:"tool_execution_id,omitempty"`
	Tool            string                 `json:"tool"`
	Action          string                 `json:"action"`
	Summary         string                 `json:"summary"`
	Detail          map[string]interface{} `json:"detail,omitempty"`
	OriginalArgs    map[string]interface{} `json:"original_args"`
	Hash            string                 `json:"hash,omitempty"`
}

// ProposeResponse returns the recorded pair and, when policy applied
// the action automatically, the apply outcome.
type ProposeResponse struct {
	Pair    approvals.Pair          `json:"pair"`
	Outcome *approvals.ApplyOutcome `json:"outcome,omitempty"`
}

func (s *Server) handlePreviews(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req ProposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.SessionID == "" || req.Tool == "" {
		WriteBadRequest(w, "Missing required fields: session_id, tool")
		return
	}

	env, err := envelopeFromRequest(req)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	pair, outcome, err := s.svc.Propose(r.Context(), env)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProposeResponse{Pair: *pair, Outcome: outcome})
}

func envelopeFromRequest(req ProposeRequest) (*preview.Envelope, error) {
	if req.ID == "" {
		env, err := preview.NewEnvelope(req.SessionID, preview.Tool(req.Tool), req.Action, req.Summary, req.OriginalArgs, req.Detail)
		if err != nil {
			return nil, err
		}
		env.ToolExecutionID = req.ToolExecutionID
		return env, nil
	}

	// The proposer minted its own id; the service fills hash and
	// timestamp if they are missing.
	tool, err := preview.ParseTool(req.Tool)
	if err != nil {
		return nil, err
	}
	return &preview.Envelope{
		ID:              req.ID,
		SessionID:       req.SessionID,
		ToolExecutionID: req.ToolExecutionID,
		Tool:            tool,
		Action:          req.Action,
		Summary:         req.Summary,
		Detail:          req.Detail,
		OriginalArgs:    req.OriginalArgs,
		Hash:            req.Hash,
	}, nil
}

func (s *Server) handlePreviewByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/previews/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "cancel" {
		WriteNotFound(w, "Unknown preview endpoint")
		return
	}
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	a, err := s.svc.CancelPreview(r.Context(), parts[0])
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	pairs, err := s.svc.ListApprovals(r.Context(), r.URL.Query().Get("session"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	if pairs == nil {
		pairs = []approvals.Pair{}
	}
	writeJSON(w, http.StatusOK, pairs)
}

// ApplyRequest carries optional reviewer edits for an apply.
type ApplyRequest struct {
	Args map[string]interface{} `json:"args,omitempty"`
}

// RejectRequest carries optional reviewer feedback for a rejection.
type RejectRequest struct {
	FeedbackText string                 `json:"feedback_text,omitempty"`
	FeedbackMeta map[string]interface{} `json:"feedback_meta,omitempty"`
}

func (s *Server) handleApprovalByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/approvals/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			WriteMethodNotAllowed(w)
			return
		}
		s.getApproval(w, r, parts[0])
	case len(parts) == 2 && parts[0] != "" && parts[1] == "apply":
		if r.Method != http.MethodPost {
			WriteMethodNotAllowed(w)
			return
		}
		s.applyApproval(w, r, parts[0])
	case len(parts) == 2 && parts[0] != "" && parts[1] == "reject":
		if r.Method != http.MethodPost {
			WriteMethodNotAllowed(w)
			return
		}
		s.rejectApproval(w, r, parts[0])
	default:
		WriteNotFound(w, "Unknown approval endpoint")
	}
}

func (s *Server) getApproval(w http.ResponseWriter, r *http.Request, id string) {
	pair, err := s.svc.GetApproval(r.Context(), id)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) applyApproval(w http.ResponseWriter, r *http.Request, id string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req ApplyRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteBadRequest(w, "Invalid request body")
			return
		}
	}

	outcome, err := s.svc.ApplyApproval(r.Context(), id, req.Args)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) rejectApproval(w http.ResponseWriter, r *http.Request, id string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req RejectRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteBadRequest(w, "Invalid request body")
			return
		}
	}

	a, err := s.svc.RejectApproval(r.Context(), id, req.FeedbackText, req.FeedbackMeta)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		raw, ok, err := s.prefs.GetPreference(r.Context(), "", policy.KeyAutoRules)
		if err != nil {
			WriteInternal(w, err)
			return
		}
		rules := []policy.Rule{}
		if ok {
			if decoded := policy.DecodeRules(raw); decoded != nil {
				rules = decoded
			}
		}
		writeJSON(w, http.StatusOK, rules)

	case http.MethodPut:
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var rules []policy.Rule
		if err := json.NewDecoder(r.Body).Decode(&rules); err != nil {
			WriteBadRequest(w, "Invalid request body: expected a rule array")
			return
		}

		raw, err := policy.EncodeRules(rules)
		if err != nil {
			WriteInternal(w, err)
			return
		}
		if err := s.prefs.SetPreference(r.Context(), "", policy.KeyAutoRules, raw); err != nil {
			WriteInternal(w, err)
			return
		}

		_ = s.auditor.Record(r.Context(), audit.EventPolicy, "", "surface", "rules_changed", "preferences:"+policy.KeyAutoRules,
			map[string]interface{}{"rule_count": len(rules)})
		s.logger.Info("auto-approval rules replaced", "rule_count", len(rules))
		writeJSON(w, http.StatusOK, rules)

	default:
		WriteMethodNotAllowed(w)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

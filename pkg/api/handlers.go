package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/contractflow/contractflow/pkg/workflow"
)

type submitRequest struct {
	TrackType string `json:"track_type"`
	Version   int64  `json:"version,omitempty"`
}

type versionRequest struct {
	Version int64 `json:"version,omitempty"`
}

type decisionRequest struct {
	Comment string `json:"comment"`
	Version int64  `json:"version,omitempty"`
}

type signedRequest struct {
	AttachmentRef string `json:"attachment_ref"`
	Version       int64  `json:"version,omitempty"`
}

type cancelRequest struct {
	Reason  string `json:"reason"`
	Version int64  `json:"version,omitempty"`
}

type listResponse struct {
	Contracts []*workflow.Contract `json:"contracts"`
	Limit     int                  `json:"limit"`
	Offset    int                  `json:"offset"`
}

type auditResponse struct {
	ContractID string                `json:"contract_id"`
	Entries    []*workflow.AuditEntry `json:"entries"`
}

type actionsResponse struct {
	ContractID string                     `json:"contract_id"`
	ActorID    string                     `json:"actor_id"`
	Actions    []workflow.AvailableAction `json:"actions"`
}

func actor(r *http.Request) string { return r.Header.Get(HeaderActor) }

func writeView(w http.ResponseWriter, status int, v *workflow.ContractView) {
	w.Header().Set("ETag", etag(v.Contract.Version))
	WriteJSON(w, status, v)
}

// versioned decodes the body into dst and resolves the expected version.
func versioned(r *http.Request, dst any, body func() int64) ([]workflow.CallOption, error) {
	if err := ReadJSON(r, dst); err != nil {
		return nil, badRequest("malformed request body", err)
	}
	v, err := expectedVersion(r, body())
	if err != nil {
		return nil, err
	}
	if v == 0 {
		return nil, nil
	}
	return []workflow.CallOption{workflow.AtVersion(v)}, nil
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in workflow.CreateInput
	if err := ReadJSON(r, &in); err != nil {
		WriteError(w, r, badRequest("malformed request body", err))
		return
	}
	v, err := s.engine.Create(r.Context(), actor(r), in)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/contracts/"+v.Contract.ID)
	writeView(w, http.StatusCreated, v)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var status *workflow.ContractStatus
	if q := r.URL.Query().Get("status"); q != "" {
		st := workflow.ContractStatus(q)
		status = &st
	}
	contracts, err := s.engine.ListContracts(r.Context(), status, limit, offset)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if contracts == nil {
		contracts = []*workflow.Contract{}
	}
	WriteJSON(w, http.StatusOK, listResponse{Contracts: contracts, Limit: limit, Offset: offset})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.GetContract(r.Context(), chi.URLParam(r, "contract_id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeView(w, http.StatusOK, v)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "contract_id")
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	entries, err := s.engine.AuditTrail(r.Context(), id, limit, offset)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*workflow.AuditEntry{}
	}
	WriteJSON(w, http.StatusOK, auditResponse{ContractID: id, Entries: entries})
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "contract_id")
	actions, err := s.engine.AvailableActions(r.Context(), actor(r), id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if actions == nil {
		actions = []workflow.AvailableAction{}
	}
	WriteJSON(w, http.StatusOK, actionsResponse{ContractID: id, ActorID: actor(r), Actions: actions})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	opts, err := versioned(r, &req, func() int64 { return req.Version })
	if err != nil {
		WriteError(w, r, err)
		return
	}
	v, err := s.engine.Submit(r.Context(), actor(r), chi.URLParam(r, "contract_id"), workflow.TrackType(req.TrackType), opts...)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeView(w, http.StatusOK, v)
}

func (s *Server) handleStartReview(w http.ResponseWriter, r *http.Request) {
	var req versionRequest
	opts, err := versioned(r, &req, func() int64 { return req.Version })
	if err != nil {
		WriteError(w, r, err)
		return
	}
	v, err := s.engine.StartReview(r.Context(), actor(r), chi.URLParam(r, "track_id"), opts...)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeView(w, http.StatusOK, v)
}

// decisionFunc is the shape of Approve, Reject and RequestRevision.
type decisionFunc func(ctx context.Context, actorID, trackID, comment string, opts ...workflow.CallOption) (*workflow.ContractView, error)

func (s *Server) handleDecision(decide decisionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req decisionRequest
		opts, err := versioned(r, &req, func() int64 { return req.Version })
		if err != nil {
			WriteError(w, r, err)
			return
		}
		v, err := decide(r.Context(), actor(r), chi.URLParam(r, "track_id"), req.Comment, opts...)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		writeView(w, http.StatusOK, v)
	}
}

func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	var req versionRequest
	opts, err := versioned(r, &req, func() int64 { return req.Version })
	if err != nil {
		WriteError(w, r, err)
		return
	}
	v, err := s.engine.Escalate(r.Context(), actor(r), chi.URLParam(r, "track_id"), opts...)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeView(w, http.StatusOK, v)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req versionRequest
	opts, err := versioned(r, &req, func() int64 { return req.Version })
	if err != nil {
		WriteError(w, r, err)
		return
	}
	v, err := s.engine.Send(r.Context(), actor(r), chi.URLParam(r, "contract_id"), opts...)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeView(w, http.StatusOK, v)
}

func (s *Server) handleUploadSigned(w http.ResponseWriter, r *http.Request) {
	var req signedRequest
	opts, err := versioned(r, &req, func() int64 { return req.Version })
	if err != nil {
		WriteError(w, r, err)
		return
	}
	v, err := s.engine.UploadSigned(r.Context(), actor(r), chi.URLParam(r, "contract_id"), req.AttachmentRef, opts...)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeView(w, http.StatusOK, v)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	opts, err := versioned(r, &req, func() int64 { return req.Version })
	if err != nil {
		WriteError(w, r, err)
		return
	}
	v, err := s.engine.Cancel(r.Context(), actor(r), chi.URLParam(r, "contract_id"), req.Reason, opts...)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeView(w, http.StatusOK, v)
}

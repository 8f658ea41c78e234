package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/sage-x-project/kds/groupkey"
	"github.com/sage-x-project/kds/internal/kdserrors"
	"github.com/sage-x-project/kds/internal/logger"
	"github.com/sage-x-project/kds/storage"
	"github.com/sage-x-project/kds/ticket"
	"github.com/sage-x-project/kds/validator"
)

// Server wires storage.Manager, validator.Validator, ticket.Issuer and
// groupkey.Issuer into the spec §6 wire API.
type Server struct {
	storage  *storage.Manager
	validate *validator.Validator
	tickets  *ticket.Issuer
	groups   *groupkey.Issuer
	log      logger.Logger
}

// New builds a Server and its http.ServeMux.
func New(storageMgr *storage.Manager, v *validator.Validator, tickets *ticket.Issuer, groups *groupkey.Issuer, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefaultLogger()
	}
	return &Server{storage: storageMgr, validate: v, tickets: tickets, groups: groups, log: log}
}

// Handler builds the http.Handler serving spec §6's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /v1/keys/{name}", s.handleSetKey)
	mux.HandleFunc("DELETE /v1/keys/{name}", s.handleDeleteKey)
	mux.HandleFunc("PUT /v1/groups/{name}", s.handleCreateGroup)
	mux.HandleFunc("DELETE /v1/groups/{name}", s.handleDeleteGroup)
	mux.HandleFunc("POST /v1/tickets", s.handleIssueTicket)
	mux.HandleFunc("POST /v1/groups", s.handleIssueGroupKey)
	return mux
}

func (s *Server) handleSetKey(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req setKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, kdserrors.NewBadRequestError("key", err))
		return
	}
	key, err := base64.StdEncoding.DecodeString(req.Key)
	if err != nil {
		writeError(w, s.log, kdserrors.NewBadRequestError("key", err))
		return
	}

	gen, err := s.storage.SetKey(r.Context(), name, key, nil)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, setKeyResponse{Name: name, Generation: gen})
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.storage.DeleteKey(r.Context(), name); err != nil {
		writeError(w, s.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	created, err := s.storage.CreateGroup(r.Context(), name)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if !created {
		writeError(w, s.log, kdserrors.NewConflictError("duplicate"))
		return
	}
	writeJSON(w, http.StatusOK, createGroupResponse{Name: name})
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.storage.DeleteGroup(r.Context(), name); err != nil {
		writeError(w, s.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIssueTicket(w http.ResponseWriter, r *http.Request) {
	var req signedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, kdserrors.NewBadRequestError("body", err))
		return
	}

	vr, err := s.validate.Validate(r.Context(), req.Metadata, req.Signature)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	resp, err := s.tickets.Issue(r.Context(), vr)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, ticketResponse{Metadata: resp.Metadata, Signature: resp.Signature, Ticket: resp.Ticket})
}

func (s *Server) handleIssueGroupKey(w http.ResponseWriter, r *http.Request) {
	var req signedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, kdserrors.NewBadRequestError("body", err))
		return
	}

	vr, err := s.validate.Validate(r.Context(), req.Metadata, req.Signature)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	groupKey, err := s.validate.ValidateGroupMembership(r.Context(), vr)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	resp, err := s.groups.Issue(r.Context(), vr, groupKey)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, groupKeyResponse{Metadata: resp.Metadata, Signature: resp.Signature, GroupKey: resp.Payload})
}

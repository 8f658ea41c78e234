package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sage-x-project/kds/internal/kdserrors"
	"github.com/sage-x-project/kds/internal/logger"
)

// writeError implements spec §6/§7's error code mapping: malformed
// input -> 400, expired/bad signature/non-member -> 401, unknown
// endpoint -> 404, duplicate group -> 409, crypto failure or anything
// else unrecognized -> 500 with a generic message (never echoing
// internal detail for crypto failures, per spec §7).
func writeError(w http.ResponseWriter, log logger.Logger, err error) {
	status, msg := classify(err)
	if status == http.StatusInternalServerError {
		log.Error("internal error", logger.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func classify(err error) (int, string) {
	var br *kdserrors.BadRequestError
	if errors.As(err, &br) {
		return http.StatusBadRequest, br.Error()
	}
	var ue *kdserrors.UnauthorizedError
	if errors.As(err, &ue) {
		return http.StatusUnauthorized, ue.Error()
	}
	var knf *kdserrors.KeyNotFoundError
	if errors.As(err, &knf) {
		return http.StatusNotFound, knf.Error()
	}
	var gsc *kdserrors.GroupStatusChangedError
	if errors.As(err, &gsc) {
		return http.StatusConflict, gsc.Error()
	}
	var ce *kdserrors.ConflictError
	if errors.As(err, &ce) {
		return http.StatusConflict, ce.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

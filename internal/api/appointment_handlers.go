package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/sharetribe/ftw-time/internal/appointment"
	"github.com/sharetribe/ftw-time/internal/pkg/httputil"
)

type acceptResponse struct {
	IsSuccess bool   `json:"isSuccess"`
	Payload   string `json:"payload"`
}

// uuidRef is a resource id sent either as a plain UUID string
// (a decoded Transit ~u value) or as the SDK's {"uuid": "..."} object.
type uuidRef string

func (t *uuidRef) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = uuidRef(s)
		return nil
	}
	var obj struct {
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*t = uuidRef(obj.UUID)
	return nil
}

// AcceptAppointment creates the Zoom meeting for an accepted booking and
// emails both parties.
//
//	POST /api/appointment/accept {"id": <transaction uuid>}
func (h *Handlers) AcceptAppointment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID uuidRef `json:"id"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if _, err := uuid.Parse(string(req.ID)); err != nil {
		httputil.BadRequest(w, "id must be a transaction uuid")
		return
	}

	_, err := h.appointment.Accept(r.Context(), string(req.ID))
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, acceptResponse{IsSuccess: true, Payload: "Successfully"})
	case errors.Is(err, appointment.ErrProviderNotConnected):
		respondJSON(w, http.StatusUnauthorized, acceptResponse{IsSuccess: false, Payload: "Missing Zoom Data"})
	case errors.Is(err, appointment.ErrInProgress):
		respondJSON(w, http.StatusConflict, acceptResponse{IsSuccess: false, Payload: "Accept already in progress"})
	default:
		httputil.TextError(w, http.StatusInternalServerError, err)
	}
}

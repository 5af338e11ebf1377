// Package httpapi exposes the operator REST surface over the coordination
// services.
package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	app "github.com/wagerline/sync_core/internal/app"
	"github.com/wagerline/sync_core/internal/dispatch"
	"github.com/wagerline/sync_core/internal/domain/market"
	"github.com/wagerline/sync_core/internal/domain/order"
	"github.com/wagerline/sync_core/internal/domain/reaction"
	"github.com/wagerline/sync_core/internal/fault"
	"github.com/wagerline/sync_core/internal/fulfillment"
	"github.com/wagerline/sync_core/internal/resolution"
	"github.com/wagerline/sync_core/internal/submission"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a mux exposing the core REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	mux := http.NewServeMux()
	mux.HandleFunc("/orders/", h.orderResources)
	mux.HandleFunc("/markets/", h.marketResources)
	mux.HandleFunc("/coupons", h.submitCoupon)
	mux.HandleFunc("/reactions/", h.reactionResources)
	mux.HandleFunc("/quota/", h.quotaResources)
	mux.HandleFunc("/commands", h.commands)
	return mux
}

func (h *handler) submitCoupon(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload submission.Coupon
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Title == "" || payload.Stake <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("title and a positive stake are required"))
		return
	}

	resp, err := h.app.Submissions.Submit(r.Context(), payload)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, json.RawMessage(resp))
}

func (h *handler) orderResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/orders"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	orderID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			ord, ok := h.app.Fulfillment.Order(orderID)
			if !ok {
				writeError(w, http.StatusNotFound, fmt.Errorf("order %s not tracked", orderID))
				return
			}
			writeJSON(w, http.StatusOK, ord)
		case http.MethodPatch:
			h.patchOrder(w, r, orderID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if len(parts) != 2 || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var (
		ord order.Order
		err error
	)
	switch parts[1] {
	case "advance":
		ord, err = h.app.Fulfillment.Advance(r.Context(), orderID)
	case "cancel":
		ord, err = h.app.Fulfillment.Cancel(r.Context(), orderID)
	case "refund":
		ord, err = h.app.Fulfillment.Refund(r.Context(), orderID)
	case "complete":
		ord, err = h.app.Fulfillment.ContactAndComplete(r.Context(), orderID)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ord)
}

func (h *handler) patchOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	var payload struct {
		TrackingCode *string `json:"tracking_code"`
		CustomerNote *string `json:"customer_note"`
		InternalNote *string `json:"internal_note"`
		NotifyOwner  bool    `json:"notify_owner"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	fields := map[string]*string{
		fulfillment.FieldTrackingCode: payload.TrackingCode,
		fulfillment.FieldCustomerNote: payload.CustomerNote,
		fulfillment.FieldInternalNote: payload.InternalNote,
	}
	var (
		ord        order.Order
		updatedAny bool
	)
	for field, value := range fields {
		if value == nil {
			continue
		}
		updated, err := h.app.Fulfillment.UpdateField(r.Context(), orderID, field, *value, payload.NotifyOwner)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		ord = updated
		updatedAny = true
	}
	if !updatedAny {
		writeError(w, http.StatusBadRequest, fmt.Errorf("no updatable fields in request"))
		return
	}
	writeJSON(w, http.StatusOK, ord)
}

func (h *handler) marketResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/markets"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "resolve" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	marketID := parts[0]

	var payload struct {
		Outcome      string `json:"outcome"`
		EvidenceName string `json:"evidence_name"`
		EvidenceType string `json:"evidence_type"`
		EvidenceData string `json:"evidence_data"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var evidence *resolution.EvidenceUpload
	if payload.EvidenceData != "" {
		data, err := base64.StdEncoding.DecodeString(payload.EvidenceData)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("evidence_data must be base64"))
			return
		}
		evidence = &resolution.EvidenceUpload{
			Filename:    payload.EvidenceName,
			ContentType: payload.EvidenceType,
			Data:        data,
		}
	}

	if err := h.app.Resolution.Resolve(r.Context(), marketID, market.Outcome(payload.Outcome), evidence); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"market_id": marketID, "outcome": payload.Outcome})
}

func (h *handler) reactionResources(w http.ResponseWriter, r *http.Request) {
	entityID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/reactions"), "/")
	if entityID == "" || strings.Contains(entityID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		ent, ok := h.app.Reactions.Entity(entityID)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("entity %s not tracked", entityID))
			return
		}
		writeJSON(w, http.StatusOK, ent)
	case http.MethodPost:
		var payload struct {
			Tag string `json:"tag"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		ent, err := h.app.Reactions.Toggle(r.Context(), entityID, reaction.Tag(payload.Tag))
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, ent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) quotaResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/quota"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	action := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		snap, ok := h.app.Quota.Snapshot(action)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("no quota snapshot for %s", action))
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}

	if len(parts) == 2 && parts[1] == "refresh" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		snap, err := h.app.Quota.Refresh(r.Context(), action)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}

	w.WriteHeader(http.StatusNotFound)
}

func (h *handler) commands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cmds, err := h.app.Dispatcher.ListUnresolved(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cmds)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case fault.IsDenied(err):
		return http.StatusTooManyRequests
	case errors.Is(err, fault.ErrPreconditionFailed):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrAlreadyResolved):
		return http.StatusConflict
	case fault.IsAmbiguous(err):
		return http.StatusBadGateway
	case fault.IsTimeout(err):
		return http.StatusGatewayTimeout
	case fault.IsDefinite(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

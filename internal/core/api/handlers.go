package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/solatis/aem/internal/logger"
	"github.com/solatis/aem/internal/types"
)

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Code: code, Message: message})
}

// writeReporterError maps reporter and context errors to responses.
func writeReporterError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, types.ErrReporterStopped):
		writeError(w, r, http.StatusServiceUnavailable, "ERR_UNAVAILABLE", "reporter is shutting down")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, r, http.StatusGatewayTimeout, "ERR_TIMEOUT", "request did not complete in time")
	default:
		logger.FromContext(r.Context()).Error("reporter request failed", slog.String("error", err.Error()))
		writeError(w, r, http.StatusBadGateway, "ERR_UPSTREAM", err.Error())
	}
}

// decodeOptional decodes a JSON body, accepting an empty one.
func decodeOptional(r *http.Request, v any) error {
	err := render.DecodeJSON(r.Body, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// handleDeepLink processes POST /v1/deeplinks.
func (a *API) handleDeepLink(w http.ResponseWriter, r *http.Request) {
	var req DeepLinkRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_JSON", "Invalid JSON payload: "+err.Error())
		return
	}

	res, err := a.reporter.HandleDeepLink(req.URL)
	if errors.Is(err, types.ErrInvalidDeepLink) {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_DEEPLINK", err.Error())
		return
	}
	if err != nil {
		writeReporterError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, DeepLinkResponse{InvocationID: string(res.InvocationID), TestMode: res.TestMode})
}

// handleRecordEvent processes POST /v1/events and waits for attribution.
func (a *API) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_JSON", "Invalid JSON payload: "+err.Error())
		return
	}
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	select {
	case res := <-a.reporter.RecordEvent(req.toEvent()):
		if res.Err != nil {
			writeReporterError(w, r, res.Err)
			return
		}
		render.Status(r, http.StatusOK)
		render.JSON(w, r, EventResponse{
			Attributed:   res.Attributed,
			Updated:      res.Updated,
			InvocationID: string(res.InvocationID),
		})
	case <-r.Context().Done():
		writeReporterError(w, r, r.Context().Err())
	}
}

// handleListInvocations processes GET /v1/invocations.
func (a *API) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	invs, err := a.reporter.Invocations(r.Context())
	if err != nil {
		writeReporterError(w, r, err)
		return
	}
	data := make([]InvocationResponse, 0, len(invs))
	for _, inv := range invs {
		data = append(data, mapInvocation(inv))
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, ListResponse[InvocationResponse]{Data: data})
}

// handleListConfigurations processes GET /v1/configurations.
func (a *API) handleListConfigurations(w http.ResponseWriter, r *http.Request) {
	cfgs, err := a.reporter.Configurations(r.Context())
	if err != nil {
		writeReporterError(w, r, err)
		return
	}
	data, err := mapConfigurations(cfgs)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "ERR_INTERNAL", "failed to encode configurations")
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, ListResponse[json.RawMessage]{Data: data})
}

// handleRefresh processes POST /v1/configurations/refresh.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "ERR_INVALID_JSON", "Invalid JSON payload: "+err.Error())
		return
	}

	select {
	case err := <-a.reporter.RefreshConfigurations(req.Force):
		if err != nil {
			writeReporterError(w, r, err)
			return
		}
		render.Status(r, http.StatusOK)
		render.JSON(w, r, map[string]string{"status": "ok"})
	case <-r.Context().Done():
		writeReporterError(w, r, r.Context().Err())
	}
}

// handleAggregate processes POST /v1/aggregations. Sending is asynchronous
// and throttled, so the response only acknowledges the trigger.
func (a *API) handleAggregate(w http.ResponseWriter, r *http.Request) {
	a.reporter.TriggerAggregation()
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{"status": "triggered"})
}

// handleClearCache processes POST /v1/cache/clear.
func (a *API) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := a.reporter.ClearCache(r.Context()); err != nil {
		writeReporterError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}

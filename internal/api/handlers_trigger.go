package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sydlexius/pushhook/internal/dispatch"
	"github.com/sydlexius/pushhook/internal/webhook"
)

// handleTrigger fires a webhook. Any method is accepted.
// /hook/{id}/{token}
func (r *Router) handleTrigger(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	id := req.PathValue("id")

	wh, err := r.webhookService.Lookup(ctx, id, req.PathValue("token"))
	if err != nil {
		if !errors.Is(err, webhook.ErrNotFound) {
			r.logger.Error("looking up webhook", slog.String("error", err.Error()))
		}
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	overrides, err := dispatch.ParseOverrides(req)
	if err != nil {
		r.logger.Info("trigger rejected",
			slog.String("webhook", wh.ID),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusBadGateway, dispatch.Rejected(err))
		return
	}

	params := dispatch.Resolve(wh, overrides)
	result := r.dispatcher.Dispatch(ctx, params.Providers, params.Message)

	status := http.StatusOK
	if !result.OK {
		status = http.StatusBadGateway
	}
	r.logger.Info("webhook triggered",
		slog.String("webhook", wh.ID),
		slog.Bool("ok", result.OK),
		slog.Int("providers", len(result.Outcomes)),
	)
	writeJSON(w, status, result)
}

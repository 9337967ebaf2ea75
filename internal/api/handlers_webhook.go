package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sydlexius/pushhook/internal/provider"
	"github.com/sydlexius/pushhook/internal/webhook"
)

// webhookView is a webhook as shown to the authenticated admin.
type webhookView struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Token      string          `json:"token"`
	Providers  []provider.Name `json:"providers"`
	Priority   int             `json:"priority"`
	Message    string          `json:"message"`
	Retry      int             `json:"retry,omitempty"`
	Expire     int             `json:"expire,omitempty"`
	CreatedAt  time.Time       `json:"created_at,omitzero"`
	TriggerURL string          `json:"trigger_url"`
	// Unknown lists providers with no adapter; their sends fail until one exists.
	Unknown    []provider.Name `json:"unknown_providers,omitempty"`
}

type providerView struct {
	Name        provider.Name `json:"name"`
	DisplayName string        `json:"display_name"`
	Configured  bool          `json:"configured"`
	Webhooks    int           `json:"webhooks"`
}

// handleAdmin returns the admin overview.
// GET /{base}/admin
func (r *Router) handleAdmin(w http.ResponseWriter, req *http.Request) {
	hooks, err := r.webhookService.List(req.Context())
	if err != nil {
		r.logger.Error("listing webhooks", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	base := r.triggerBase(req)
	views := make([]webhookView, 0, len(hooks))
	for i := range hooks {
		views = append(views, r.view(base, &hooks[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"username":  r.authService.Username(),
		"routes":    r.Routes(),
		"providers": r.providerViews(hooks),
		"webhooks":  views,
	})
}

// handleCreateWebhook registers a webhook from a form or JSON body.
// POST /{base}/admin/webhooks
func (r *Router) handleCreateWebhook(w http.ResponseWriter, req *http.Request) {
	fields, err := readFields(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wh := &webhook.Webhook{
		Name:    fields.Get("name"),
		Message: strings.TrimSpace(fields.Get("message")),
	}
	for _, p := range listField(fields, "providers") {
		wh.Providers = append(wh.Providers, provider.ParseName(p))
	}
	for key, dst := range map[string]*int{"priority": &wh.Priority, "retry": &wh.Retry, "expire": &wh.Expire} {
		if *dst, err = intField(fields, key); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := r.webhookService.Create(req.Context(), wh); err != nil {
		var vErr *webhook.ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusBadRequest, vErr.Error())
			return
		}
		r.logger.Error("creating webhook", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, r.view(r.triggerBase(req), wh))
}

// handleDeleteWebhook removes a webhook; its trigger URL stops working
// immediately.
// POST /{base}/admin/webhooks/{id}/delete, DELETE /{base}/admin/webhooks/{id}
func (r *Router) handleDeleteWebhook(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if err := r.webhookService.Delete(req.Context(), id); err != nil {
		if errors.Is(err, webhook.ErrNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		r.logger.Error("deleting webhook", slog.String("id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func (r *Router) view(base string, wh *webhook.Webhook) webhookView {
	var unknown []provider.Name
	for _, p := range wh.Providers {
		if !p.Known() {
			unknown = append(unknown, p)
		}
	}
	return webhookView{
		ID:         wh.ID,
		Name:       wh.Name,
		Token:      wh.Token,
		Providers:  wh.Providers,
		Priority:   wh.Priority,
		Message:    wh.Message,
		Retry:      wh.Retry,
		Expire:     wh.Expire,
		CreatedAt:  wh.CreatedAt,
		TriggerURL: base + wh.TriggerPath(),
		Unknown:    unknown,
	}
}

func (r *Router) providerViews(hooks []webhook.Webhook) []providerView {
	names := r.registry.Names()
	out := make([]providerView, 0, len(names))
	for _, name := range names {
		v := providerView{Name: name, DisplayName: name.DisplayName(), Configured: r.configured(name)}
		for i := range hooks {
			if hooks[i].HasProvider(name) {
				v.Webhooks++
			}
		}
		out = append(out, v)
	}
	return out
}

// configured reports whether every credential for name is filled in.
func (r *Router) configured(name provider.Name) bool {
	if r.credentials == nil {
		return false
	}
	creds, err := r.credentials.ForProvider(name)
	if err != nil {
		return false
	}
	for _, v := range creds {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

// triggerBase is the scheme and host trigger URLs are built on.
func (r *Router) triggerBase(req *http.Request) string {
	if r.publicBaseURL != "" {
		return r.publicBaseURL
	}
	return requestScheme(req) + "://" + req.Host
}

// Package server provides the HTTP surface: url recovery, validation, async
// history pulls with an SSE progress stream, and record import/export.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"gachavault/internal/core"
	"gachavault/internal/orchestrator"
	"gachavault/internal/uigf"
)

// pullTimeout bounds a single asynchronous pull. A full history is a few
// hundred pages at most; an hour means a stuck remote, not a slow one.
const pullTimeout = time.Hour

// URLSource recovers candidate authorization URLs for a facet from the local
// machine.
type URLSource interface {
	FindGachaURLs(facet core.Facet, skipExpired bool) ([]core.GachaURL, error)
}

// URLValidator picks the first candidate confirmed to belong to the account.
type URLValidator interface {
	Validate(ctx context.Context, facet core.Facet, uid string, candidates []core.GachaURL) (core.GachaURL, error)
}

// Puller runs a full history fetch.
type Puller interface {
	PullAll(ctx context.Context, opts orchestrator.Options, sink core.ProgressSink) (*orchestrator.Result, error)
}

// Handler holds the HTTP handlers.
type Handler struct {
	urls      URLSource
	validator URLValidator
	puller    Puller
	store     core.RecordStore // nil without persistence
	jobs      *jobRegistry
	now       func() time.Time
}

// NewHandler creates a handler over the pipeline collaborators. store may be
// nil, which disables the records, import and export endpoints.
func NewHandler(urls URLSource, validator URLValidator, puller Puller, store core.RecordStore) *Handler {
	return &Handler{
		urls:      urls,
		validator: validator,
		puller:    puller,
		store:     store,
		jobs:      newJobRegistry(),
		now:       time.Now,
	}
}

// Health handles GET /health.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type facetInfo struct {
	Name           string   `json:"name"`
	Partitions     []string `json:"partitions"`
	ExchangeFormat string   `json:"exchange_format,omitempty"`
	CanExchange    bool     `json:"can_exchange"`
}

// ListFacets handles GET /v1/facets.
func (h *Handler) ListFacets(c echo.Context) error {
	out := make([]facetInfo, 0, len(core.Facets()))
	for _, f := range core.Facets() {
		out = append(out, facetInfo{
			Name:           string(f),
			Partitions:     f.Partitions(),
			ExchangeFormat: f.ExchangeFormat(),
			CanExchange:    f.CanExchange(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"facets": out})
}

// ListURLs handles GET /v1/gacha/urls.
func (h *Handler) ListURLs(c echo.Context) error {
	facet, err := facetParam(c)
	if err != nil {
		return handleError(c, err)
	}
	skipExpired := c.QueryParam("skip_expired") != "false"

	urls, err := h.urls.FindGachaURLs(facet, skipExpired)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"urls": urls})
}

type validateRequest struct {
	Facet       string `json:"facet"`
	UID         string `json:"uid"`
	SkipExpired *bool  `json:"skip_expired,omitempty"`
}

// ValidateURL handles POST /v1/gacha/url/validate: recover candidates, then
// confirm one against the account.
func (h *Handler) ValidateURL(c echo.Context) error {
	var req validateRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewIllegalURLError("invalid request body: "+err.Error()))
	}
	facet, err := core.ParseFacet(req.Facet)
	if err != nil {
		return handleError(c, core.NewIllegalURLError(err.Error()))
	}
	if req.UID == "" {
		return handleError(c, core.NewIllegalURLError("uid is required"))
	}
	skipExpired := req.SkipExpired == nil || *req.SkipExpired

	candidates, err := h.urls.FindGachaURLs(facet, skipExpired)
	if err != nil {
		return handleError(c, err)
	}
	url, err := h.validator.Validate(c.Request().Context(), facet, req.UID, candidates)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"url": url})
}

type pullRequest struct {
	Facet      string   `json:"facet"`
	UID        string   `json:"uid"`
	GachaURL   string   `json:"gacha_url,omitempty"`
	GachaTypes []string `json:"gacha_types,omitempty"`
	FullResync bool     `json:"full_resync"`
	Save       *bool    `json:"save,omitempty"`
}

// StartPull handles POST /v1/gacha/pull. The pull runs in the background;
// the response carries the channel id for the SSE progress stream.
func (h *Handler) StartPull(c echo.Context) error {
	var req pullRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewIllegalURLError("invalid request body: "+err.Error()))
	}
	facet, err := core.ParseFacet(req.Facet)
	if err != nil {
		return handleError(c, core.NewIllegalURLError(err.Error()))
	}
	if req.UID == "" {
		return handleError(c, core.NewIllegalURLError("uid is required"))
	}

	gachaURL := req.GachaURL
	if gachaURL == "" {
		candidates, err := h.urls.FindGachaURLs(facet, true)
		if err != nil {
			return handleError(c, err)
		}
		url, err := h.validator.Validate(c.Request().Context(), facet, req.UID, candidates)
		if err != nil {
			return handleError(c, err)
		}
		gachaURL = url.Value
	}

	channel := uuid.NewString()
	job := newPullJob()
	h.jobs.add(channel, job)

	opts := orchestrator.Options{
		Channel:     channel,
		Facet:       facet,
		UID:         req.UID,
		GachaURL:    gachaURL,
		GachaTypes:  req.GachaTypes,
		FullResync:  req.FullResync,
		SaveToStore: (req.Save == nil || *req.Save) && h.store != nil,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), pullTimeout)
		defer cancel()
		result, err := h.puller.PullAll(ctx, opts, job)
		if err != nil {
			slog.Error("pull failed", "channel", channel, "facet", facet, "uid", req.UID, "error", err)
		}
		job.finish(result, err)
	}()

	return c.JSON(http.StatusAccepted, map[string]string{"channel": channel})
}

// StreamEvents handles GET /v1/events/:channel, streaming pull progress as
// server-sent events. The stream ends with a result or error event.
func (h *Handler) StreamEvents(c echo.Context) error {
	channel := c.Param("channel")
	job, ok := h.jobs.get(channel)
	if !ok {
		return handleError(c, core.NewNoValidURLError("unknown progress channel "+channel))
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, open := <-job.events:
			if !open {
				h.jobs.remove(channel)
				result, err := job.outcome()
				if err != nil {
					return writeSSE(c, "error", errorBody(err))
				}
				return writeSSE(c, "result", result)
			}
			if err := writeSSE(c, "progress", event); err != nil {
				return nil
			}
		}
	}
}

// ListRecords handles GET /v1/gacha/records.
func (h *Handler) ListRecords(c echo.Context) error {
	if h.store == nil {
		return handleError(c, core.NewUnsupportedError("no record store is configured"))
	}
	facet, err := facetParam(c)
	if err != nil {
		return handleError(c, err)
	}
	uid := c.QueryParam("uid")
	if uid == "" {
		return handleError(c, core.NewIllegalURLError("uid is required"))
	}

	filter := core.FindFilter{GachaType: c.QueryParam("gacha_type")}
	if limit := c.QueryParam("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return handleError(c, core.NewIllegalURLError("invalid limit "+limit))
		}
		filter.Limit = n
	}

	records, err := h.store.Find(c.Request().Context(), facet, uid, filter)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"records": records, "total": len(records)})
}

// ImportRecords handles POST /v1/gacha/import. The body is the interchange
// document itself; facet and uid arrive as query parameters.
func (h *Handler) ImportRecords(c echo.Context) error {
	if h.store == nil {
		return handleError(c, core.NewUnsupportedError("no record store is configured"))
	}
	facet, err := facetParam(c)
	if err != nil {
		return handleError(c, err)
	}
	uid := c.QueryParam("uid")
	if uid == "" {
		return handleError(c, core.NewIllegalURLError("uid is required"))
	}

	records, err := uigf.Import(c.Request().Body, facet, uid)
	if err != nil {
		return handleError(c, err)
	}
	inserted, err := h.store.Save(c.Request().Context(), facet, records)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"imported": inserted, "total": len(records)})
}

// ExportRecords handles POST /v1/gacha/export, writing the interchange
// document as a download.
func (h *Handler) ExportRecords(c echo.Context) error {
	if h.store == nil {
		return handleError(c, core.NewUnsupportedError("no record store is configured"))
	}
	facet, err := facetParam(c)
	if err != nil {
		return handleError(c, err)
	}
	if !facet.CanExchange() {
		return handleError(c, core.NewUnsupportedError(fmt.Sprintf("facet %s has no record interchange format", facet)))
	}
	uid := c.QueryParam("uid")
	if uid == "" {
		return handleError(c, core.NewIllegalURLError("uid is required"))
	}

	records, err := h.store.Find(c.Request().Context(), facet, uid, core.FindFilter{})
	if err != nil {
		return handleError(c, err)
	}

	filename := uigf.Filename(facet, uid, h.now())
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	c.Response().WriteHeader(http.StatusOK)
	return uigf.Export(c.Response(), facet, uid, "", records, h.now())
}

func facetParam(c echo.Context) (core.Facet, error) {
	facet, err := core.ParseFacet(c.QueryParam("facet"))
	if err != nil {
		return "", core.NewIllegalURLError(err.Error())
	}
	return facet, nil
}

func writeSSE(c echo.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}

// errorBody renders err in the structured error shape used everywhere on
// this surface.
func errorBody(err error) map[string]any {
	body := map[string]any{"kind": "internal", "message": "an unexpected error occurred"}
	var ce *core.Error
	if errors.As(err, &ce) {
		body["kind"] = string(ce.Kind)
		body["message"] = ce.Message
		if ce.Retcode != 0 {
			body["retcode"] = ce.Retcode
		}
	}
	return map[string]any{"error": body}
}

// handleError converts pipeline errors to HTTP responses.
func handleError(c echo.Context, err error) error {
	var ce *core.Error
	if errors.As(err, &ce) {
		return c.JSON(ce.HTTPStatus(), errorBody(err))
	}
	return c.JSON(http.StatusInternalServerError, errorBody(err))
}

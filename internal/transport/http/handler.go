package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/mealbridge/notification/internal/admission"
	"github.com/mealbridge/notification/internal/cleanup"
	"github.com/mealbridge/notification/internal/dispatch"
	"github.com/mealbridge/notification/internal/domain"
	"github.com/mealbridge/notification/internal/retry"
	"github.com/mealbridge/notification/internal/stats"
)

// Handler holds all HTTP handler methods.
type Handler struct {
	admission *admission.Controller
	engine    *dispatch.Engine
	machine   *retry.Machine
	janitor   *cleanup.Janitor
	stats     *stats.Service
	archive   domain.ArchiveRepository
	devices   domain.DeviceStore
	queue     domain.QueueRepository
}

// NewHandler creates a new Handler.
func NewHandler(
	ctrl *admission.Controller,
	engine *dispatch.Engine,
	machine *retry.Machine,
	janitor *cleanup.Janitor,
	statsSvc *stats.Service,
	archive domain.ArchiveRepository,
	devices domain.DeviceStore,
	queue domain.QueueRepository,
) *Handler {
	return &Handler{
		admission: ctrl,
		engine:    engine,
		machine:   machine,
		janitor:   janitor,
		stats:     statsSvc,
		archive:   archive,
		devices:   devices,
		queue:     queue,
	}
}

// Enqueue POST /v1/notifications
func (h *Handler) Enqueue(c echo.Context) error {
	var in admission.EnqueueInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := h.admission.Enqueue(c.Request().Context(), in)
	switch {
	case errors.Is(err, admission.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, admission.ErrRateLimited):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case errors.Is(err, admission.ErrOptedOut):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case err != nil:
		log.Error().Err(err).Msg("enqueue failed")
		return echo.ErrInternalServerError
	}
	return c.JSON(http.StatusAccepted, result)
}

// GetEntry GET /v1/queue/:id
func (h *Handler) GetEntry(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid entry id")
	}

	entry, err := h.queue.GetByID(c.Request().Context(), id)
	if errors.Is(err, domain.ErrEntryNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "entry not found")
	}
	if err != nil {
		return echo.ErrInternalServerError
	}
	return c.JSON(http.StatusOK, entry)
}

// ProcessCycle POST /v1/queue/process
func (h *Handler) ProcessCycle(c echo.Context) error {
	batchSize := parseIntQuery(c, "batch_size", 0)

	result, err := h.engine.ProcessCycle(c.Request().Context(), batchSize)
	if err != nil {
		log.Error().Err(err).Msg("dispatch cycle failed")
		return echo.ErrInternalServerError
	}
	return c.JSON(http.StatusOK, result)
}

// ClaimRetries POST /v1/queue/claim
func (h *Handler) ClaimRetries(c echo.Context) error {
	limit := parseIntQuery(c, "limit", 50)

	items, err := h.machine.ClaimRetryBatch(c.Request().Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("retry claim failed")
		return echo.ErrInternalServerError
	}
	if items == nil {
		items = []retry.ClaimedItem{}
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// ReportSuccess POST /v1/queue/:id/success
func (h *Handler) ReportSuccess(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid entry id")
	}

	if err := h.machine.ReportSuccess(c.Request().Context(), id); err != nil {
		if errors.Is(err, domain.ErrEntryNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "entry not found")
		}
		return echo.ErrInternalServerError
	}
	return c.NoContent(http.StatusNoContent)
}

// ReportFailure POST /v1/queue/:id/failure
func (h *Handler) ReportFailure(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid entry id")
	}

	var body struct {
		Error     string `json:"error"`
		Permanent bool   `json:"permanent"`
	}
	if err := c.Bind(&body); err != nil || body.Error == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "error message is required")
	}

	err = h.machine.ReportFailure(c.Request().Context(), id, errors.New(body.Error), body.Permanent)
	if errors.Is(err, domain.ErrEntryNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "entry not found")
	}
	if err != nil {
		return echo.ErrInternalServerError
	}
	return c.NoContent(http.StatusNoContent)
}

// Cleanup POST /v1/queue/cleanup
func (h *Handler) Cleanup(c echo.Context) error {
	retention := parseIntQuery(c, "retention_days", 0)

	result, err := h.janitor.Run(c.Request().Context(), retention)
	if err != nil {
		log.Error().Err(err).Msg("cleanup failed")
		return echo.ErrInternalServerError
	}
	return c.JSON(http.StatusOK, result)
}

// Stats GET /v1/queue/stats
func (h *Handler) Stats(c echo.Context) error {
	hours := parseIntQuery(c, "hours", 0)

	report, err := h.stats.DeliveryReport(c.Request().Context(), hours)
	if err != nil {
		log.Error().Err(err).Msg("stats query failed")
		return echo.ErrInternalServerError
	}
	return c.JSON(http.StatusOK, report)
}

// DeadLetters GET /v1/dead-letters
func (h *Handler) DeadLetters(c echo.Context) error {
	limit := parseIntQuery(c, "limit", 50)

	letters, err := h.archive.List(c.Request().Context(), limit)
	if err != nil {
		return echo.ErrInternalServerError
	}
	if letters == nil {
		letters = []domain.DeadLetterEntry{}
	}
	return c.JSON(http.StatusOK, map[string]any{"data": letters, "count": len(letters)})
}

// RegisterDevice POST /v1/devices
func (h *Handler) RegisterDevice(c echo.Context) error {
	var d domain.DeviceToken
	if err := c.Bind(&d); err != nil || d.Token == "" || d.RecipientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token and recipient_id are required")
	}
	switch d.Platform {
	case domain.PlatformIOS, domain.PlatformAndroid, domain.PlatformWeb:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown platform")
	}

	if err := h.devices.Upsert(c.Request().Context(), d); err != nil {
		return echo.ErrInternalServerError
	}
	return c.NoContent(http.StatusNoContent)
}

// DeactivateDevice DELETE /v1/devices/:token
func (h *Handler) DeactivateDevice(c echo.Context) error {
	if err := h.devices.Deactivate(c.Request().Context(), c.Param("token")); err != nil {
		return echo.ErrInternalServerError
	}
	return c.NoContent(http.StatusNoContent)
}

// GetPreferences GET /v1/recipients/:id/preferences
func (h *Handler) GetPreferences(c echo.Context) error {
	prefs, err := h.devices.Preferences(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.ErrInternalServerError
	}
	if prefs == nil {
		prefs = &domain.Preferences{RecipientID: c.Param("id")}
	}
	return c.JSON(http.StatusOK, prefs)
}

// PutPreferences PUT /v1/recipients/:id/preferences
func (h *Handler) PutPreferences(c echo.Context) error {
	var p domain.Preferences
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p.RecipientID = c.Param("id")

	for _, t := range p.DisabledTypes {
		if !t.IsKnown() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown notification type: "+string(t))
		}
	}

	if err := h.devices.UpsertPreferences(c.Request().Context(), p); err != nil {
		return echo.ErrInternalServerError
	}
	return c.JSON(http.StatusOK, p)
}

// Health GET /health
func (h *Handler) Health(c echo.Context) error {
	counts, err := h.queue.CountByStatus(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status": "degraded",
			"error":  "storage unreachable",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"queue":  counts,
	})
}

func parseIntQuery(c echo.Context, key string, def int) int {
	v, err := strconv.Atoi(c.QueryParam(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

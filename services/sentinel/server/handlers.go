// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the integrity pipeline over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/sentinel/services/sentinel/ledger"
	"github.com/AleutianAI/sentinel/services/sentinel/report"
	"github.com/AleutianAI/sentinel/services/sentinel/schedule"
	"github.com/AleutianAI/sentinel/services/sentinel/tag"
)

// purposeProtect is the tag purpose used for ledger records.
const purposeProtect = "protect"

// ErrorResponse is the JSON error body for all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RegisterRequest is the body for POST /v1/integrity/records.
type RegisterRequest struct {
	ID      string          `json:"id" binding:"required"`
	Kind    string          `json:"kind" binding:"required"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RegisterResponse echoes the stored record's markers.
type RegisterResponse struct {
	Subject      tag.Subject `json:"subject"`
	Tag          tag.Tag     `json:"tag"`
	Watermark    string      `json:"watermark"`
	RegisteredAt int64       `json:"registered_at"`
}

// HealthResponse is the body for GET /v1/integrity/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Records int    `json:"records"`
}

// StatusResponse is the body for GET /v1/integrity/status.
type StatusResponse struct {
	SchedulerRunning bool           `json:"scheduler_running"`
	LastReport       *report.Report `json:"last_report,omitempty"`
}

// Handlers holds the HTTP handlers and their collaborators.
//
// Thread Safety: safe for concurrent use.
type Handlers struct {
	ledger    ledger.Ledger
	tagger    tag.Tagger
	scheduler *schedule.Scheduler
	logger    *slog.Logger

	mu         sync.RWMutex
	lastReport *report.Report
}

// NewHandlers creates the handler set.
func NewHandlers(l ledger.Ledger, tagger tag.Tagger, scheduler *schedule.Scheduler, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		ledger:    l,
		tagger:    tagger,
		scheduler: scheduler,
		logger:    logger,
	}
}

// ObserveReport records a report for GET /v1/integrity/status.
func (h *Handlers) ObserveReport(rep report.Report) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastReport = &rep
}

// HandleHealth reports liveness and ledger size.
//
// GET /v1/integrity/health
func (h *Handlers) HandleHealth(c *gin.Context) {
	n, err := h.ledger.Len(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "ledger unavailable"})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Records: n})
}

// HandleCheck runs an immediate integrity check over the whole ledger.
//
// POST /v1/integrity/check
func (h *Handlers) HandleCheck(c *gin.Context) {
	rep, err := h.scheduler.RunImmediate(c.Request.Context())
	if err != nil {
		h.logger.Error("on-demand check failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "integrity check failed"})
		return
	}
	h.ObserveReport(rep)
	c.JSON(http.StatusOK, rep)
}

// HandleStatus reports scheduler state and the last observed report.
//
// GET /v1/integrity/status
func (h *Handlers) HandleStatus(c *gin.Context) {
	h.mu.RLock()
	last := h.lastReport
	h.mu.RUnlock()

	c.JSON(http.StatusOK, StatusResponse{
		SchedulerRunning: h.scheduler.Running(),
		LastReport:       last,
	})
}

// HandleRegister places a subject under integrity protection.
//
// POST /v1/integrity/records
func (h *Handlers) HandleRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "id and kind are required"})
		return
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "payload must be valid JSON"})
		return
	}

	s := tag.Subject{ID: req.ID, Kind: req.Kind}
	tg, err := h.tagger.Generate(s, purposeProtect)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	rec := ledger.Record{
		Subject:      s,
		Tag:          tg,
		Watermark:    h.tagger.Watermark(s),
		Payload:      req.Payload,
		RegisteredAt: time.Now().UnixMilli(),
	}
	if err := h.ledger.Put(c.Request.Context(), rec); err != nil {
		h.logger.Error("register failed",
			slog.String("subject", s.String()),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to store record"})
		return
	}

	c.JSON(http.StatusCreated, RegisterResponse{
		Subject:      rec.Subject,
		Tag:          rec.Tag,
		Watermark:    rec.Watermark,
		RegisteredAt: rec.RegisteredAt,
	})
}

// HandleUnregister removes a subject from protection.
//
// DELETE /v1/integrity/records/:kind/:id
func (h *Handlers) HandleUnregister(c *gin.Context) {
	s := tag.Subject{ID: c.Param("id"), Kind: c.Param("kind")}
	if s.ID == "" || s.Kind == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "kind and id are required"})
		return
	}

	if err := h.ledger.Delete(c.Request.Context(), s); err != nil {
		var se *ledger.StorageError
		if errors.As(err, &se) {
			h.logger.Error("unregister failed",
				slog.String("subject", s.String()),
				slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to delete record"})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleRecord returns a single record's markers and verification stamp.
//
// GET /v1/integrity/records/:kind/:id
func (h *Handlers) HandleRecord(c *gin.Context) {
	s := tag.Subject{ID: c.Param("id"), Kind: c.Param("kind")}

	rec, err := h.ledger.Get(c.Request.Context(), s)
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "record not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load record"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Package handler содержит HTTP-обработчики API станции замены батарей.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/swapstation/internal/batterystatus"
	"github.com/mmeshcher/swapstation/internal/booking"
	"github.com/mmeshcher/swapstation/internal/diagnostics"
	"github.com/mmeshcher/swapstation/internal/middleware"
	"github.com/mmeshcher/swapstation/internal/model"
	"github.com/mmeshcher/swapstation/internal/repository"
	"github.com/mmeshcher/swapstation/internal/service"
	"github.com/mmeshcher/swapstation/internal/sessionstate"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Resolve(ctx context.Context, bookingID, sessionID string) (*service.Resolution, error)
	CheckIn(ctx context.Context, req service.CheckInRequest) (*service.Resolution, error)
	CheckBattery(ctx context.Context, sessionID, code string) (*service.Diagnosis, error)
	CalcDamage(ctx context.Context, sessionID string, feeIDs []string) (*service.Assessment, error)
	ConfirmInstallation(ctx context.Context, sessionID, newBatteryID string) (*service.Installation, error)
	Pay(ctx context.Context, sessionID string) (*service.Settlement, error)
	Cancel(ctx context.Context, sessionID string) (*service.CancelReport, error)
	BatteryStatusOptions(ctx context.Context, batteryID string) (*service.StatusOptions, error)
	TransitionBattery(ctx context.Context, batteryID string, to model.BatteryStatus) (*model.Battery, error)
	ListDamageFees(ctx context.Context, feeType model.DamageFeeType, variant string) ([]model.DamageFee, error)
}

// Handler реализует HTTP-обработчики API станции замены.
type Handler struct {
	service Service
	logger  *zap.Logger
	auth    *middleware.OperatorAuth
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.OperatorAuth) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
		auth:    auth,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError переводит ошибку сервиса в HTTP-статус. Неизвестные ошибки логируются.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var rateLimited *diagnostics.RateLimitError

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, repository.ErrActiveSessionExists),
		errors.Is(err, repository.ErrBatteryHeld),
		errors.Is(err, repository.ErrStaleState),
		errors.Is(err, service.ErrConflict),
		errors.Is(err, sessionstate.ErrInvalidTransition),
		errors.Is(err, batterystatus.ErrInvalidTransition),
		errors.Is(err, booking.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.As(err, &rateLimited):
		if rateLimited.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(rateLimited.RetryAfter.Seconds())))
		}
		status = http.StatusTooManyRequests
	case errors.Is(err, diagnostics.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error", zap.Error(err), zap.String("operatorID", operatorID(r)))
		http.Error(w, http.StatusText(status), status)
		return
	}

	writeJSON(w, status, errorResponse{Error: err.Error()})
}

type errorResponse struct {
	Error string `json:"error"`
}

func operatorID(r *http.Request) string {
	id, _ := middleware.GetOperatorIDFromContext(r.Context())
	return id
}

// decode разбирает необязательное JSON-тело; пустое тело допустимо.
func decode(r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(v)
	return err == nil || errors.Is(err, io.EOF)
}

// Resolve определяет шаг мастера по бронированию или сессии.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.service.Resolve(r.Context(), q.Get("bookingId"), q.Get("sessionId"))
	if err != nil {
		h.writeError(w, r, "resolve", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetSession возобновляет сессию по её идентификатору.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Resolve(r.Context(), "", chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CheckIn открывает сессию замены.
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req service.CheckInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.CheckIn(r.Context(), req)
	if err != nil {
		h.writeError(w, r, "check-in", err)
		return
	}

	h.logger.Info("check-in",
		zap.String("operatorID", operatorID(r)),
		zap.String("sessionID", res.Context.Session.ID),
	)
	writeJSON(w, http.StatusCreated, res)
}

type diagnosticsRequest struct {
	Code string `json:"code"`
}

// SubmitDiagnostics проверяет возвращённую батарею по коду.
func (h *Handler) SubmitDiagnostics(w http.ResponseWriter, r *http.Request) {
	var req diagnosticsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sessionID := chi.URLParam(r, "id")
	res, err := h.service.CheckBattery(r.Context(), sessionID, req.Code)
	if err != nil {
		h.writeError(w, r, "diagnostics", err)
		return
	}

	h.logger.Info("diagnostics",
		zap.String("operatorID", operatorID(r)),
		zap.String("sessionID", sessionID),
		zap.String("code", res.Code),
		zap.Bool("found", res.Found),
	)
	writeJSON(w, http.StatusOK, res)
}

type damageRequest struct {
	FeeIDs []string `json:"feeIds"`
}

// SubmitDamage выставляет счёт по выбранным дефектам.
func (h *Handler) SubmitDamage(w http.ResponseWriter, r *http.Request) {
	var req damageRequest
	if !decode(r, &req) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sessionID := chi.URLParam(r, "id")
	res, err := h.service.CalcDamage(r.Context(), sessionID, req.FeeIDs)
	if err != nil {
		h.writeError(w, r, "damage", err)
		return
	}

	h.logger.Info("damage assessed",
		zap.String("operatorID", operatorID(r)),
		zap.String("sessionID", sessionID),
		zap.String("invoiceID", res.Invoice.ID),
	)
	writeJSON(w, http.StatusOK, res)
}

type installationRequest struct {
	NewBatteryID string `json:"newBatteryId"`
}

// ConfirmInstallation подтверждает установку новой батареи.
func (h *Handler) ConfirmInstallation(w http.ResponseWriter, r *http.Request) {
	var req installationRequest
	if !decode(r, &req) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sessionID := chi.URLParam(r, "id")
	res, err := h.service.ConfirmInstallation(r.Context(), sessionID, req.NewBatteryID)
	if err != nil {
		h.writeError(w, r, "installation", err)
		return
	}

	h.logger.Info("installation confirmed",
		zap.String("operatorID", operatorID(r)),
		zap.String("sessionID", sessionID),
		zap.Strings("warnings", res.Warnings),
	)
	writeJSON(w, http.StatusOK, res)
}

// Pay фиксирует оплату счёта сессии.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	res, err := h.service.Pay(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, r, "payment", err)
		return
	}

	h.logger.Info("payment settled",
		zap.String("operatorID", operatorID(r)),
		zap.String("sessionID", sessionID),
	)
	writeJSON(w, http.StatusOK, res)
}

// Cancel отменяет сессию. Ошибки освобождения ресурсов возвращаются в warnings.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	res, err := h.service.Cancel(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, r, "cancel", err)
		return
	}

	h.logger.Info("session cancelled",
		zap.String("operatorID", operatorID(r)),
		zap.String("sessionID", sessionID),
		zap.Strings("warnings", res.Warnings),
	)
	writeJSON(w, http.StatusOK, res)
}

// BatteryStatusOptions возвращает текущий статус батареи и допустимые переходы.
func (h *Handler) BatteryStatusOptions(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.BatteryStatusOptions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "battery status options", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type batteryStatusRequest struct {
	Status model.BatteryStatus `json:"status"`
}

// UpdateBatteryStatus вручную меняет статус батареи.
func (h *Handler) UpdateBatteryStatus(w http.ResponseWriter, r *http.Request) {
	var req batteryStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	batteryID := chi.URLParam(r, "id")
	b, err := h.service.TransitionBattery(r.Context(), batteryID, req.Status)
	if err != nil {
		h.writeError(w, r, "battery status", err)
		return
	}

	h.logger.Info("battery status override",
		zap.String("operatorID", operatorID(r)),
		zap.String("batteryID", batteryID),
		zap.String("status", string(b.Status)),
	)
	writeJSON(w, http.StatusOK, b)
}

// ListDamageFees возвращает активный каталог дефектов.
func (h *Handler) ListDamageFees(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fees, err := h.service.ListDamageFees(r.Context(), model.DamageFeeType(q.Get("type")), q.Get("variant"))
	if err != nil {
		h.writeError(w, r, "damage fees", err)
		return
	}
	if fees == nil {
		fees = []model.DamageFee{}
	}
	writeJSON(w, http.StatusOK, fees)
}

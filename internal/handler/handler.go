// Package handler содержит HTTP-обработчики API сервиса кооператива CROMU.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Juanchoszs/cromu-system/internal/finance"
	"github.com/Juanchoszs/cromu-system/internal/model"
	"github.com/Juanchoszs/cromu-system/internal/repository"
	"github.com/Juanchoszs/cromu-system/internal/service"
)

const dateLayout = "2006-01-02"

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	EnrollSaver(ctx context.Context, in service.EnrollSaverInput) (*model.Saver, error)
	GetSaver(ctx context.Context, id uuid.UUID) (*model.Saver, error)
	ListSavers(ctx context.Context) ([]model.Saver, error)
	SetSaverPayment(ctx context.Context, id uuid.UUID, period string, paid bool, amount int64) (*model.Saver, error)
	SaverVoucher(ctx context.Context, id uuid.UUID) (*finance.SaverVoucher, error)
	CreateLoan(ctx context.Context, in service.CreateLoanInput) (*model.Loan, error)
	GetLoan(ctx context.Context, id uuid.UUID) (*model.Loan, error)
	ListLoans(ctx context.Context) ([]model.Loan, error)
	PayInstallment(ctx context.Context, loanID uuid.UUID, number string) (*model.Loan, error)
	RevertInstallment(ctx context.Context, loanID uuid.UUID, number string) (*model.Loan, error)
	DeferInstallment(ctx context.Context, loanID uuid.UUID, number string) (*model.Loan, error)
	SetLoanStatus(ctx context.Context, loanID uuid.UUID, status model.LoanStatus) error
	LoanSchedule(ctx context.Context, id uuid.UUID) (*finance.LoanScheduleView, error)
	EstimateLoan(in finance.AmortizationInput) (*finance.Estimate, error)
	SendContactMessage(ctx context.Context, name, email, body string) error
}

// Handler реализует HTTP-обработчики API сервиса кооператива.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// serviceError переводит ошибки бизнес-логики в HTTP-статусы.
func (h *Handler) serviceError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, finance.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, repository.ErrSaverNotFound),
		errors.Is(err, repository.ErrLoanNotFound),
		errors.Is(err, finance.ErrUnknownInstallment):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, repository.ErrSaverExists):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, finance.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error(op, zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func parseID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

type paymentRecordResponse struct {
	Paid   bool  `json:"paid"`
	Amount int64 `json:"amount"`
}

type saverResponse struct {
	ID                  uuid.UUID                        `json:"id"`
	Cedula              string                           `json:"cedula"`
	Name                string                           `json:"name"`
	Email               string                           `json:"email,omitempty"`
	Phone               string                           `json:"phone,omitempty"`
	EnrolledAt          string                           `json:"enrolled_at"`
	MonthlyAmount       int64                            `json:"monthly_amount"`
	TotalSaved          int64                            `json:"total_saved"`
	ConsecutivePayments int                              `json:"consecutive_payments"`
	LoyaltyBonusActive  bool                             `json:"loyalty_bonus_active"`
	PaymentHistory      map[string]paymentRecordResponse `json:"payment_history,omitempty"`
}

func newSaverResponse(s *model.Saver) saverResponse {
	resp := saverResponse{
		ID:                  s.ID,
		Cedula:              s.Cedula,
		Name:                s.Name,
		Email:               s.Email,
		Phone:               s.Phone,
		EnrolledAt:          s.EnrolledAt.Format(dateLayout),
		MonthlyAmount:       s.MonthlyAmount,
		TotalSaved:          s.TotalSaved,
		ConsecutivePayments: s.ConsecutivePayments,
		LoyaltyBonusActive:  s.LoyaltyBonusActive,
	}
	if len(s.PaymentHistory) > 0 {
		resp.PaymentHistory = make(map[string]paymentRecordResponse, len(s.PaymentHistory))
		for period, rec := range s.PaymentHistory {
			resp.PaymentHistory[period] = paymentRecordResponse{Paid: rec.Paid, Amount: rec.Amount}
		}
	}
	return resp
}

type subInstallmentResponse struct {
	Number string `json:"number"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
	PaidAt string `json:"paid_at,omitempty"`
}

type installmentResponse struct {
	Number          string                   `json:"number"`
	Status          string                   `json:"status"`
	Amount          int64                    `json:"amount"`
	PaidAt          string                   `json:"paid_at,omitempty"`
	DeferredAt      string                   `json:"deferred_at,omitempty"`
	SubInstallments []subInstallmentResponse `json:"sub_installments,omitempty"`
}

type loanResponse struct {
	ID                 uuid.UUID                      `json:"id"`
	Cedula             string                         `json:"cedula"`
	Principal          int64                          `json:"principal"`
	MonthlyRatePercent float64                        `json:"monthly_rate_percent"`
	TermMonths         int                            `json:"term_months"`
	DisbursedAt        string                         `json:"disbursed_at"`
	DueAt              string                         `json:"due_at"`
	Status             string                         `json:"status"`
	TotalPaid          int64                          `json:"total_paid"`
	PaidCount          int                            `json:"paid_count"`
	LastPaymentAt      string                         `json:"last_payment_at,omitempty"`
	Installments       map[string]installmentResponse `json:"installments,omitempty"`
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func newLoanResponse(l *model.Loan) loanResponse {
	resp := loanResponse{
		ID:                 l.ID,
		Cedula:             l.Cedula,
		Principal:          l.Principal,
		MonthlyRatePercent: l.MonthlyRatePercent,
		TermMonths:         l.TermMonths,
		DisbursedAt:        l.DisbursedAt.Format(dateLayout),
		DueAt:              l.DueAt.Format(dateLayout),
		Status:             string(l.Status),
		TotalPaid:          l.TotalPaid,
		PaidCount:          l.PaidCount,
		LastPaymentAt:      formatTimePtr(l.LastPaymentAt),
	}
	if len(l.Installments) > 0 {
		resp.Installments = make(map[string]installmentResponse, len(l.Installments))
		for number, inst := range l.Installments {
			ir := installmentResponse{
				Number:     inst.Number,
				Status:     string(inst.Status),
				Amount:     inst.Amount,
				PaidAt:     formatTimePtr(inst.PaidAt),
				DeferredAt: formatTimePtr(inst.DeferredAt),
			}
			for _, sub := range inst.SubInstallments {
				ir.SubInstallments = append(ir.SubInstallments, subInstallmentResponse{
					Number: sub.Number,
					Status: string(sub.Status),
					Amount: sub.Amount,
					PaidAt: formatTimePtr(sub.PaidAt),
				})
			}
			resp.Installments[number] = ir
		}
	}
	return resp
}

type enrollSaverRequest struct {
	Cedula        string `json:"cedula"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	EnrolledAt    string `json:"enrolled_at"`
	MonthlyAmount int64  `json:"monthly_amount"`
}

// EnrollSaver регистрирует нового вкладчика с историей из 12 периодов.
func (h *Handler) EnrollSaver(w http.ResponseWriter, r *http.Request) {
	var req enrollSaverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	enrolledAt, err := time.Parse(dateLayout, req.EnrolledAt)
	if err != nil {
		http.Error(w, "invalid enrolled_at", http.StatusBadRequest)
		return
	}

	saver, err := h.service.EnrollSaver(r.Context(), service.EnrollSaverInput{
		Cedula:        req.Cedula,
		Name:          req.Name,
		Email:         req.Email,
		Phone:         req.Phone,
		EnrolledAt:    enrolledAt,
		MonthlyAmount: req.MonthlyAmount,
	})
	if err != nil {
		h.serviceError(w, err, "enroll saver error")
		return
	}

	h.writeJSON(w, http.StatusCreated, newSaverResponse(saver))
}

// ListSavers возвращает список всех вкладчиков без истории платежей.
func (h *Handler) ListSavers(w http.ResponseWriter, r *http.Request) {
	savers, err := h.service.ListSavers(r.Context())
	if err != nil {
		h.logger.Error("list savers error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(savers) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]saverResponse, 0, len(savers))
	for i := range savers {
		resp = append(resp, newSaverResponse(&savers[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetSaver возвращает вкладчика с полной историей платежей.
func (h *Handler) GetSaver(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	saver, err := h.service.GetSaver(r.Context(), id)
	if err != nil {
		h.serviceError(w, err, "get saver error")
		return
	}

	h.writeJSON(w, http.StatusOK, newSaverResponse(saver))
}

type setPaymentRequest struct {
	Paid   bool  `json:"paid"`
	Amount int64 `json:"amount"`
}

// SetSaverPayment отмечает или снимает оплату периода вкладчика.
func (h *Handler) SetSaverPayment(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req setPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	period := chi.URLParam(r, "period")

	saver, err := h.service.SetSaverPayment(r.Context(), id, period, req.Paid, req.Amount)
	if err != nil {
		h.serviceError(w, err, "set saver payment error")
		return
	}

	h.writeJSON(w, http.StatusOK, newSaverResponse(saver))
}

// GetSaverVoucher возвращает ваучер вкладчика с начисленными процентами.
func (h *Handler) GetSaverVoucher(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	voucher, err := h.service.SaverVoucher(r.Context(), id)
	if err != nil {
		h.serviceError(w, err, "saver voucher error")
		return
	}

	h.writeJSON(w, http.StatusOK, voucher)
}

type createLoanRequest struct {
	Cedula             string  `json:"cedula"`
	Principal          int64   `json:"principal"`
	MonthlyRatePercent float64 `json:"monthly_rate_percent"`
	TermMonths         int     `json:"term_months"`
	DisbursedAt        string  `json:"disbursed_at"`
}

// CreateLoan выдаёт новый заём с графиком взносов.
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req createLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	disbursedAt, err := time.Parse(dateLayout, req.DisbursedAt)
	if err != nil {
		http.Error(w, "invalid disbursed_at", http.StatusBadRequest)
		return
	}

	loan, err := h.service.CreateLoan(r.Context(), service.CreateLoanInput{
		Cedula:             req.Cedula,
		Principal:          req.Principal,
		MonthlyRatePercent: req.MonthlyRatePercent,
		TermMonths:         req.TermMonths,
		DisbursedAt:        disbursedAt,
	})
	if err != nil {
		h.serviceError(w, err, "create loan error")
		return
	}

	h.writeJSON(w, http.StatusCreated, newLoanResponse(loan))
}

// ListLoans возвращает список всех займов без взносов.
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.service.ListLoans(r.Context())
	if err != nil {
		h.logger.Error("list loans error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(loans) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]loanResponse, 0, len(loans))
	for i := range loans {
		resp = append(resp, newLoanResponse(&loans[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetLoan возвращает заём со всеми взносами.
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	loan, err := h.service.GetLoan(r.Context(), id)
	if err != nil {
		h.serviceError(w, err, "get loan error")
		return
	}

	h.writeJSON(w, http.StatusOK, newLoanResponse(loan))
}

// GetLoanSchedule возвращает амортизационный график займа с живыми статусами.
func (h *Handler) GetLoanSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	schedule, err := h.service.LoanSchedule(r.Context(), id)
	if err != nil {
		h.serviceError(w, err, "loan schedule error")
		return
	}

	h.writeJSON(w, http.StatusOK, schedule)
}

// PayInstallment отмечает взнос оплаченным.
func (h *Handler) PayInstallment(w http.ResponseWriter, r *http.Request) {
	h.mutateInstallment(w, r, h.service.PayInstallment, "pay installment error")
}

// RevertInstallment возвращает оплаченный взнос в состояние pending.
func (h *Handler) RevertInstallment(w http.ResponseWriter, r *http.Request) {
	h.mutateInstallment(w, r, h.service.RevertInstallment, "revert installment error")
}

// DeferInstallment переносит взнос и создаёт дополнительный полувзнос.
func (h *Handler) DeferInstallment(w http.ResponseWriter, r *http.Request) {
	h.mutateInstallment(w, r, h.service.DeferInstallment, "defer installment error")
}

func (h *Handler) mutateInstallment(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, loanID uuid.UUID, number string) (*model.Loan, error),
	logMsg string,
) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	number := chi.URLParam(r, "number")

	loan, err := op(r.Context(), id, number)
	if err != nil {
		h.serviceError(w, err, logMsg)
		return
	}

	h.writeJSON(w, http.StatusOK, newLoanResponse(loan))
}

type setStatusRequest struct {
	Status string `json:"status"`
}

// SetLoanStatus меняет операционный статус займа.
func (h *Handler) SetLoanStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SetLoanStatus(r.Context(), id, model.LoanStatus(req.Status)); err != nil {
		h.serviceError(w, err, "set loan status error")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// EstimateLoan рассчитывает предварительный взнос без создания займа.
func (h *Handler) EstimateLoan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	principal, err := strconv.ParseInt(q.Get("principal"), 10, 64)
	if err != nil {
		http.Error(w, "invalid principal", http.StatusBadRequest)
		return
	}

	rate, err := strconv.ParseFloat(q.Get("monthly_rate"), 64)
	if err != nil {
		http.Error(w, "invalid monthly_rate", http.StatusBadRequest)
		return
	}

	term, err := strconv.Atoi(q.Get("term_months"))
	if err != nil {
		http.Error(w, "invalid term_months", http.StatusBadRequest)
		return
	}

	estimate, err := h.service.EstimateLoan(finance.AmortizationInput{
		Principal:          principal,
		MonthlyRatePercent: rate,
		TermMonths:         term,
	})
	if err != nil {
		h.serviceError(w, err, "estimate loan error")
		return
	}

	h.writeJSON(w, http.StatusOK, estimate)
}

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// Contact принимает сообщение контактной формы и отправляет его нотификатору.
// Сбой доставки не считается ошибкой клиента: сообщение логируется.
func (h *Handler) Contact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.SendContactMessage(r.Context(), req.Name, req.Email, req.Message)
	if err != nil {
		if errors.Is(err, finance.ErrInvalidInput) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Warn("contact dispatch error", zap.Error(err), zap.String("email", req.Email))
	}

	w.WriteHeader(http.StatusAccepted)
}

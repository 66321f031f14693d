package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/Juanchoszs/cromu-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса кооператива.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/contact", h.Contact)

		r.Route("/savers", func(r chi.Router) {
			r.Post("/", h.EnrollSaver)
			r.Get("/", h.ListSavers)

			r.Get("/{id}", h.GetSaver)
			r.Put("/{id}/payments/{period}", h.SetSaverPayment)
			r.Get("/{id}/voucher", h.GetSaverVoucher)
		})

		r.Route("/loans", func(r chi.Router) {
			r.Get("/estimate", h.EstimateLoan)

			r.Post("/", h.CreateLoan)
			r.Get("/", h.ListLoans)

			r.Get("/{id}", h.GetLoan)
			r.Get("/{id}/schedule", h.GetLoanSchedule)
			r.Put("/{id}/status", h.SetLoanStatus)

			r.Post("/{id}/installments/{number}/pay", h.PayInstallment)
			r.Post("/{id}/installments/{number}/revert", h.RevertInstallment)
			r.Post("/{id}/installments/{number}/defer", h.DeferInstallment)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}

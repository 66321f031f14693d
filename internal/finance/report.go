package finance

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Juanchoszs/cromu-system/internal/model"
)

// ScheduleRow объединяет строку графика погашения с живым состоянием взноса.
type ScheduleRow struct {
	Period          int                     `json:"period"`
	Number          string                  `json:"number"`
	Installment     int64                   `json:"installment"`
	Interest        int64                   `json:"interest"`
	Principal       int64                   `json:"principal"`
	Balance         int64                   `json:"balance"`
	Status          model.InstallmentStatus `json:"status"`
	Amount          int64                   `json:"amount"`
	PaidAt          *time.Time              `json:"paid_at,omitempty"`
	DueAt           time.Time               `json:"due_at"`
	Overdue         bool                    `json:"overdue"`
	SubInstallments []model.SubInstallment  `json:"sub_installments,omitempty"`
}

// LoanScheduleView — читаемое представление займа для отчётности.
type LoanScheduleView struct {
	LoanID        uuid.UUID                       `json:"loan_id"`
	Status        model.LoanStatus                `json:"status"`
	Rows          []ScheduleRow                   `json:"rows"`
	TotalPaid     int64                           `json:"total_paid"`
	TotalPending  int64                           `json:"total_pending"`
	CapitalTotal  int64                           `json:"capital_total"`
	InterestTotal int64                           `json:"interest_total"`
	StatusCounts  map[model.InstallmentStatus]int `json:"status_counts"`
	OverdueCount  int                             `json:"overdue_count"`
	GeneratedAt   time.Time                       `json:"generated_at"`
}

// SaverVoucher — сводный ваучер вкладчика.
type SaverVoucher struct {
	SaverID             uuid.UUID        `json:"saver_id"`
	Cedula              string           `json:"cedula"`
	Name                string           `json:"name"`
	TotalSaved          int64            `json:"total_saved"`
	ConsecutivePayments int              `json:"consecutive_payments"`
	LoyaltyBonusActive  bool             `json:"loyalty_bonus_active"`
	AnnualRatePercent   int64            `json:"annual_rate_percent"`
	CompoundedBalance   int64            `json:"compounded_balance"`
	InterestAccrued     int64            `json:"interest_accrued"`
	PaidCount           int              `json:"paid_count"`
	PendingCount        int              `json:"pending_count"`
	MonthlyBreakdown    []MonthlyAccrual `json:"monthly_breakdown"`
	GeneratedAt         time.Time        `json:"generated_at"`
}

// BuildLoanSchedule собирает полный график погашения, совмещённый с живым
// состоянием взносов, итогами капитал/проценты и счётчиками статусов.
// Чистая функция: детерминирована при одинаковых входе и now.
func BuildLoanSchedule(loan *model.Loan, now time.Time) (*LoanScheduleView, error) {
	amort, err := Amortize(AmortizationInput{
		Principal:          loan.Principal,
		MonthlyRatePercent: loan.MonthlyRatePercent,
		TermMonths:         loan.TermMonths,
	})
	if err != nil {
		return nil, err
	}

	view := &LoanScheduleView{
		LoanID:       loan.ID,
		Status:       loan.Status,
		Rows:         make([]ScheduleRow, 0, len(amort.Schedule)),
		StatusCounts: make(map[model.InstallmentStatus]int),
		GeneratedAt:  now,
	}

	var totalPending int64
	for _, entry := range amort.Schedule {
		number := strconv.Itoa(entry.Period)
		row := ScheduleRow{
			Period:      entry.Period,
			Number:      number,
			Installment: entry.Installment,
			Interest:    entry.Interest,
			Principal:   entry.Principal,
			Balance:     entry.Balance,
			DueAt:       InstallmentDueDate(loan.DisbursedAt, entry.Period),
			Status:      model.InstallmentStatusPending,
			Amount:      entry.Installment,
		}

		if ins, ok := loan.Installments[number]; ok {
			row.Status = ins.Status
			row.Amount = ins.Amount
			row.PaidAt = ins.PaidAt
			row.SubInstallments = ins.SubInstallments
			row.Overdue = IsOverdue(ins, loan.DisbursedAt, now)

			if ins.Status == model.InstallmentStatusPending {
				totalPending += ins.Amount
			}
			for _, sub := range ins.SubInstallments {
				view.StatusCounts[sub.Status]++
				if sub.Status == model.InstallmentStatusPending {
					totalPending += sub.Amount
				}
			}
		} else {
			row.Overdue = row.DueAt.Before(now)
			totalPending += entry.Installment
		}

		view.StatusCounts[row.Status]++
		if row.Overdue {
			view.OverdueCount++
		}

		view.CapitalTotal += entry.Principal
		view.InterestTotal += entry.Interest
		view.Rows = append(view.Rows, row)
	}

	totals := *loan
	RecomputeLoanAggregates(&totals)
	view.TotalPaid = totals.TotalPaid
	view.TotalPending = totalPending

	return view, nil
}

// BuildSaverVoucher собирает сводный ваучер вкладчика: плоская сумма
// накоплений, серия и бонус, капитализированный остаток по текущей ставке
// и помесячная разбивка по исторической.
func BuildSaverVoucher(saver *model.Saver, now time.Time) *SaverVoucher {
	aggregates := RecomputeSaverAggregates(saver.PaymentHistory)
	rate := AnnualRatePercent(aggregates.LoyaltyBonusActive)

	// Сводный остаток считается по единой текущей ставке, разбивка для
	// диаграммы — помесячно по исторической.
	current := Accrue(saver.PaymentHistory, rate)
	historical := AccrueHistorical(saver.PaymentHistory)

	paid, pending := 0, 0
	for _, record := range saver.PaymentHistory {
		if record.Paid {
			paid++
		} else {
			pending++
		}
	}

	return &SaverVoucher{
		SaverID:             saver.ID,
		Cedula:              saver.Cedula,
		Name:                saver.Name,
		TotalSaved:          aggregates.TotalSaved,
		ConsecutivePayments: aggregates.ConsecutivePayments,
		LoyaltyBonusActive:  aggregates.LoyaltyBonusActive,
		AnnualRatePercent:   rate,
		CompoundedBalance:   current.Balance,
		InterestAccrued:     current.InterestTotal,
		PaidCount:           paid,
		PendingCount:        pending,
		MonthlyBreakdown:    historical.Breakdown,
		GeneratedAt:         now,
	}
}

package finance

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Juanchoszs/cromu-system/internal/model"
)

func TestBuildLoanSchedule(t *testing.T) {
	disbursed := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	installment := int64(98_000)

	loan := &model.Loan{
		ID:                 uuid.New(),
		Cedula:             "1098765432",
		Principal:          1_000_000,
		MonthlyRatePercent: 2.5,
		TermMonths:         12,
		DisbursedAt:        disbursed,
		DueAt:              disbursed.AddDate(0, 12, 0),
		Status:             model.LoanStatusActive,
		Installments:       SeedInstallments(12, installment),
	}

	paidAt := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)
	if err := MarkPaid(loan, "1", paidAt); err != nil {
		t.Fatalf("MarkPaid error: %v", err)
	}

	now := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
	view, err := BuildLoanSchedule(loan, now)
	if err != nil {
		t.Fatalf("BuildLoanSchedule error: %v", err)
	}

	if len(view.Rows) != 12 {
		t.Fatalf("rows = %d, want 12", len(view.Rows))
	}

	first := view.Rows[0]
	if first.Status != model.InstallmentStatusPaid || first.PaidAt == nil {
		t.Fatalf("row 1 = %+v, want PAID with date", first)
	}
	if first.Overdue {
		t.Fatalf("paid row must not be overdue")
	}

	// Взнос 2 со сроком 2024-03-15 ещё pending: просрочен только для показа.
	second := view.Rows[1]
	if second.Status != model.InstallmentStatusPending || !second.Overdue {
		t.Fatalf("row 2 = %+v, want pending and overdue", second)
	}
	if loan.Installments["2"].Status != model.InstallmentStatusPending {
		t.Fatalf("overdue classification must not mutate stored status")
	}

	if view.OverdueCount != 1 {
		t.Fatalf("overdue count = %d, want 1", view.OverdueCount)
	}
	if view.TotalPaid != installment {
		t.Fatalf("total paid = %d, want %d", view.TotalPaid, installment)
	}
	if want := int64(11) * installment; view.TotalPending != want {
		t.Fatalf("total pending = %d, want %d", view.TotalPending, want)
	}
	if view.CapitalTotal != 1_000_000 {
		t.Fatalf("capital total = %d, want 1000000", view.CapitalTotal)
	}
	if view.StatusCounts[model.InstallmentStatusPaid] != 1 ||
		view.StatusCounts[model.InstallmentStatusPending] != 11 {
		t.Fatalf("status counts = %v", view.StatusCounts)
	}
}

func TestBuildLoanSchedule_Deterministic(t *testing.T) {
	disbursed := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	loan := &model.Loan{
		ID:                 uuid.New(),
		Principal:          1_000_000,
		MonthlyRatePercent: 2.5,
		TermMonths:         12,
		DisbursedAt:        disbursed,
		Status:             model.LoanStatusActive,
		Installments:       SeedInstallments(12, 98_000),
	}

	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	a, err := BuildLoanSchedule(loan, now)
	if err != nil {
		t.Fatalf("first build error: %v", err)
	}
	b, err := BuildLoanSchedule(loan, now)
	if err != nil {
		t.Fatalf("second build error: %v", err)
	}

	if !reflect.DeepEqual(a, b) {
		t.Fatalf("view must be deterministic for identical input and now")
	}
}

func TestBuildSaverVoucher(t *testing.T) {
	enrolled := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	saver := &model.Saver{
		ID:         uuid.New(),
		Cedula:     "123456789",
		Name:       "María Gómez",
		EnrolledAt: enrolled,
		PaymentHistory: map[string]model.PaymentRecord{
			"2024-01": {Paid: true, Amount: 100_000},
			"2024-02": {Paid: true, Amount: 100_000},
			"2024-03": {Paid: true, Amount: 100_000},
			"2024-04": {Paid: false, Amount: 100_000},
		},
	}

	now := time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)
	voucher := BuildSaverVoucher(saver, now)

	if voucher.TotalSaved != 300_000 {
		t.Fatalf("total saved = %d, want 300000", voucher.TotalSaved)
	}
	if voucher.ConsecutivePayments != 3 || !voucher.LoyaltyBonusActive {
		t.Fatalf("streak = %d bonus = %v, want 3 and active", voucher.ConsecutivePayments, voucher.LoyaltyBonusActive)
	}
	if voucher.AnnualRatePercent != 7 {
		t.Fatalf("annual rate = %d, want 7", voucher.AnnualRatePercent)
	}

	// Сводный остаток — по единой текущей ставке.
	if voucher.CompoundedBalance != 301_753 || voucher.InterestAccrued != 1_753 {
		t.Fatalf("compounded = %d interest = %d, want 301753 and 1753",
			voucher.CompoundedBalance, voucher.InterestAccrued)
	}

	// Разбивка — по исторической ставке помесячно.
	if len(voucher.MonthlyBreakdown) != 4 {
		t.Fatalf("breakdown length = %d, want 4", len(voucher.MonthlyBreakdown))
	}
	if mar := voucher.MonthlyBreakdown[2]; mar.Balance != 301_670 {
		t.Fatalf("march breakdown balance = %d, want 301670", mar.Balance)
	}

	if voucher.PaidCount != 3 || voucher.PendingCount != 1 {
		t.Fatalf("counts = paid %d pending %d, want 3 and 1", voucher.PaidCount, voucher.PendingCount)
	}
	if !voucher.GeneratedAt.Equal(now) {
		t.Fatalf("generatedAt = %v, want %v", voucher.GeneratedAt, now)
	}
}

func TestBuildSaverVoucher_NoPayments(t *testing.T) {
	saver := &model.Saver{
		ID: uuid.New(),
		PaymentHistory: map[string]model.PaymentRecord{
			"2024-01": {Paid: false, Amount: 100_000},
			"2024-02": {Paid: false, Amount: 100_000},
		},
	}

	voucher := BuildSaverVoucher(saver, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	if voucher.TotalSaved != 0 || voucher.ConsecutivePayments != 0 || voucher.LoyaltyBonusActive {
		t.Fatalf("voucher = %+v, want empty aggregates", voucher)
	}
	if voucher.AnnualRatePercent != 6 {
		t.Fatalf("annual rate = %d, want 6", voucher.AnnualRatePercent)
	}
	if voucher.CompoundedBalance != 0 {
		t.Fatalf("compounded balance = %d, want 0", voucher.CompoundedBalance)
	}
}

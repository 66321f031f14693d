package finance

import (
	"errors"
	"testing"
)

func TestFixedInstallment_RoundingVariants(t *testing.T) {
	in := AmortizationInput{
		Principal:          1_000_000,
		MonthlyRatePercent: 2.5,
		TermMonths:         12,
	}

	up, err := FixedInstallment(in, RoundUp)
	if err != nil {
		t.Fatalf("FixedInstallment(RoundUp) error: %v", err)
	}
	if up != 98_000 {
		t.Fatalf("RoundUp installment = %d, want 98000", up)
	}

	nearest, err := FixedInstallment(in, RoundNearest)
	if err != nil {
		t.Fatalf("FixedInstallment(RoundNearest) error: %v", err)
	}
	if nearest != 97_000 {
		t.Fatalf("RoundNearest installment = %d, want 97000", nearest)
	}
}

func TestAmortize_ReferenceLoan(t *testing.T) {
	res, err := Amortize(AmortizationInput{
		Principal:          1_000_000,
		MonthlyRatePercent: 2.5,
		TermMonths:         12,
	})
	if err != nil {
		t.Fatalf("Amortize error: %v", err)
	}

	if res.Installment != 98_000 {
		t.Fatalf("installment = %d, want 98000", res.Installment)
	}
	if len(res.Schedule) != 12 {
		t.Fatalf("schedule length = %d, want 12", len(res.Schedule))
	}

	first := res.Schedule[0]
	if first.Interest != 25_000 || first.Principal != 73_000 || first.Balance != 927_000 {
		t.Fatalf("first row = %+v, want interest 25000, principal 73000, balance 927000", first)
	}

	var principalSum int64
	for _, row := range res.Schedule {
		if row.Installment != res.Installment {
			t.Fatalf("period %d installment = %d, want constant %d", row.Period, row.Installment, res.Installment)
		}
		principalSum += row.Principal
	}

	if principalSum != 1_000_000 {
		t.Fatalf("sum of principal = %d, want exactly 1000000", principalSum)
	}
	if last := res.Schedule[len(res.Schedule)-1]; last.Balance != 0 {
		t.Fatalf("final balance = %d, want 0", last.Balance)
	}
}

func TestAmortize_SinglePeriod(t *testing.T) {
	res, err := Amortize(AmortizationInput{
		Principal:          100_000,
		MonthlyRatePercent: 2,
		TermMonths:         1,
	})
	if err != nil {
		t.Fatalf("Amortize error: %v", err)
	}

	// n = 1 вырождается в A = P*(1+i)
	if res.Installment != 102_000 {
		t.Fatalf("installment = %d, want 102000", res.Installment)
	}
	if len(res.Schedule) != 1 {
		t.Fatalf("schedule length = %d, want 1", len(res.Schedule))
	}
	row := res.Schedule[0]
	if row.Interest != 2_000 || row.Principal != 100_000 || row.Balance != 0 {
		t.Fatalf("row = %+v, want interest 2000, principal 100000, balance 0", row)
	}
}

func TestAmortize_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		in   AmortizationInput
	}{
		{
			name: "zero rate",
			in:   AmortizationInput{Principal: 1_000_000, MonthlyRatePercent: 0, TermMonths: 12},
		},
		{
			name: "negative principal",
			in:   AmortizationInput{Principal: -1, MonthlyRatePercent: 2, TermMonths: 12},
		},
		{
			name: "zero term",
			in:   AmortizationInput{Principal: 1_000_000, MonthlyRatePercent: 2, TermMonths: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Amortize(tt.in); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("Amortize(%+v) error = %v, want ErrInvalidInput", tt.in, err)
			}
			if _, err := FixedInstallment(tt.in, RoundUp); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("FixedInstallment(%+v) error = %v, want ErrInvalidInput", tt.in, err)
			}
		})
	}
}

func TestQuickEstimate(t *testing.T) {
	est, err := QuickEstimate(AmortizationInput{
		Principal:          1_000_000,
		MonthlyRatePercent: 2.5,
		TermMonths:         12,
	})
	if err != nil {
		t.Fatalf("QuickEstimate error: %v", err)
	}

	if est.Installment != 97_000 {
		t.Fatalf("installment = %d, want 97000", est.Installment)
	}
	if est.TotalPayment != 12*97_000 {
		t.Fatalf("total payment = %d, want %d", est.TotalPayment, 12*97_000)
	}
	if est.TotalInterest != 12*97_000-1_000_000 {
		t.Fatalf("total interest = %d, want %d", est.TotalInterest, 12*97_000-1_000_000)
	}
}

// Package finance реализует чистое финансовое ядро кооператива:
// аннуитетный расчёт займов, капитализацию накоплений, серию
// лояльности и жизненный цикл взносов. Пакет не выполняет ввод-вывод;
// текущее время всегда передаётся параметром.
package finance

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidInput возвращается при некорректных входных параметрах расчёта.
var ErrInvalidInput = errors.New("invalid input")

var (
	one      = decimal.NewFromInt(1)
	hundred  = decimal.NewFromInt(100)
	twelve   = decimal.NewFromInt(12)
	thousand = decimal.NewFromInt(1000)
)

// Rounding задаёт правило округления фиксированного взноса до тысяч песо.
type Rounding int

const (
	// RoundNearest округляет к ближайшей тысяче. Используется в быстрой
	// оценке для витрины.
	RoundNearest Rounding = iota
	// RoundUp округляет вверх до тысячи. Используется при создании займа,
	// чтобы аннуитет не оказался недобранным.
	RoundUp
)

// AmortizationInput содержит параметры займа для аннуитетного расчёта.
type AmortizationInput struct {
	Principal          int64
	MonthlyRatePercent float64
	TermMonths         int
}

// ScheduleEntry описывает одну строку графика погашения.
type ScheduleEntry struct {
	Period      int
	Installment int64
	Interest    int64
	Principal   int64
	Balance     int64
}

// AmortizationResult содержит фиксированный взнос и полный график погашения.
type AmortizationResult struct {
	Installment int64
	Schedule    []ScheduleEntry
}

// Estimate содержит итог быстрой оценки займа для витрины.
type Estimate struct {
	Installment   int64 `json:"installment"`
	TotalPayment  int64 `json:"total_payment"`
	TotalInterest int64 `json:"total_interest"`
}

func validateAmortizationInput(in AmortizationInput) error {
	if in.Principal <= 0 {
		return fmt.Errorf("%w: principal must be positive", ErrInvalidInput)
	}
	if in.MonthlyRatePercent <= 0 {
		return fmt.Errorf("%w: monthly rate must be positive", ErrInvalidInput)
	}
	if in.TermMonths <= 0 {
		return fmt.Errorf("%w: term must be positive", ErrInvalidInput)
	}
	return nil
}

// rawInstallment вычисляет неокруглённый аннуитет A = P*i*(1+i)^n / ((1+i)^n - 1).
func rawInstallment(in AmortizationInput) decimal.Decimal {
	i := decimal.NewFromFloat(in.MonthlyRatePercent).Div(hundred)
	growth := one.Add(i).Pow(decimal.NewFromInt(int64(in.TermMonths)))
	principal := decimal.NewFromInt(in.Principal)
	return principal.Mul(i).Mul(growth).Div(growth.Sub(one))
}

func roundToThousand(d decimal.Decimal, rounding Rounding) int64 {
	q := d.Div(thousand)
	if rounding == RoundUp {
		q = q.Ceil()
	} else {
		q = q.Round(0)
	}
	return q.Mul(thousand).IntPart()
}

// FixedInstallment вычисляет фиксированный месячный взнос по аннуитетной
// формуле с округлением до тысяч песо по указанному правилу.
func FixedInstallment(in AmortizationInput, rounding Rounding) (int64, error) {
	if err := validateAmortizationInput(in); err != nil {
		return 0, err
	}
	return roundToThousand(rawInstallment(in), rounding), nil
}

// Amortize строит полный график погашения с фиксированным взносом,
// округлённым вверх. Основная часть последнего периода доводит остаток
// ровно до нуля, поглощая остаточную погрешность округления; сумма
// основных частей всегда равна телу займа.
func Amortize(in AmortizationInput) (*AmortizationResult, error) {
	if err := validateAmortizationInput(in); err != nil {
		return nil, err
	}

	installment := roundToThousand(rawInstallment(in), RoundUp)
	rate := decimal.NewFromFloat(in.MonthlyRatePercent).Div(hundred)
	payment := decimal.NewFromInt(installment)
	balance := decimal.NewFromInt(in.Principal)

	schedule := make([]ScheduleEntry, 0, in.TermMonths)
	for period := 1; period <= in.TermMonths; period++ {
		interest := balance.Mul(rate).Round(0)
		principal := payment.Sub(interest)
		if period == in.TermMonths || principal.GreaterThan(balance) {
			principal = balance
		}
		balance = balance.Sub(principal)

		schedule = append(schedule, ScheduleEntry{
			Period:      period,
			Installment: installment,
			Interest:    interest.IntPart(),
			Principal:   principal.IntPart(),
			Balance:     balance.IntPart(),
		})
	}

	return &AmortizationResult{
		Installment: installment,
		Schedule:    schedule,
	}, nil
}

// QuickEstimate вычисляет взнос с округлением к ближайшей тысяче и
// производные итоги для публичного калькулятора.
func QuickEstimate(in AmortizationInput) (*Estimate, error) {
	installment, err := FixedInstallment(in, RoundNearest)
	if err != nil {
		return nil, err
	}

	total := installment * int64(in.TermMonths)
	return &Estimate{
		Installment:   installment,
		TotalPayment:  total,
		TotalInterest: total - in.Principal,
	}, nil
}

package finance

import (
	"github.com/shopspring/decimal"

	"github.com/Juanchoszs/cromu-system/internal/model"
)

// MonthlyAccrual описывает один месяц капитализации для диаграммы
// капитал/проценты.
type MonthlyAccrual struct {
	Period   string `json:"period"`
	Deposit  int64  `json:"deposit"`
	Interest int64  `json:"interest"`
	Balance  int64  `json:"balance"`
}

// AccrualResult содержит итог капитализации накоплений.
type AccrualResult struct {
	// Balance — капитализированный итог (saldo acumulado). Отличается от
	// плоской суммы TotalSaved: оба числа показываются вкладчику.
	Balance       int64
	InterestTotal int64
	Breakdown     []MonthlyAccrual
}

// SaverAggregates содержит производные поля вкладчика, пересчитываемые
// после каждой мутации истории.
type SaverAggregates struct {
	TotalSaved          int64
	ConsecutivePayments int
	LoyaltyBonusActive  bool
}

func monthlyRate(annualRatePercent int64) decimal.Decimal {
	return decimal.NewFromInt(annualRatePercent).Div(twelve).Div(hundred)
}

// Accrue капитализирует историю по единой годовой ставке, применённой ко
// всему периоду. Этот вариант используется в сводном ваучере: ставка
// определяется текущей серией на момент расчёта. Неоплаченный период не
// даёт ни вклада, ни процентного шага — баланс переносится без изменений.
func Accrue(history map[string]model.PaymentRecord, annualRatePercent int64) *AccrualResult {
	rate := monthlyRate(annualRatePercent)
	balance := decimal.Zero
	interestTotal := decimal.Zero

	breakdown := make([]MonthlyAccrual, 0, len(history))
	for _, period := range sortedPeriods(history) {
		record := history[period]
		entry := MonthlyAccrual{Period: period}

		if record.Paid {
			interest := balance.Mul(rate)
			balance = balance.Add(decimal.NewFromInt(record.Amount)).Add(interest)
			interestTotal = interestTotal.Add(interest)
			entry.Deposit = record.Amount
			entry.Interest = interest.Round(0).IntPart()
		}

		entry.Balance = balance.Round(0).IntPart()
		breakdown = append(breakdown, entry)
	}

	return &AccrualResult{
		Balance:       balance.Round(0).IntPart(),
		InterestTotal: interestTotal.Round(0).IntPart(),
		Breakdown:     breakdown,
	}
}

// AccrueHistorical капитализирует историю помесячно со ставкой,
// действовавшей в соответствующем месяце: серия оценивается по периодам
// строго раньше текущего. Этот вариант используется для диаграммы
// разбивки, а не для сводного ваучера.
func AccrueHistorical(history map[string]model.PaymentRecord) *AccrualResult {
	balance := decimal.Zero
	interestTotal := decimal.Zero

	streak := 0
	gapSeen := false

	breakdown := make([]MonthlyAccrual, 0, len(history))
	for _, period := range sortedPeriods(history) {
		record := history[period]
		entry := MonthlyAccrual{Period: period}

		rate := monthlyRate(AnnualRatePercent(LoyaltyBonusActive(streak)))

		if record.Paid {
			interest := balance.Mul(rate)
			balance = balance.Add(decimal.NewFromInt(record.Amount)).Add(interest)
			interestTotal = interestTotal.Add(interest)
			entry.Deposit = record.Amount
			entry.Interest = interest.Round(0).IntPart()

			if !gapSeen {
				streak++
			}
		} else {
			gapSeen = true
		}

		entry.Balance = balance.Round(0).IntPart()
		breakdown = append(breakdown, entry)
	}

	return &AccrualResult{
		Balance:       balance.Round(0).IntPart(),
		InterestTotal: interestTotal.Round(0).IntPart(),
		Breakdown:     breakdown,
	}
}

// TotalSaved возвращает плоскую сумму оплаченных вкладов без капитализации.
func TotalSaved(history map[string]model.PaymentRecord) int64 {
	var total int64
	for _, record := range history {
		if record.Paid {
			total += record.Amount
		}
	}
	return total
}

// RecomputeSaverAggregates пересчитывает производные поля вкладчика по
// истории платежей. Единственная точка пересчёта: поля никогда не
// правятся вручную в обход этой функции.
func RecomputeSaverAggregates(history map[string]model.PaymentRecord) SaverAggregates {
	streak := ConsecutivePayments(history)
	return SaverAggregates{
		TotalSaved:          TotalSaved(history),
		ConsecutivePayments: streak,
		LoyaltyBonusActive:  LoyaltyBonusActive(streak),
	}
}

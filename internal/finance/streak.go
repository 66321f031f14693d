package finance

import (
	"sort"

	"github.com/Juanchoszs/cromu-system/internal/model"
)

// Годовые ставки накоплений в процентах. Базовая ставка повышается на
// один пункт при активном бонусе лояльности; других значений не бывает.
const (
	BaseAnnualRatePercent  int64 = 6
	BonusAnnualRatePercent int64 = 7

	// LoyaltyThreshold — минимальная серия подряд оплаченных периодов,
	// активирующая бонус.
	LoyaltyThreshold = 2
)

// sortedPeriods возвращает ключи истории в хронологическом порядке.
// Лексикографическая сортировка корректна из-за фиксированного формата
// "YYYY-MM" с ведущими нулями.
func sortedPeriods(history map[string]model.PaymentRecord) []string {
	periods := make([]string, 0, len(history))
	for key := range history {
		periods = append(periods, key)
	}
	sort.Strings(periods)
	return periods
}

// ConsecutivePayments считает оплаченные периоды от самого раннего до
// первого пропуска включительно. Пропуск после уже набранной серии не
// обнуляет её: просмотр всегда начинается с первого периода и
// останавливается на первом неоплаченном.
func ConsecutivePayments(history map[string]model.PaymentRecord) int {
	count := 0
	for _, period := range sortedPeriods(history) {
		if !history[period].Paid {
			break
		}
		count++
	}
	return count
}

// LoyaltyBonusActive сообщает, активирует ли серия бонус лояльности.
func LoyaltyBonusActive(streak int) bool {
	return streak >= LoyaltyThreshold
}

// AnnualRatePercent возвращает действующую годовую ставку накоплений.
func AnnualRatePercent(bonusActive bool) int64 {
	if bonusActive {
		return BonusAnnualRatePercent
	}
	return BaseAnnualRatePercent
}

package finance

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Juanchoszs/cromu-system/internal/model"
)

// ErrUnknownInstallment возвращается, если взнос с указанным номером не найден.
var (
	ErrUnknownInstallment = errors.New("unknown installment")
	// ErrInvalidTransition возвращается при недопустимом переходе состояния взноса.
	ErrInvalidTransition = errors.New("invalid installment transition")
	// ErrOrphanSubInstallment возвращается, если дочерний взнос ссылается на
	// несуществующий родительский.
	ErrOrphanSubInstallment = errors.New("sub-installment without parent")
)

// SplitNumber разбирает номер взноса: "3" — родительский, "3.1" — дочерний.
func SplitNumber(number string) (parent string, isSub bool) {
	if idx := strings.IndexByte(number, '.'); idx >= 0 {
		return number[:idx], true
	}
	return number, false
}

// SplitAmount вычисляет сумму дочернего взноса: половина родительской,
// округлённая к ближайшей тысяче.
func SplitAmount(parentAmount int64) int64 {
	half := decimal.NewFromInt(parentAmount).Div(decimal.NewFromInt(2))
	return roundToThousand(half, RoundNearest)
}

// InstallmentDueDate возвращает срок взноса: дата выдачи плюс номер периода
// в месяцах.
func InstallmentDueDate(disbursedAt time.Time, period int) time.Time {
	return disbursedAt.AddDate(0, period, 0)
}

// IsOverdue классифицирует взнос как просроченный для отображения: статус
// ещё не достигнут (pending), а срок уже прошёл. Хранимый статус при этом
// не меняется.
func IsOverdue(ins model.Installment, disbursedAt, now time.Time) bool {
	if ins.Status != model.InstallmentStatusPending {
		return false
	}
	period, err := strconv.Atoi(ins.Number)
	if err != nil {
		return false
	}
	return InstallmentDueDate(disbursedAt, period).Before(now)
}

func findSub(ins *model.Installment, number string) (int, error) {
	for i := range ins.SubInstallments {
		if ins.SubInstallments[i].Number == number {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownInstallment, number)
}

// MarkPaid переводит взнос из pending в paid и ставит отметку времени оплаты.
// Принимает как родительские, так и дочерние номера.
func MarkPaid(loan *model.Loan, number string, now time.Time) error {
	parent, isSub := SplitNumber(number)

	ins, ok := loan.Installments[parent]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstallment, number)
	}

	if isSub {
		i, err := findSub(&ins, number)
		if err != nil {
			return err
		}
		if ins.SubInstallments[i].Status != model.InstallmentStatusPending {
			return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, number, ins.SubInstallments[i].Status)
		}
		ins.SubInstallments[i].Status = model.InstallmentStatusPaid
		ins.SubInstallments[i].PaidAt = &now
	} else {
		if ins.Status != model.InstallmentStatusPending {
			return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, number, ins.Status)
		}
		ins.Status = model.InstallmentStatusPaid
		ins.PaidAt = &now
	}

	loan.Installments[parent] = ins
	RecomputeLoanAggregates(loan)
	return nil
}

// RevertPending возвращает оплаченный взнос в pending и очищает отметку
// времени оплаты.
func RevertPending(loan *model.Loan, number string) error {
	parent, isSub := SplitNumber(number)

	ins, ok := loan.Installments[parent]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstallment, number)
	}

	if isSub {
		i, err := findSub(&ins, number)
		if err != nil {
			return err
		}
		if ins.SubInstallments[i].Status != model.InstallmentStatusPaid {
			return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, number, ins.SubInstallments[i].Status)
		}
		ins.SubInstallments[i].Status = model.InstallmentStatusPending
		ins.SubInstallments[i].PaidAt = nil
	} else {
		if ins.Status != model.InstallmentStatusPaid {
			return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, number, ins.Status)
		}
		ins.Status = model.InstallmentStatusPending
		ins.PaidAt = nil
	}

	loan.Installments[parent] = ins
	RecomputeLoanAggregates(loan)
	return nil
}

// Defer отсрочивает родительский взнос. Первый вызов переводит его в
// deferred, ставит отметку времени и лениво создаёт ровно один дочерний
// взнос "<n>.1" на половину суммы. Повторная отсрочка уже отсроченного
// взноса дубликата не создаёт.
func Defer(loan *model.Loan, number string, now time.Time) error {
	if _, isSub := SplitNumber(number); isSub {
		return fmt.Errorf("%w: sub-installment %s cannot be deferred", ErrInvalidTransition, number)
	}

	ins, ok := loan.Installments[number]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstallment, number)
	}

	switch ins.Status {
	case model.InstallmentStatusPending:
		ins.Status = model.InstallmentStatusDeferred
		ins.DeferredAt = &now
	case model.InstallmentStatusDeferred:
		// повторная отсрочка: только досоздаём дочерний взнос при его отсутствии
	default:
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, number, ins.Status)
	}

	if len(ins.SubInstallments) == 0 {
		ins.SubInstallments = append(ins.SubInstallments, model.SubInstallment{
			Number: number + ".1",
			Status: model.InstallmentStatusPending,
			Amount: SplitAmount(ins.Amount),
		})
	}

	loan.Installments[number] = ins
	RecomputeLoanAggregates(loan)
	return nil
}

// RecomputeLoanAggregates пересчитывает производные поля займа по всем
// родительским и дочерним взносам. Единственная точка пересчёта,
// вызываемая после каждого перехода.
func RecomputeLoanAggregates(loan *model.Loan) {
	var totalPaid int64
	paidCount := 0
	var lastPayment *time.Time

	consider := func(status model.InstallmentStatus, amount int64, paidAt *time.Time) {
		if status != model.InstallmentStatusPaid {
			return
		}
		totalPaid += amount
		paidCount++
		if paidAt != nil && (lastPayment == nil || paidAt.After(*lastPayment)) {
			lastPayment = paidAt
		}
	}

	for _, ins := range loan.Installments {
		consider(ins.Status, ins.Amount, ins.PaidAt)
		for _, sub := range ins.SubInstallments {
			consider(sub.Status, sub.Amount, sub.PaidAt)
		}
	}

	loan.TotalPaid = totalPaid
	loan.PaidCount = paidCount
	loan.LastPaymentAt = lastPayment
}

// NormalizeLoan приводит займ к согласованному виду: оплаченный взнос без
// отметки времени получает переданное now, отсроченный без отметки —
// аналогично. Взнос никогда не выбрасывается из итогов.
func NormalizeLoan(loan *model.Loan, now time.Time) {
	for number, ins := range loan.Installments {
		if ins.Status == model.InstallmentStatusPaid && ins.PaidAt == nil {
			ins.PaidAt = &now
		}
		if ins.Status == model.InstallmentStatusDeferred && ins.DeferredAt == nil {
			ins.DeferredAt = &now
		}
		for i := range ins.SubInstallments {
			if ins.SubInstallments[i].Status == model.InstallmentStatusPaid && ins.SubInstallments[i].PaidAt == nil {
				ins.SubInstallments[i].PaidAt = &now
			}
		}
		loan.Installments[number] = ins
	}
	RecomputeLoanAggregates(loan)
}

// SeedInstallments создаёт взносы 1..term в состоянии pending с
// фиксированной суммой, рассчитанной на момент создания займа. Последующие
// правки ставки или срока уже созданные суммы не меняют.
func SeedInstallments(term int, installment int64) map[string]model.Installment {
	installments := make(map[string]model.Installment, term)
	for period := 1; period <= term; period++ {
		number := strconv.Itoa(period)
		installments[number] = model.Installment{
			Number: number,
			Status: model.InstallmentStatusPending,
			Amount: installment,
		}
	}
	return installments
}

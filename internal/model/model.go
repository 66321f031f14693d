// Package model содержит доменные сущности кооператива Cromu.
package model

import (
	"time"

	"github.com/google/uuid"
)

// PaymentRecord описывает один период накопительной истории вкладчика.
// Суммы хранятся в целых песо.
type PaymentRecord struct {
	Paid   bool
	Amount int64
}

// Saver представляет вкладчика (ahorrador) кооператива.
type Saver struct {
	ID             uuid.UUID
	Cedula         string
	Name           string
	Email          string
	Phone          string
	EnrolledAt     time.Time
	MonthlyAmount  int64
	PaymentHistory map[string]PaymentRecord

	// Производные поля, пересчитываемые при каждой мутации истории.
	TotalSaved          int64
	ConsecutivePayments int
	LoyaltyBonusActive  bool

	CreatedAt time.Time
}

// LoanStatus описывает статус займа, выставляемый оператором.
type LoanStatus string

const (
	LoanStatusActive     LoanStatus = "ACTIVE"
	LoanStatusPaid       LoanStatus = "PAID"
	LoanStatusOverdue    LoanStatus = "OVERDUE"
	LoanStatusRefinanced LoanStatus = "REFINANCED"
)

// ValidLoanStatus сообщает, входит ли статус в допустимый набор.
func ValidLoanStatus(s LoanStatus) bool {
	switch s {
	case LoanStatusActive, LoanStatusPaid, LoanStatusOverdue, LoanStatusRefinanced:
		return true
	}
	return false
}

// InstallmentStatus описывает состояние взноса в жизненном цикле.
type InstallmentStatus string

const (
	InstallmentStatusPending  InstallmentStatus = "PENDING"
	InstallmentStatusPaid     InstallmentStatus = "PAID"
	InstallmentStatusDeferred InstallmentStatus = "DEFERRED"
)

// SubInstallment описывает дочерний взнос, созданный при отсрочке родителя.
// Номер имеет вид "<родитель>.<n>". Дочерние взносы не отсрочиваются.
type SubInstallment struct {
	Number string            `json:"number"`
	Status InstallmentStatus `json:"status"`
	Amount int64             `json:"amount"`
	PaidAt *time.Time        `json:"paid_at,omitempty"`
}

// Installment описывает один взнос по займу.
type Installment struct {
	Number          string
	Status          InstallmentStatus
	Amount          int64
	PaidAt          *time.Time
	DeferredAt      *time.Time
	SubInstallments []SubInstallment
}

// Loan представляет заём (préstamo) кооператива.
type Loan struct {
	ID                 uuid.UUID
	Cedula             string
	Principal          int64
	MonthlyRatePercent float64
	TermMonths         int
	DisbursedAt        time.Time
	DueAt              time.Time
	Status             LoanStatus
	Installments       map[string]Installment

	// Производные поля, пересчитываемые при каждом переходе взноса.
	TotalPaid     int64
	PaidCount     int
	LastPaymentAt *time.Time

	CreatedAt time.Time
}

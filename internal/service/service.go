// Package service реализует бизнес-логику кооператива Cromu.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Juanchoszs/cromu-system/internal/finance"
	"github.com/Juanchoszs/cromu-system/internal/model"
	"github.com/Juanchoszs/cromu-system/internal/notifier"
	"github.com/Juanchoszs/cromu-system/internal/repository"
	"github.com/Juanchoszs/cromu-system/internal/validation"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateSaver(ctx context.Context, s *model.Saver) error
	GetSaver(ctx context.Context, id uuid.UUID) (*model.Saver, error)
	ListSavers(ctx context.Context) ([]model.Saver, error)
	SetSaverPayment(ctx context.Context, id uuid.UUID, period string, paid bool, amount int64) (*model.Saver, error)
	CreateLoan(ctx context.Context, l *model.Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*model.Loan, error)
	ListLoans(ctx context.Context) ([]model.Loan, error)
	MutateLoan(ctx context.Context, id uuid.UUID, mutate func(*model.Loan) error) (*model.Loan, error)
	UpdateLoanStatus(ctx context.Context, id uuid.UUID, status model.LoanStatus) error
}

// Notifier описывает контракт диспетчера уведомлений.
type Notifier interface {
	Send(ctx context.Context, msg notifier.Message) error
}

// Service содержит бизнес-логику кооператива.
type Service struct {
	repo     Repository
	cache    repository.Cache
	notifier Notifier

	// Источник текущего времени: подменяется в тестах.
	now func() time.Time
}

// NewService создаёт сервис с указанным репозиторием, кэшем представлений и
// диспетчером уведомлений. Кэш и диспетчер могут быть nil.
func NewService(repo Repository, cache repository.Cache, n Notifier) *Service {
	return &Service{
		repo:     repo,
		cache:    cache,
		notifier: n,
		now:      time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

const periodLayout = "2006-01"

// EnrollSaverInput содержит данные регистрации вкладчика.
type EnrollSaverInput struct {
	Cedula        string
	Name          string
	Email         string
	Phone         string
	EnrolledAt    time.Time
	MonthlyAmount int64
}

// seedHistory создаёт историю из 12 последовательных неоплаченных периодов,
// начиная с месяца регистрации, на сумму ежемесячного обязательства.
func seedHistory(enrolledAt time.Time, amount int64) map[string]model.PaymentRecord {
	history := make(map[string]model.PaymentRecord, 12)
	for i := 0; i < 12; i++ {
		month := time.Date(enrolledAt.Year(), enrolledAt.Month()+time.Month(i), 1, 0, 0, 0, 0, time.UTC)
		history[month.Format(periodLayout)] = model.PaymentRecord{Paid: false, Amount: amount}
	}
	return history
}

// EnrollSaver регистрирует нового вкладчика с начальной историей периодов.
func (s *Service) EnrollSaver(ctx context.Context, in EnrollSaverInput) (*model.Saver, error) {
	if !validation.IsValidCedula(in.Cedula) {
		return nil, fmt.Errorf("%w: malformed cedula", finance.ErrInvalidInput)
	}
	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", finance.ErrInvalidInput)
	}
	if in.MonthlyAmount <= 0 {
		return nil, fmt.Errorf("%w: monthly amount must be positive", finance.ErrInvalidInput)
	}
	if in.EnrolledAt.IsZero() {
		return nil, fmt.Errorf("%w: enrollment date is required", finance.ErrInvalidInput)
	}

	saver := &model.Saver{
		ID:             uuid.New(),
		Cedula:         in.Cedula,
		Name:           in.Name,
		Email:          in.Email,
		Phone:          in.Phone,
		EnrolledAt:     in.EnrolledAt,
		MonthlyAmount:  in.MonthlyAmount,
		PaymentHistory: seedHistory(in.EnrolledAt, in.MonthlyAmount),
	}

	if err := s.repo.CreateSaver(ctx, saver); err != nil {
		return nil, err
	}

	return saver, nil
}

// GetSaver возвращает вкладчика по идентификатору.
func (s *Service) GetSaver(ctx context.Context, id uuid.UUID) (*model.Saver, error) {
	return s.repo.GetSaver(ctx, id)
}

// ListSavers возвращает всех вкладчиков.
func (s *Service) ListSavers(ctx context.Context) ([]model.Saver, error) {
	return s.repo.ListSavers(ctx)
}

// SetSaverPayment отмечает период истории вкладчика и возвращает вкладчика
// с пересчитанными производными полями. Квитанция отправляется по принципу
// fire-and-forget: сбой доставки не влияет на результат операции.
func (s *Service) SetSaverPayment(ctx context.Context, id uuid.UUID, period string, paid bool, amount int64) (*model.Saver, error) {
	if !validation.IsValidPeriodKey(period) {
		return nil, fmt.Errorf("%w: malformed period key %q", finance.ErrInvalidInput, period)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", finance.ErrInvalidInput)
	}

	saver, err := s.repo.SetSaverPayment(ctx, id, period, paid, amount)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, saverVoucherKey(id))

	if paid && s.notifier != nil {
		_ = s.notifier.Send(ctx, notifier.Message{
			Kind:    notifier.KindPaymentReceipt,
			Email:   saver.Email,
			Subject: "Abono registrado",
			Body:    fmt.Sprintf("Periodo %s: %d", period, amount),
		})
	}

	return saver, nil
}

// SaverVoucher собирает сводный ваучер вкладчика, используя кэш представлений.
func (s *Service) SaverVoucher(ctx context.Context, id uuid.UUID) (*finance.SaverVoucher, error) {
	key := saverVoucherKey(id)
	if cached, ok := s.cacheGet(ctx, key); ok {
		var voucher finance.SaverVoucher
		if err := json.Unmarshal([]byte(cached), &voucher); err == nil {
			return &voucher, nil
		}
	}

	saver, err := s.repo.GetSaver(ctx, id)
	if err != nil {
		return nil, err
	}

	voucher := finance.BuildSaverVoucher(saver, s.now())
	s.cacheSet(ctx, key, voucher)
	return voucher, nil
}

// CreateLoanInput содержит данные для выдачи займа.
type CreateLoanInput struct {
	Cedula             string
	Principal          int64
	MonthlyRatePercent float64
	TermMonths         int
	DisbursedAt        time.Time
}

// CreateLoan выдаёт заём: фиксированный взнос рассчитывается аннуитетным
// калькулятором с округлением вверх и взносы 1..term создаются в pending.
func (s *Service) CreateLoan(ctx context.Context, in CreateLoanInput) (*model.Loan, error) {
	if !validation.IsValidCedula(in.Cedula) {
		return nil, fmt.Errorf("%w: malformed cedula", finance.ErrInvalidInput)
	}
	if in.DisbursedAt.IsZero() {
		return nil, fmt.Errorf("%w: disbursement date is required", finance.ErrInvalidInput)
	}

	amortIn := finance.AmortizationInput{
		Principal:          in.Principal,
		MonthlyRatePercent: in.MonthlyRatePercent,
		TermMonths:         in.TermMonths,
	}
	installment, err := finance.FixedInstallment(amortIn, finance.RoundUp)
	if err != nil {
		return nil, err
	}

	loan := &model.Loan{
		ID:                 uuid.New(),
		Cedula:             in.Cedula,
		Principal:          in.Principal,
		MonthlyRatePercent: in.MonthlyRatePercent,
		TermMonths:         in.TermMonths,
		DisbursedAt:        in.DisbursedAt,
		DueAt:              in.DisbursedAt.AddDate(0, in.TermMonths, 0),
		Status:             model.LoanStatusActive,
		Installments:       finance.SeedInstallments(in.TermMonths, installment),
	}

	if err := s.repo.CreateLoan(ctx, loan); err != nil {
		return nil, err
	}

	return loan, nil
}

// GetLoan возвращает заём по идентификатору.
func (s *Service) GetLoan(ctx context.Context, id uuid.UUID) (*model.Loan, error) {
	return s.repo.GetLoan(ctx, id)
}

// ListLoans возвращает все займы.
func (s *Service) ListLoans(ctx context.Context) ([]model.Loan, error) {
	return s.repo.ListLoans(ctx)
}

// PayInstallment отмечает взнос оплаченным.
func (s *Service) PayInstallment(ctx context.Context, loanID uuid.UUID, number string) (*model.Loan, error) {
	now := s.now()
	loan, err := s.repo.MutateLoan(ctx, loanID, func(l *model.Loan) error {
		return finance.MarkPaid(l, number, now)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, loanScheduleKey(loanID))

	if s.notifier != nil {
		_ = s.notifier.Send(ctx, notifier.Message{
			Kind:    notifier.KindPaymentReceipt,
			Subject: "Cuota pagada",
			Body:    fmt.Sprintf("Prestamo %s, cuota %s", loanID, number),
		})
	}

	return loan, nil
}

// RevertInstallment возвращает оплаченный взнос в pending.
func (s *Service) RevertInstallment(ctx context.Context, loanID uuid.UUID, number string) (*model.Loan, error) {
	loan, err := s.repo.MutateLoan(ctx, loanID, func(l *model.Loan) error {
		return finance.RevertPending(l, number)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, loanScheduleKey(loanID))
	return loan, nil
}

// DeferInstallment отсрочивает взнос, создавая дочерний при первом вызове.
func (s *Service) DeferInstallment(ctx context.Context, loanID uuid.UUID, number string) (*model.Loan, error) {
	now := s.now()
	loan, err := s.repo.MutateLoan(ctx, loanID, func(l *model.Loan) error {
		return finance.Defer(l, number, now)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, loanScheduleKey(loanID))
	return loan, nil
}

// SetLoanStatus выставляет статус займа, задаваемый оператором независимо от
// завершённости взносов.
func (s *Service) SetLoanStatus(ctx context.Context, loanID uuid.UUID, status model.LoanStatus) error {
	if !model.ValidLoanStatus(status) {
		return fmt.Errorf("%w: unknown loan status %q", finance.ErrInvalidInput, status)
	}

	if err := s.repo.UpdateLoanStatus(ctx, loanID, status); err != nil {
		return err
	}

	s.invalidate(ctx, loanScheduleKey(loanID))
	return nil
}

// LoanSchedule собирает график погашения займа, используя кэш представлений.
func (s *Service) LoanSchedule(ctx context.Context, id uuid.UUID) (*finance.LoanScheduleView, error) {
	key := loanScheduleKey(id)
	if cached, ok := s.cacheGet(ctx, key); ok {
		var view finance.LoanScheduleView
		if err := json.Unmarshal([]byte(cached), &view); err == nil {
			return &view, nil
		}
	}

	loan, err := s.repo.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}

	view, err := finance.BuildLoanSchedule(loan, s.now())
	if err != nil {
		return nil, err
	}

	s.cacheSet(ctx, key, view)
	return view, nil
}

// EstimateLoan вычисляет быструю оценку займа для публичного калькулятора.
func (s *Service) EstimateLoan(in finance.AmortizationInput) (*finance.Estimate, error) {
	return finance.QuickEstimate(in)
}

// SendContactMessage передаёт сообщение контактной формы диспетчеру
// уведомлений. Ошибка доставки возвращается для логирования, но вызывающая
// сторона не считает её фатальной.
func (s *Service) SendContactMessage(ctx context.Context, name, email, body string) error {
	if name == "" || email == "" || body == "" {
		return fmt.Errorf("%w: name, email and message are required", finance.ErrInvalidInput)
	}
	if s.notifier == nil {
		return fmt.Errorf("notifier not configured")
	}

	return s.notifier.Send(ctx, notifier.Message{
		Kind:    notifier.KindContact,
		Name:    name,
		Email:   email,
		Subject: "Contacto desde el sitio",
		Body:    body,
	})
}

func saverVoucherKey(id uuid.UUID) string {
	return "voucher:saver:" + id.String()
}

func loanScheduleKey(id uuid.UUID) string {
	return "schedule:loan:" + id.String()
}

func (s *Service) cacheGet(ctx context.Context, key string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	return s.cache.Get(ctx, key)
}

func (s *Service) cacheSet(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return
	}
	// Кэш не критичен: сбой записи игнорируется.
	_ = s.cache.Set(ctx, key, string(encoded))
}

func (s *Service) invalidate(ctx context.Context, key string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Delete(ctx, key)
}

// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/Juanchoszs/cromu-system/internal/finance"
	"github.com/Juanchoszs/cromu-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrSaverExists возвращается при попытке создать вкладчика с уже
// зарегистрированной cédula.
var (
	ErrSaverExists = errors.New("saver already exists")
	// ErrSaverNotFound возвращается, если вкладчик не найден.
	ErrSaverNotFound = errors.New("saver not found")
	// ErrLoanNotFound возвращается, если заём не найден.
	ErrLoanNotFound = errors.New("loan not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраим только сериализационные сбои, дедлоки и сетевые ошибки.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateSaver сохраняет нового вкладчика вместе с начальной историей периодов.
func (r *PostgresRepository) CreateSaver(ctx context.Context, s *model.Saver) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO savers (id, cedula, name, email, phone, enrolled_at, monthly_amount,
		                     total_saved, consecutive_payments, loyalty_bonus)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.Cedula, s.Name, s.Email, s.Phone, s.EnrolledAt, s.MonthlyAmount,
		s.TotalSaved, s.ConsecutivePayments, s.LoyaltyBonusActive,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrSaverExists, s.Cedula)
		}
		return fmt.Errorf("insert saver: %w", err)
	}

	for period, record := range s.PaymentHistory {
		_, err = tx.Exec(ctx,
			`INSERT INTO saver_payments (saver_id, period, paid, amount) VALUES ($1, $2, $3, $4)`,
			s.ID, period, record.Paid, record.Amount,
		)
		if err != nil {
			return fmt.Errorf("insert payment period %s: %w", period, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func scanSaver(row pgx.Row) (*model.Saver, error) {
	var s model.Saver
	err := row.Scan(&s.ID, &s.Cedula, &s.Name, &s.Email, &s.Phone, &s.EnrolledAt,
		&s.MonthlyAmount, &s.TotalSaved, &s.ConsecutivePayments, &s.LoyaltyBonusActive, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSaverNotFound
		}
		return nil, fmt.Errorf("scan saver: %w", err)
	}
	return &s, nil
}

const saverColumns = `id, cedula, name, email, phone, enrolled_at, monthly_amount,
	total_saved, consecutive_payments, loyalty_bonus, created_at`

func loadPaymentHistory(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, saverID uuid.UUID) (map[string]model.PaymentRecord, error) {
	rows, err := q.Query(ctx,
		`SELECT period, paid, amount FROM saver_payments WHERE saver_id = $1`,
		saverID,
	)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	history := make(map[string]model.PaymentRecord)
	for rows.Next() {
		var (
			period string
			record model.PaymentRecord
		)
		if err := rows.Scan(&period, &record.Paid, &record.Amount); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		history[period] = record
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return history, nil
}

// GetSaver возвращает вкладчика вместе с историей платежей.
func (r *PostgresRepository) GetSaver(ctx context.Context, id uuid.UUID) (*model.Saver, error) {
	s, err := scanSaver(r.pool.QueryRow(ctx,
		`SELECT `+saverColumns+` FROM savers WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	history, err := loadPaymentHistory(ctx, r.pool, id)
	if err != nil {
		return nil, err
	}
	s.PaymentHistory = history

	return s, nil
}

// ListSavers возвращает всех вкладчиков без истории платежей.
func (r *PostgresRepository) ListSavers(ctx context.Context) ([]model.Saver, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+saverColumns+` FROM savers ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("select savers: %w", err)
	}
	defer rows.Close()

	var savers []model.Saver
	for rows.Next() {
		var s model.Saver
		err := rows.Scan(&s.ID, &s.Cedula, &s.Name, &s.Email, &s.Phone, &s.EnrolledAt,
			&s.MonthlyAmount, &s.TotalSaved, &s.ConsecutivePayments, &s.LoyaltyBonusActive, &s.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan saver: %w", err)
		}
		savers = append(savers, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return savers, nil
}

// SetSaverPayment отмечает период истории оплаченным или неоплаченным и
// пересчитывает производные поля внутри одной транзакции. Строка
// вкладчика блокируется FOR UPDATE для сериализации конкурентных правок.
func (r *PostgresRepository) SetSaverPayment(ctx context.Context, id uuid.UUID, period string, paid bool, amount int64) (*model.Saver, error) {
	var result *model.Saver

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		s, err := scanSaver(tx.QueryRow(ctx,
			`SELECT `+saverColumns+` FROM savers WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO saver_payments (saver_id, period, paid, amount)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (saver_id, period) DO UPDATE SET paid = $3, amount = $4`,
			id, period, paid, amount,
		)
		if err != nil {
			return fmt.Errorf("upsert payment: %w", err)
		}

		history, err := loadPaymentHistory(ctx, tx, id)
		if err != nil {
			return err
		}

		aggregates := finance.RecomputeSaverAggregates(history)
		_, err = tx.Exec(ctx,
			`UPDATE savers SET total_saved = $2, consecutive_payments = $3, loyalty_bonus = $4 WHERE id = $1`,
			id, aggregates.TotalSaved, aggregates.ConsecutivePayments, aggregates.LoyaltyBonusActive,
		)
		if err != nil {
			return fmt.Errorf("update saver aggregates: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		s.PaymentHistory = history
		s.TotalSaved = aggregates.TotalSaved
		s.ConsecutivePayments = aggregates.ConsecutivePayments
		s.LoyaltyBonusActive = aggregates.LoyaltyBonusActive
		result = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// CreateLoan сохраняет новый заём вместе с начальными взносами.
func (r *PostgresRepository) CreateLoan(ctx context.Context, l *model.Loan) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO loans (id, cedula, principal, monthly_rate, term_months, disbursed_at, due_at,
		                    status, total_paid, paid_count, last_payment_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		l.ID, l.Cedula, l.Principal, l.MonthlyRatePercent, l.TermMonths, l.DisbursedAt, l.DueAt,
		string(l.Status), l.TotalPaid, l.PaidCount, l.LastPaymentAt,
	)
	if err != nil {
		return fmt.Errorf("insert loan: %w", err)
	}

	if err := insertInstallments(ctx, tx, l); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func insertInstallments(ctx context.Context, tx pgx.Tx, l *model.Loan) error {
	for _, ins := range l.Installments {
		_, err := tx.Exec(ctx,
			`INSERT INTO installments (loan_id, number, status, amount, paid_at, deferred_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			l.ID, ins.Number, string(ins.Status), ins.Amount, ins.PaidAt, ins.DeferredAt,
		)
		if err != nil {
			return fmt.Errorf("insert installment %s: %w", ins.Number, err)
		}

		for _, sub := range ins.SubInstallments {
			_, err := tx.Exec(ctx,
				`INSERT INTO installments (loan_id, number, status, amount, paid_at, deferred_at)
				 VALUES ($1, $2, $3, $4, $5, NULL)`,
				l.ID, sub.Number, string(sub.Status), sub.Amount, sub.PaidAt,
			)
			if err != nil {
				return fmt.Errorf("insert sub-installment %s: %w", sub.Number, err)
			}
		}
	}
	return nil
}

type installmentRow struct {
	Number     string
	Status     string
	Amount     int64
	PaidAt     *time.Time
	DeferredAt *time.Time
}

func loadInstallments(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, loanID uuid.UUID) (map[string]model.Installment, error) {
	rows, err := q.Query(ctx,
		`SELECT number, status, amount, paid_at, deferred_at FROM installments WHERE loan_id = $1`,
		loanID,
	)
	if err != nil {
		return nil, fmt.Errorf("select installments: %w", err)
	}
	defer rows.Close()

	var flat []installmentRow
	for rows.Next() {
		var row installmentRow
		if err := rows.Scan(&row.Number, &row.Status, &row.Amount, &row.PaidAt, &row.DeferredAt); err != nil {
			return nil, fmt.Errorf("scan installment: %w", err)
		}
		flat = append(flat, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	// Сначала родительские строки, затем дочерние: дочерняя строка без
	// родителя — нарушение согласованности хранилища.
	installments := make(map[string]model.Installment, len(flat))
	for _, row := range flat {
		if _, isSub := finance.SplitNumber(row.Number); isSub {
			continue
		}
		installments[row.Number] = model.Installment{
			Number:     row.Number,
			Status:     model.InstallmentStatus(row.Status),
			Amount:     row.Amount,
			PaidAt:     row.PaidAt,
			DeferredAt: row.DeferredAt,
		}
	}

	for _, row := range flat {
		parent, isSub := finance.SplitNumber(row.Number)
		if !isSub {
			continue
		}
		ins, ok := installments[parent]
		if !ok {
			return nil, fmt.Errorf("%w: %s", finance.ErrOrphanSubInstallment, row.Number)
		}
		ins.SubInstallments = append(ins.SubInstallments, model.SubInstallment{
			Number: row.Number,
			Status: model.InstallmentStatus(row.Status),
			Amount: row.Amount,
			PaidAt: row.PaidAt,
		})
		installments[parent] = ins
	}

	return installments, nil
}

func scanLoan(row pgx.Row) (*model.Loan, error) {
	var (
		l      model.Loan
		status string
	)
	err := row.Scan(&l.ID, &l.Cedula, &l.Principal, &l.MonthlyRatePercent, &l.TermMonths,
		&l.DisbursedAt, &l.DueAt, &status, &l.TotalPaid, &l.PaidCount, &l.LastPaymentAt, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("scan loan: %w", err)
	}
	l.Status = model.LoanStatus(status)
	return &l, nil
}

const loanColumns = `id, cedula, principal, monthly_rate, term_months, disbursed_at, due_at,
	status, total_paid, paid_count, last_payment_at, created_at`

// GetLoan возвращает заём вместе со взносами.
func (r *PostgresRepository) GetLoan(ctx context.Context, id uuid.UUID) (*model.Loan, error) {
	l, err := scanLoan(r.pool.QueryRow(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	installments, err := loadInstallments(ctx, r.pool, id)
	if err != nil {
		return nil, err
	}
	l.Installments = installments

	return l, nil
}

// ListLoans возвращает все займы без взносов.
func (r *PostgresRepository) ListLoans(ctx context.Context) ([]model.Loan, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+loanColumns+` FROM loans ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("select loans: %w", err)
	}
	defer rows.Close()

	var loans []model.Loan
	for rows.Next() {
		var (
			l      model.Loan
			status string
		)
		err := rows.Scan(&l.ID, &l.Cedula, &l.Principal, &l.MonthlyRatePercent, &l.TermMonths,
			&l.DisbursedAt, &l.DueAt, &status, &l.TotalPaid, &l.PaidCount, &l.LastPaymentAt, &l.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		l.Status = model.LoanStatus(status)
		loans = append(loans, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return loans, nil
}

// MutateLoan загружает заём под блокировкой FOR UPDATE, применяет mutate и
// записывает обновлённые взносы и производные поля в той же транзакции.
func (r *PostgresRepository) MutateLoan(ctx context.Context, id uuid.UUID, mutate func(*model.Loan) error) (*model.Loan, error) {
	var result *model.Loan

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		l, err := scanLoan(tx.QueryRow(ctx,
			`SELECT `+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}

		installments, err := loadInstallments(ctx, tx, id)
		if err != nil {
			return err
		}
		l.Installments = installments

		if err := mutate(l); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM installments WHERE loan_id = $1`, id); err != nil {
			return fmt.Errorf("clear installments: %w", err)
		}
		if err := insertInstallments(ctx, tx, l); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE loans SET status = $2, total_paid = $3, paid_count = $4, last_payment_at = $5 WHERE id = $1`,
			id, string(l.Status), l.TotalPaid, l.PaidCount, l.LastPaymentAt,
		)
		if err != nil {
			return fmt.Errorf("update loan aggregates: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = l
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// UpdateLoanStatus выставляет статус займа, задаваемый оператором.
func (r *PostgresRepository) UpdateLoanStatus(ctx context.Context, id uuid.UUID, status model.LoanStatus) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE loans SET status = $2 WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("update loan status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrLoanNotFound
	}
	return nil
}

/*
Package sqlite provides a SQLite-backed implementation of lending.TxStore.

PURPOSE:
  Persists credits, installments and payments. In production the same
  patterns apply to PostgreSQL with minor dialect differences.

APPEND-ONLY PAYMENTS:
  - No UPDATE statements on the payments table
  - No DELETE statements on the payments table
  - Corrections go through cancellation or refinancing, never edits

KEY TABLES:
  credits:      One row per credit; modality-specific columns are NULL for
                the other variant
  installments: Schedule rows; due-date rolls kept as JSON
  payments:     Immutable allocations; open-ended splits kept as JSON

MONEY:
  Amounts are stored as TEXT decimal strings, never REAL, so a value read
  back is exactly the value written.

CONCURRENCY:
  Transactions are opened with _txlock=immediate: the write lock is taken
  at BEGIN, before any balance is read, so two payments on the same credit
  serialize. A sync.RWMutex additionally serializes writers in-process.

WAL MODE:
  Multiple readers never block; one writer at a time.

USAGE:
  store, err := sqlite.New("./data/credits.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := servicing.NewService(store, policy)

SEE ALSO:
  - lending/store.go: Interface definitions
  - lending/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/lending"
)

// Store implements lending.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS credits (
		id TEXT PRIMARY KEY,
		borrower TEXT NOT NULL DEFAULT '',
		modality TEXT NOT NULL,
		capital TEXT NOT NULL,
		rate TEXT NOT NULL,
		cadence TEXT,
		installment_count INTEGER,
		disbursed_on TEXT NOT NULL,
		committed_on TEXT NOT NULL,
		outstanding TEXT NOT NULL,
		state TEXT NOT NULL,
		refinanced_from TEXT REFERENCES credits(id),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credits_state ON credits(state);

	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		credit_id TEXT NOT NULL REFERENCES credits(id),
		number INTEGER NOT NULL,
		amount TEXT NOT NULL,
		due_date TEXT NOT NULL,
		rolls_json TEXT,
		discount TEXT NOT NULL,
		principal_paid TEXT NOT NULL,
		penalty TEXT NOT NULL,
		state TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (credit_id, number)
	);

	CREATE TABLE IF NOT EXISTS payments (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		credit_id TEXT NOT NULL REFERENCES credits(id),
		installment_id TEXT NOT NULL REFERENCES installments(id),
		receipt_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		paid_on TEXT NOT NULL,
		method TEXT NOT NULL,
		note TEXT,
		penalty TEXT NOT NULL,
		interest TEXT NOT NULL,
		principal TEXT NOT NULL,
		penalty_discount TEXT NOT NULL,
		interest_discount TEXT NOT NULL,
		principal_discount TEXT NOT NULL,
		cycles_json TEXT,
		idempotency_key TEXT,
		actor_role TEXT,
		created_at TEXT NOT NULL
	);

	-- Hot path: replaying a credit's history in date order
	CREATE INDEX IF NOT EXISTS idx_payments_credit_date
		ON payments(credit_id, paid_on, seq);

	-- Not unique: the rows of one cancellation share their key
	CREATE INDEX IF NOT EXISTS idx_payments_idempotency
		ON payments(idempotency_key) WHERE idempotency_key IS NOT NULL;
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CREDITS
// =============================================================================

func (s *Store) CreateCredit(ctx context.Context, c lending.Credit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createCredit(ctx, s.db, c)
}

func (s *Store) GetCredit(ctx context.Context, id lending.CreditID) (lending.Credit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCredit(ctx, s.db, id)
}

func (s *Store) UpdateCredit(ctx context.Context, c lending.Credit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateCredit(ctx, s.db, c)
}

func (s *Store) ListCredits(ctx context.Context, filter lending.CreditFilter) ([]lending.Credit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listCredits(ctx, s.db, filter)
}

const creditColumns = `id, borrower, modality, capital, rate, cadence, installment_count,
	disbursed_on, committed_on, outstanding, state, refinanced_from, created_at, updated_at`

func createCredit(ctx context.Context, q querier, c lending.Credit) error {
	cadence, count := termColumns(c.Terms)
	_, err := q.ExecContext(ctx, `INSERT INTO credits (`+creditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(c.ID),
		c.Borrower,
		string(c.Modality()),
		c.Capital.String(),
		c.Rate.String(),
		cadence,
		count,
		c.DisbursedOn.String(),
		c.CommittedOn.String(),
		c.Outstanding.String(),
		string(c.State),
		nullCreditID(c.RefinancedFrom),
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert credit: %w", err)
	}
	return nil
}

func updateCredit(ctx context.Context, q querier, c lending.Credit) error {
	cadence, count := termColumns(c.Terms)
	res, err := q.ExecContext(ctx, `UPDATE credits SET
		borrower = ?, modality = ?, capital = ?, rate = ?, cadence = ?, installment_count = ?,
		disbursed_on = ?, committed_on = ?, outstanding = ?, state = ?, refinanced_from = ?, updated_at = ?
		WHERE id = ?`,
		c.Borrower,
		string(c.Modality()),
		c.Capital.String(),
		c.Rate.String(),
		cadence,
		count,
		c.DisbursedOn.String(),
		c.CommittedOn.String(),
		c.Outstanding.String(),
		string(c.State),
		nullCreditID(c.RefinancedFrom),
		formatTime(c.UpdatedAt),
		string(c.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update credit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lending.ErrCreditNotFound
	}
	return nil
}

func getCredit(ctx context.Context, q querier, id lending.CreditID) (lending.Credit, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+creditColumns+` FROM credits WHERE id = ?`, string(id))
	if err != nil {
		return lending.Credit{}, fmt.Errorf("failed to query credit: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return lending.Credit{}, err
		}
		return lending.Credit{}, lending.ErrCreditNotFound
	}
	return scanCredit(rows)
}

func listCredits(ctx context.Context, q querier, filter lending.CreditFilter) ([]lending.Credit, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.States) > 0 {
		marks := make([]string, len(filter.States))
		for i, st := range filter.States {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "state IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.Modality != "" {
		where = append(where, "modality = ?")
		args = append(args, string(filter.Modality))
	}

	query := `SELECT ` + creditColumns + ` FROM credits`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query credits: %w", err)
	}
	defer rows.Close()

	var credits []lending.Credit
	for rows.Next() {
		c, err := scanCredit(rows)
		if err != nil {
			return nil, err
		}
		credits = append(credits, c)
	}
	return credits, rows.Err()
}

func scanCredit(rows *sql.Rows) (lending.Credit, error) {
	var (
		c                          lending.Credit
		id, modality, state        string
		capital, rate, outstanding string
		disbursedOn, committedOn   string
		cadence, refinancedFrom    sql.NullString
		count                      sql.NullInt64
		createdAt, updatedAt       string
	)
	err := rows.Scan(&id, &c.Borrower, &modality, &capital, &rate, &cadence, &count,
		&disbursedOn, &committedOn, &outstanding, &state, &refinancedFrom, &createdAt, &updatedAt)
	if err != nil {
		return c, fmt.Errorf("failed to scan credit: %w", err)
	}

	c.ID = lending.CreditID(id)
	c.State = lending.CreditState(state)
	switch lending.Modality(modality) {
	case lending.ModalityOpenEnded:
		c.Terms = lending.OpenTerms{}
	default:
		c.Terms = lending.FixedTerms{
			Progressive: lending.Modality(modality) == lending.ModalityFixedProgressive,
			Cadence:     lending.Cadence(cadence.String),
			Count:       int(count.Int64),
		}
	}
	if refinancedFrom.Valid {
		from := lending.CreditID(refinancedFrom.String)
		c.RefinancedFrom = &from
	}

	p := parser{}
	c.Capital = p.decimal(capital)
	c.Rate = p.decimal(rate)
	c.Outstanding = p.decimal(outstanding)
	c.DisbursedOn = p.date(disbursedOn)
	c.CommittedOn = p.date(committedOn)
	c.CreatedAt = p.time(createdAt)
	c.UpdatedAt = p.time(updatedAt)
	if p.err != nil {
		return c, fmt.Errorf("credit %s: %w", id, p.err)
	}
	return c, nil
}

func termColumns(t lending.Terms) (sql.NullString, sql.NullInt64) {
	if f, ok := t.(lending.FixedTerms); ok {
		return sql.NullString{String: string(f.Cadence), Valid: true}, sql.NullInt64{Int64: int64(f.Count), Valid: true}
	}
	return sql.NullString{}, sql.NullInt64{}
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

func (s *Store) CreateInstallments(ctx context.Context, installments []lending.Installment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(q querier) error { return createInstallments(ctx, q, installments) })
}

func (s *Store) GetInstallment(ctx context.Context, id lending.InstallmentID) (lending.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getInstallment(ctx, s.db, id)
}

func (s *Store) ListInstallments(ctx context.Context, creditID lending.CreditID) ([]lending.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listInstallments(ctx, s.db, creditID)
}

func (s *Store) UpdateInstallments(ctx context.Context, installments []lending.Installment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(q querier) error { return updateInstallments(ctx, q, installments) })
}

func (s *Store) DeleteInstallments(ctx context.Context, creditID lending.CreditID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteInstallments(ctx, s.db, creditID)
}

const installmentColumns = `id, credit_id, number, amount, due_date, rolls_json,
	discount, principal_paid, penalty, state, updated_at`

type rollRecord struct {
	On   string `json:"on"`
	From string `json:"from"`
	To   string `json:"to"`
}

func createInstallments(ctx context.Context, q querier, installments []lending.Installment) error {
	for _, inst := range installments {
		rolls, err := encodeRolls(inst.Rolls)
		if err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, `INSERT INTO installments (`+installmentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(inst.ID),
			string(inst.CreditID),
			inst.Number,
			inst.Amount.String(),
			inst.DueDate.String(),
			rolls,
			inst.Discount.String(),
			inst.PrincipalPaid.String(),
			inst.Penalty.String(),
			string(inst.State),
			formatTime(inst.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert installment %d: %w", inst.Number, err)
		}
	}
	return nil
}

func updateInstallments(ctx context.Context, q querier, installments []lending.Installment) error {
	for _, inst := range installments {
		rolls, err := encodeRolls(inst.Rolls)
		if err != nil {
			return err
		}
		res, err := q.ExecContext(ctx, `UPDATE installments SET
			amount = ?, due_date = ?, rolls_json = ?, discount = ?, principal_paid = ?,
			penalty = ?, state = ?, updated_at = ?
			WHERE id = ?`,
			inst.Amount.String(),
			inst.DueDate.String(),
			rolls,
			inst.Discount.String(),
			inst.PrincipalPaid.String(),
			inst.Penalty.String(),
			string(inst.State),
			formatTime(inst.UpdatedAt),
			string(inst.ID),
		)
		if err != nil {
			return fmt.Errorf("failed to update installment: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return lending.ErrInstallmentNotFound
		}
	}
	return nil
}

func deleteInstallments(ctx context.Context, q querier, creditID lending.CreditID) error {
	_, err := q.ExecContext(ctx, `DELETE FROM installments WHERE credit_id = ?`, string(creditID))
	if err != nil {
		return fmt.Errorf("failed to delete installments: %w", err)
	}
	return nil
}

func getInstallment(ctx context.Context, q querier, id lending.InstallmentID) (lending.Installment, error) {
	insts, err := queryInstallments(ctx, q, `SELECT `+installmentColumns+` FROM installments WHERE id = ?`, string(id))
	if err != nil {
		return lending.Installment{}, err
	}
	if len(insts) == 0 {
		return lending.Installment{}, lending.ErrInstallmentNotFound
	}
	return insts[0], nil
}

func listInstallments(ctx context.Context, q querier, creditID lending.CreditID) ([]lending.Installment, error) {
	return queryInstallments(ctx, q,
		`SELECT `+installmentColumns+` FROM installments WHERE credit_id = ? ORDER BY number ASC`,
		string(creditID))
}

func queryInstallments(ctx context.Context, q querier, query string, args ...any) ([]lending.Installment, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query installments: %w", err)
	}
	defer rows.Close()

	var insts []lending.Installment
	for rows.Next() {
		var (
			inst                                     lending.Installment
			id, creditID, state                      string
			amount, dueDate, discount, paid, penalty string
			rolls                                    sql.NullString
			updatedAt                                string
		)
		err := rows.Scan(&id, &creditID, &inst.Number, &amount, &dueDate, &rolls,
			&discount, &paid, &penalty, &state, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installment: %w", err)
		}

		inst.ID = lending.InstallmentID(id)
		inst.CreditID = lending.CreditID(creditID)
		inst.State = lending.InstallmentState(state)

		p := parser{}
		inst.Amount = p.decimal(amount)
		inst.DueDate = p.date(dueDate)
		inst.Discount = p.decimal(discount)
		inst.PrincipalPaid = p.decimal(paid)
		inst.Penalty = p.decimal(penalty)
		inst.UpdatedAt = p.time(updatedAt)
		inst.Rolls = p.rolls(rolls)
		if p.err != nil {
			return nil, fmt.Errorf("installment %s: %w", id, p.err)
		}
		insts = append(insts, inst)
	}
	return insts, rows.Err()
}

func encodeRolls(rolls []lending.DueDateRoll) (sql.NullString, error) {
	if len(rolls) == 0 {
		return sql.NullString{}, nil
	}
	records := make([]rollRecord, len(rolls))
	for i, r := range rolls {
		records[i] = rollRecord{On: r.On.String(), From: r.From.String(), To: r.To.String()}
	}
	b, err := json.Marshal(records)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode rolls: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// =============================================================================
// PAYMENTS (append-only)
// =============================================================================

// AppendPayments persists payments atomically. Rows written together may
// share an idempotency key; a key already stored is rejected.
func (s *Store) AppendPayments(ctx context.Context, payments []lending.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(q querier) error { return appendPayments(ctx, q, payments) })
}

func (s *Store) ListPayments(ctx context.Context, creditID lending.CreditID) ([]lending.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPayments(ctx, s.db, creditID)
}

func (s *Store) FindPaymentsByIdempotencyKey(ctx context.Context, key string) ([]lending.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findPaymentsByKey(ctx, s.db, key)
}

const paymentColumns = `id, credit_id, installment_id, receipt_id, kind, amount, paid_on, method, note,
	penalty, interest, principal, penalty_discount, interest_discount, principal_discount,
	cycles_json, idempotency_key, actor_role, created_at`

type cycleRecord struct {
	Cycle            int             `json:"cycle"`
	Penalty          decimal.Decimal `json:"penalty"`
	Interest         decimal.Decimal `json:"interest"`
	PenaltyDiscount  decimal.Decimal `json:"penalty_discount"`
	InterestDiscount decimal.Decimal `json:"interest_discount"`
}

func appendPayments(ctx context.Context, q querier, payments []lending.Payment) error {
	checked := make(map[string]bool)
	for _, p := range payments {
		if p.IdempotencyKey == "" || checked[p.IdempotencyKey] {
			continue
		}
		checked[p.IdempotencyKey] = true
		var count int
		err := q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM payments WHERE idempotency_key = ?`, p.IdempotencyKey).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check idempotency key: %w", err)
		}
		if count > 0 {
			return lending.ErrDuplicateIdempotencyKey
		}
	}

	for _, p := range payments {
		cycles, err := encodeCycles(p.Cycles)
		if err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, `INSERT INTO payments (`+paymentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(p.ID),
			string(p.CreditID),
			string(p.InstallmentID),
			string(p.ReceiptID),
			string(p.Kind),
			p.Amount.String(),
			p.PaidOn.String(),
			string(p.Method),
			nullString(p.Note),
			p.Penalty.String(),
			p.Interest.String(),
			p.Principal.String(),
			p.PenaltyDiscount.String(),
			p.InterestDiscount.String(),
			p.PrincipalDiscount.String(),
			cycles,
			nullString(p.IdempotencyKey),
			nullString(string(p.ActorRole)),
			formatTime(p.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to append payment: %w", err)
		}
	}
	return nil
}

func listPayments(ctx context.Context, q querier, creditID lending.CreditID) ([]lending.Payment, error) {
	return queryPayments(ctx, q,
		`SELECT `+paymentColumns+` FROM payments WHERE credit_id = ? ORDER BY paid_on ASC, seq ASC`,
		string(creditID))
}

func findPaymentsByKey(ctx context.Context, q querier, key string) ([]lending.Payment, error) {
	if key == "" {
		return nil, nil
	}
	return queryPayments(ctx, q,
		`SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = ? ORDER BY seq ASC`, key)
}

func queryPayments(ctx context.Context, q querier, query string, args ...any) ([]lending.Payment, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []lending.Payment
	for rows.Next() {
		var (
			pay                                      lending.Payment
			id, creditID, instID, receiptID, kind    string
			amount, paidOn, method                   string
			penalty, interest, principal             string
			penaltyDisc, interestDisc, principalDisc string
			note, cycles, key, role                  sql.NullString
			createdAt                                string
		)
		err := rows.Scan(&id, &creditID, &instID, &receiptID, &kind, &amount, &paidOn, &method, &note,
			&penalty, &interest, &principal, &penaltyDisc, &interestDisc, &principalDisc,
			&cycles, &key, &role, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}

		pay.ID = lending.PaymentID(id)
		pay.CreditID = lending.CreditID(creditID)
		pay.InstallmentID = lending.InstallmentID(instID)
		pay.ReceiptID = lending.ReceiptID(receiptID)
		pay.Kind = lending.PaymentKind(kind)
		pay.Method = lending.PaymentMethod(method)
		pay.Note = note.String
		pay.IdempotencyKey = key.String
		pay.ActorRole = lending.Role(role.String)

		p := parser{}
		pay.Amount = p.decimal(amount)
		pay.PaidOn = p.date(paidOn)
		pay.Penalty = p.decimal(penalty)
		pay.Interest = p.decimal(interest)
		pay.Principal = p.decimal(principal)
		pay.PenaltyDiscount = p.decimal(penaltyDisc)
		pay.InterestDiscount = p.decimal(interestDisc)
		pay.PrincipalDiscount = p.decimal(principalDisc)
		pay.CreatedAt = p.time(createdAt)
		pay.Cycles = p.cycles(cycles)
		if p.err != nil {
			return nil, fmt.Errorf("payment %s: %w", id, p.err)
		}
		payments = append(payments, pay)
	}
	return payments, rows.Err()
}

func encodeCycles(splits []lending.CycleSplit) (sql.NullString, error) {
	if len(splits) == 0 {
		return sql.NullString{}, nil
	}
	records := make([]cycleRecord, len(splits))
	for i, s := range splits {
		records[i] = cycleRecord(s)
	}
	b, err := json.Marshal(records)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode cycle splits: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// =============================================================================
// TRANSACTIONAL STORE (lending.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. The transaction takes
// the SQLite write lock at BEGIN.
func (s *Store) WithTx(ctx context.Context, fn func(store lending.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// inTx runs a multi-statement write atomically outside WithTx. Callers
// hold s.mu.
func (s *Store) inTx(ctx context.Context, fn func(q querier) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every call through one *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) CreateCredit(ctx context.Context, c lending.Credit) error {
	return createCredit(ctx, ts.tx, c)
}

func (ts *txStore) GetCredit(ctx context.Context, id lending.CreditID) (lending.Credit, error) {
	return getCredit(ctx, ts.tx, id)
}

func (ts *txStore) UpdateCredit(ctx context.Context, c lending.Credit) error {
	return updateCredit(ctx, ts.tx, c)
}

func (ts *txStore) ListCredits(ctx context.Context, filter lending.CreditFilter) ([]lending.Credit, error) {
	return listCredits(ctx, ts.tx, filter)
}

func (ts *txStore) CreateInstallments(ctx context.Context, installments []lending.Installment) error {
	return createInstallments(ctx, ts.tx, installments)
}

func (ts *txStore) GetInstallment(ctx context.Context, id lending.InstallmentID) (lending.Installment, error) {
	return getInstallment(ctx, ts.tx, id)
}

func (ts *txStore) ListInstallments(ctx context.Context, creditID lending.CreditID) ([]lending.Installment, error) {
	return listInstallments(ctx, ts.tx, creditID)
}

func (ts *txStore) UpdateInstallments(ctx context.Context, installments []lending.Installment) error {
	return updateInstallments(ctx, ts.tx, installments)
}

func (ts *txStore) DeleteInstallments(ctx context.Context, creditID lending.CreditID) error {
	return deleteInstallments(ctx, ts.tx, creditID)
}

func (ts *txStore) AppendPayments(ctx context.Context, payments []lending.Payment) error {
	return appendPayments(ctx, ts.tx, payments)
}

func (ts *txStore) ListPayments(ctx context.Context, creditID lending.CreditID) ([]lending.Payment, error) {
	return listPayments(ctx, ts.tx, creditID)
}

func (ts *txStore) FindPaymentsByIdempotencyKey(ctx context.Context, key string) ([]lending.Payment, error) {
	return findPaymentsByKey(ctx, ts.tx, key)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullCreditID(id *lending.CreditID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return nullString(string(*id))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parser decodes column text and keeps the first error.
type parser struct {
	err error
}

func (p *parser) decimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("bad decimal %q: %w", s, err)
	}
	return d
}

func (p *parser) date(s string) lending.Date {
	d, err := lending.ParseDate(s)
	if err != nil && p.err == nil {
		p.err = err
	}
	return d
}

func (p *parser) time(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t
}

func (p *parser) rolls(s sql.NullString) []lending.DueDateRoll {
	if !s.Valid || s.String == "" {
		return nil
	}
	var records []rollRecord
	if err := json.Unmarshal([]byte(s.String), &records); err != nil {
		if p.err == nil {
			p.err = fmt.Errorf("bad rolls: %w", err)
		}
		return nil
	}
	rolls := make([]lending.DueDateRoll, len(records))
	for i, r := range records {
		rolls[i] = lending.DueDateRoll{On: p.date(r.On), From: p.date(r.From), To: p.date(r.To)}
	}
	return rolls
}

func (p *parser) cycles(s sql.NullString) []lending.CycleSplit {
	if !s.Valid || s.String == "" {
		return nil
	}
	var records []cycleRecord
	if err := json.Unmarshal([]byte(s.String), &records); err != nil {
		if p.err == nil {
			p.err = fmt.Errorf("bad cycle splits: %w", err)
		}
		return nil
	}
	splits := make([]lending.CycleSplit, len(records))
	for i, r := range records {
		splits[i] = lending.CycleSplit(r)
	}
	return splits
}

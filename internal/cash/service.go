package cash

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ms-pos/internal/apperr"
	"ms-pos/internal/auth"
	"ms-pos/internal/logger"
	"ms-pos/internal/models"
	"ms-pos/internal/utils"
)

// Tx is the transactional surface for session mutation. The session row is
// the lock granularity: Open, Close and RecordMovement all read it under a
// write lock before deciding anything.
type Tx interface {
	FindOpenSessionForUpdate(ctx context.Context, tenantID string) (*models.CashSession, error)
	SessionForUpdate(ctx context.Context, tenantID, sessionID string) (*models.CashSession, error)
	NextSessionNumber(ctx context.Context, tenantID string, day time.Time) (int, error)
	InsertSession(ctx context.Context, s *models.CashSession) error
	CloseSession(ctx context.Context, s *models.CashSession) error
	InsertMovement(ctx context.Context, m *models.CashMovement) error
	PaymentMethod(ctx context.Context, tenantID, methodID string) (*models.PaymentMethod, error)
	SettledPaymentsTotal(ctx context.Context, tenantID string, from, to time.Time) (decimal.Decimal, error)
	MovementsTotal(ctx context.Context, tenantID, sessionID string, kind models.MovementKind) (decimal.Decimal, error)
}

type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Session(ctx context.Context, tenantID, sessionID string) (*models.CashSession, error)
	FindOpenSession(ctx context.Context, tenantID string) (*models.CashSession, error)
	SettledPaymentsTotal(ctx context.Context, tenantID string, from, to time.Time) (decimal.Decimal, error)
	MovementsTotal(ctx context.Context, tenantID, sessionID string, kind models.MovementKind) (decimal.Decimal, error)
	MethodBreakdown(ctx context.Context, tenantID, sessionID string, from, to time.Time) ([]models.MethodBreakdownRow, error)
	ModeBreakdown(ctx context.Context, tenantID string, from, to time.Time) ([]models.ModeBreakdownRow, error)
}

// Publisher receives session changes after the transaction commits.
type Publisher interface {
	SessionOpened(tenantID string, s *models.CashSession)
	SessionClosed(tenantID string, s *models.CashSession)
	MovementRecorded(tenantID string, m *models.CashMovement)
}

type CashService struct {
	Store     Store
	Publisher Publisher
	Logger    *logger.Logger

	// DefaultOpeningBalance is used when Open receives no balance.
	DefaultOpeningBalance decimal.Decimal
}

func NewCashService(store Store, publisher Publisher, log *logger.Logger, defaultOpening decimal.Decimal) *CashService {
	return &CashService{
		Store:                 store,
		Publisher:             publisher,
		Logger:                log,
		DefaultOpeningBalance: defaultOpening,
	}
}

// Open starts a cashier session. At most one session per tenant may be open;
// a second Open fails with Conflict. The session receives the next daily
// sequential number for the tenant.
func (s *CashService) Open(ctx context.Context, tenantID string, actor models.Actor, openingBalance *decimal.Decimal) (*models.CashSession, error) {
	if err := auth.Require(auth.OpCashOpen, actor); err != nil {
		return nil, err
	}

	balance := s.DefaultOpeningBalance
	if openingBalance != nil {
		if openingBalance.IsNegative() {
			return nil, apperr.Validation("opening balance cannot be negative")
		}
		balance = *openingBalance
	}

	session := &models.CashSession{
		ID:             utils.NewID(),
		TenantID:       tenantID,
		Status:         models.SessionOpen,
		OpeningBalance: balance,
		OpenedBy:       actor.ID,
		OpenedAt:       time.Now(),
	}

	err := s.Store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		existing, err := tx.FindOpenSessionForUpdate(ctx, tenantID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.Conflict(fmt.Sprintf("session %d is still open", existing.Number))
		}

		number, err := tx.NextSessionNumber(ctx, tenantID, session.OpenedAt)
		if err != nil {
			return err
		}
		session.Number = number
		return tx.InsertSession(ctx, session)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogCash("OPEN", session.ID, fmt.Sprintf("number=%d opening=%s", session.Number, session.OpeningBalance))
	s.Publisher.SessionOpened(tenantID, session)
	return session, nil
}

// RecordMovement appends a manual inflow or outflow to an open session.
func (s *CashService) RecordMovement(ctx context.Context, tenantID string, actor models.Actor, sessionID string, kind models.MovementKind, amount decimal.Decimal, methodID, note string) (*models.CashMovement, error) {
	if err := auth.Require(auth.OpCashMove, actor); err != nil {
		return nil, err
	}
	if kind != models.MovementInflow && kind != models.MovementOutflow {
		return nil, apperr.Validation("movement kind must be inflow or outflow")
	}
	if !amount.IsPositive() {
		return nil, apperr.Validation("movement amount must be positive")
	}

	movement := &models.CashMovement{
		ID:         utils.NewID(),
		TenantID:   tenantID,
		SessionID:  sessionID,
		Kind:       kind,
		Amount:     amount,
		OperatorID: actor.ID,
		Note:       note,
		CreatedAt:  time.Now(),
	}

	err := s.Store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		session, err := tx.SessionForUpdate(ctx, tenantID, sessionID)
		if err != nil {
			return err
		}
		if session.Status != models.SessionOpen {
			return apperr.Conflict("session is not open")
		}

		method, err := tx.PaymentMethod(ctx, tenantID, methodID)
		if err != nil {
			return err
		}
		movement.PaymentMethodID = method.ID
		return tx.InsertMovement(ctx, movement)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogCash("MOVEMENT", sessionID, fmt.Sprintf("%s %s", movement.Kind, movement.Amount))
	s.Publisher.MovementRecorded(tenantID, movement)
	return movement, nil
}

// ExpectedBalance recomputes the window-correct expected balance from the
// stored rows. It is a pure read so late-arriving payments are always
// reflected and recomputing is idempotent.
func (s *CashService) ExpectedBalance(ctx context.Context, tenantID, sessionID string) (decimal.Decimal, error) {
	session, err := s.Store.Session(ctx, tenantID, sessionID)
	if err != nil {
		return decimal.Zero, err
	}
	return s.expectedBalance(ctx, s.Store, tenantID, session)
}

// Close reconciles and closes a session: the expected balance is computed
// inside the closing transaction, the counted balance is recorded and the
// signed difference stored.
func (s *CashService) Close(ctx context.Context, tenantID string, actor models.Actor, sessionID string, countedBalance decimal.Decimal, note string) (*models.CashSession, error) {
	if err := auth.Require(auth.OpCashClose, actor); err != nil {
		return nil, err
	}
	if countedBalance.IsNegative() {
		return nil, apperr.Validation("counted balance cannot be negative")
	}

	var closed *models.CashSession
	err := s.Store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		session, err := tx.SessionForUpdate(ctx, tenantID, sessionID)
		if err != nil {
			return err
		}
		if session.Status == models.SessionClosed {
			return apperr.Conflict("session is already closed")
		}

		now := time.Now()
		session.ClosedAt = &now

		expected, err := s.expectedBalance(ctx, tx, tenantID, session)
		if err != nil {
			return err
		}

		session.Status = models.SessionClosed
		session.ClosedBy = actor.ID
		session.ClosingNote = note
		session.ExpectedBalance = decimal.NewNullDecimal(expected)
		session.CountedBalance = decimal.NewNullDecimal(countedBalance)
		session.Difference = decimal.NewNullDecimal(countedBalance.Sub(expected))

		if err := tx.CloseSession(ctx, session); err != nil {
			return err
		}
		closed = session
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogCash("CLOSE", sessionID, fmt.Sprintf("expected=%s counted=%s difference=%s",
		closed.ExpectedBalance.Decimal, closed.CountedBalance.Decimal, closed.Difference.Decimal))
	s.Publisher.SessionClosed(tenantID, closed)
	return closed, nil
}

// OpenSession returns the tenant's current open session, or nil.
func (s *CashService) OpenSession(ctx context.Context, tenantID string) (*models.CashSession, error) {
	return s.Store.FindOpenSession(ctx, tenantID)
}

// Reconciliation builds the close-time report: expected balance plus the
// per-method and per-delivery-mode breakdowns for the session window.
func (s *CashService) Reconciliation(ctx context.Context, tenantID string, actor models.Actor, sessionID string) (*models.Reconciliation, error) {
	if err := auth.Require(auth.OpCashReports, actor); err != nil {
		return nil, err
	}

	session, err := s.Store.Session(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}

	expected, err := s.expectedBalance(ctx, s.Store, tenantID, session)
	if err != nil {
		return nil, err
	}

	from, to := sessionWindow(session)
	methods, err := s.Store.MethodBreakdown(ctx, tenantID, sessionID, from, to)
	if err != nil {
		return nil, err
	}
	modes, err := s.Store.ModeBreakdown(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}

	return &models.Reconciliation{
		SessionID:       sessionID,
		ExpectedBalance: expected,
		CountedBalance:  session.CountedBalance,
		Difference:      session.Difference,
		Methods:         methods,
		Modes:           modes,
	}, nil
}

// aggregator lets expectedBalance run against either the read-only store or
// an open transaction; both satisfy it.
type aggregator interface {
	SettledPaymentsTotal(ctx context.Context, tenantID string, from, to time.Time) (decimal.Decimal, error)
	MovementsTotal(ctx context.Context, tenantID, sessionID string, kind models.MovementKind) (decimal.Decimal, error)
}

// expectedBalance = opening + settled payments in window + inflows - outflows.
func (s *CashService) expectedBalance(ctx context.Context, agg aggregator, tenantID string, session *models.CashSession) (decimal.Decimal, error) {
	from, to := sessionWindow(session)

	payments, err := agg.SettledPaymentsTotal(ctx, tenantID, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	inflows, err := agg.MovementsTotal(ctx, tenantID, session.ID, models.MovementInflow)
	if err != nil {
		return decimal.Zero, err
	}
	outflows, err := agg.MovementsTotal(ctx, tenantID, session.ID, models.MovementOutflow)
	if err != nil {
		return decimal.Zero, err
	}

	return session.OpeningBalance.Add(payments).Add(inflows).Sub(outflows), nil
}

// sessionWindow is open→close for a closed session, open→now otherwise.
func sessionWindow(session *models.CashSession) (time.Time, time.Time) {
	if session.ClosedAt != nil {
		return session.OpenedAt, *session.ClosedAt
	}
	return session.OpenedAt, time.Now()
}

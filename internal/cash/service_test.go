package cash_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-pos/internal/apperr"
	"ms-pos/internal/cash"
	"ms-pos/internal/logger"
	"ms-pos/internal/models"
)

// In-memory fakes implementing cash.Tx and cash.Store.

type fakeState struct {
	sessions     map[string]*models.CashSession
	movements    []models.CashMovement
	methods      map[string]*models.PaymentMethod
	settledTotal decimal.Decimal
	nextNumber   int
}

func newFakeState() *fakeState {
	return &fakeState{
		sessions:     make(map[string]*models.CashSession),
		methods:      make(map[string]*models.PaymentMethod),
		settledTotal: decimal.Zero,
		nextNumber:   1,
	}
}

type fakeStore struct {
	s *fakeState
}

func (st *fakeStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx cash.Tx) error) error {
	return fn(ctx, &txImpl{s: st.s})
}

func (st *fakeStore) Session(_ context.Context, tenantID, sessionID string) (*models.CashSession, error) {
	return getSession(st.s, tenantID, sessionID)
}

func (st *fakeStore) FindOpenSession(_ context.Context, tenantID string) (*models.CashSession, error) {
	return findOpen(st.s, tenantID), nil
}

func (st *fakeStore) SettledPaymentsTotal(_ context.Context, _ string, _, _ time.Time) (decimal.Decimal, error) {
	return st.s.settledTotal, nil
}

func (st *fakeStore) MovementsTotal(_ context.Context, _, sessionID string, kind models.MovementKind) (decimal.Decimal, error) {
	return movementsTotal(st.s, sessionID, kind), nil
}

func (st *fakeStore) MethodBreakdown(_ context.Context, _, sessionID string, _, _ time.Time) ([]models.MethodBreakdownRow, error) {
	byMethod := make(map[string]*models.MethodBreakdownRow)
	for _, m := range st.s.movements {
		if m.SessionID != sessionID {
			continue
		}
		row, ok := byMethod[m.PaymentMethodID]
		if !ok {
			row = &models.MethodBreakdownRow{PaymentMethodID: m.PaymentMethodID}
			byMethod[m.PaymentMethodID] = row
		}
		if m.Kind == models.MovementInflow {
			row.Inflows = row.Inflows.Add(m.Amount)
		} else {
			row.Outflows = row.Outflows.Add(m.Amount)
		}
	}
	var rows []models.MethodBreakdownRow
	for _, row := range byMethod {
		row.Net = row.Payments.Add(row.Inflows).Sub(row.Outflows)
		rows = append(rows, *row)
	}
	return rows, nil
}

func (st *fakeStore) ModeBreakdown(_ context.Context, _ string, _, _ time.Time) ([]models.ModeBreakdownRow, error) {
	return []models.ModeBreakdownRow{{Mode: models.DeliveryTable, Payments: st.s.settledTotal}}, nil
}

type txImpl struct {
	s *fakeState
}

func (t *txImpl) FindOpenSessionForUpdate(_ context.Context, tenantID string) (*models.CashSession, error) {
	return findOpen(t.s, tenantID), nil
}

func (t *txImpl) SessionForUpdate(_ context.Context, tenantID, sessionID string) (*models.CashSession, error) {
	return getSession(t.s, tenantID, sessionID)
}

func (t *txImpl) NextSessionNumber(_ context.Context, _ string, _ time.Time) (int, error) {
	return t.s.nextNumber, nil
}

func (t *txImpl) InsertSession(_ context.Context, s *models.CashSession) error {
	copied := *s
	t.s.sessions[s.ID] = &copied
	return nil
}

func (t *txImpl) CloseSession(_ context.Context, s *models.CashSession) error {
	copied := *s
	t.s.sessions[s.ID] = &copied
	return nil
}

func (t *txImpl) InsertMovement(_ context.Context, m *models.CashMovement) error {
	t.s.movements = append(t.s.movements, *m)
	return nil
}

func (t *txImpl) PaymentMethod(_ context.Context, tenantID, methodID string) (*models.PaymentMethod, error) {
	m, ok := t.s.methods[methodID]
	if !ok || m.TenantID != tenantID {
		return nil, apperr.NotFound("payment method " + methodID + " not found")
	}
	return m, nil
}

func (t *txImpl) SettledPaymentsTotal(_ context.Context, _ string, _, _ time.Time) (decimal.Decimal, error) {
	return t.s.settledTotal, nil
}

func (t *txImpl) MovementsTotal(_ context.Context, _, sessionID string, kind models.MovementKind) (decimal.Decimal, error) {
	return movementsTotal(t.s, sessionID, kind), nil
}

func getSession(s *fakeState, tenantID, sessionID string) (*models.CashSession, error) {
	session, ok := s.sessions[sessionID]
	if !ok || session.TenantID != tenantID {
		return nil, apperr.NotFound("cash session " + sessionID + " not found")
	}
	copied := *session
	return &copied, nil
}

func findOpen(s *fakeState, tenantID string) *models.CashSession {
	for _, session := range s.sessions {
		if session.TenantID == tenantID && session.Status == models.SessionOpen {
			copied := *session
			return &copied
		}
	}
	return nil
}

func movementsTotal(s *fakeState, sessionID string, kind models.MovementKind) decimal.Decimal {
	total := decimal.Zero
	for _, m := range s.movements {
		if m.SessionID == sessionID && m.Kind == kind {
			total = total.Add(m.Amount)
		}
	}
	return total
}

type fakePublisher struct {
	events []string
}

func (p *fakePublisher) SessionOpened(string, *models.CashSession) {
	p.events = append(p.events, "cash.session_opened")
}

func (p *fakePublisher) SessionClosed(string, *models.CashSession) {
	p.events = append(p.events, "cash.session_closed")
}

func (p *fakePublisher) MovementRecorded(string, *models.CashMovement) {
	p.events = append(p.events, "cash.movement_recorded")
}

var cashier = models.Actor{ID: "u-cashier", Name: "Cashier", Role: models.RoleCashier}

func setup() (*cash.CashService, *fakeState, *fakePublisher) {
	state := newFakeState()
	state.methods["cash"] = &models.PaymentMethod{ID: "cash", TenantID: "t1", Name: "Cash"}
	publisher := &fakePublisher{}
	service := cash.NewCashService(&fakeStore{s: state}, publisher, logger.NewTestLogger(), decimal.Zero)
	return service, state, publisher
}

func TestOpenSession(t *testing.T) {
	service, _, publisher := setup()
	ctx := context.Background()

	opening := decimal.RequireFromString("100.00")
	session, err := service.Open(ctx, "t1", cashier, &opening)
	require.NoError(t, err)

	assert.Equal(t, models.SessionOpen, session.Status)
	assert.Equal(t, 1, session.Number)
	assert.True(t, session.OpeningBalance.Equal(opening))
	assert.Equal(t, cashier.ID, session.OpenedBy)
	assert.Contains(t, publisher.events, "cash.session_opened")
}

func TestOpenUsesDefaultBalance(t *testing.T) {
	state := newFakeState()
	service := cash.NewCashService(&fakeStore{s: state}, &fakePublisher{}, logger.NewTestLogger(), decimal.RequireFromString("50.00"))

	session, err := service.Open(context.Background(), "t1", cashier, nil)
	require.NoError(t, err)
	assert.True(t, session.OpeningBalance.Equal(decimal.RequireFromString("50.00")))
}

func TestSecondOpenConflicts(t *testing.T) {
	service, _, _ := setup()
	ctx := context.Background()

	_, err := service.Open(ctx, "t1", cashier, nil)
	require.NoError(t, err)

	_, err = service.Open(ctx, "t1", cashier, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	// A different tenant is unaffected.
	_, err = service.Open(ctx, "t2", cashier, nil)
	require.NoError(t, err)
}

func TestNegativeOpeningBalance(t *testing.T) {
	service, _, _ := setup()

	negative := decimal.RequireFromString("-1.00")
	_, err := service.Open(context.Background(), "t1", cashier, &negative)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRecordMovement(t *testing.T) {
	service, _, publisher := setup()
	ctx := context.Background()

	session, err := service.Open(ctx, "t1", cashier, nil)
	require.NoError(t, err)

	movement, err := service.RecordMovement(ctx, "t1", cashier, session.ID, models.MovementOutflow, decimal.RequireFromString("20.00"), "cash", "bank drop")
	require.NoError(t, err)
	assert.Equal(t, models.MovementOutflow, movement.Kind)
	assert.Equal(t, cashier.ID, movement.OperatorID)
	assert.Contains(t, publisher.events, "cash.movement_recorded")
}

func TestMovementValidation(t *testing.T) {
	service, _, _ := setup()
	ctx := context.Background()

	session, err := service.Open(ctx, "t1", cashier, nil)
	require.NoError(t, err)

	_, err = service.RecordMovement(ctx, "t1", cashier, session.ID, "transfer", decimal.RequireFromString("5.00"), "cash", "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = service.RecordMovement(ctx, "t1", cashier, session.ID, models.MovementInflow, decimal.Zero, "cash", "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = service.RecordMovement(ctx, "t1", cashier, session.ID, models.MovementInflow, decimal.RequireFromString("5.00"), "unknown", "")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestMovementOnClosedSessionConflicts(t *testing.T) {
	service, _, _ := setup()
	ctx := context.Background()

	session, err := service.Open(ctx, "t1", cashier, nil)
	require.NoError(t, err)
	_, err = service.Close(ctx, "t1", cashier, session.ID, decimal.Zero, "")
	require.NoError(t, err)

	_, err = service.RecordMovement(ctx, "t1", cashier, session.ID, models.MovementInflow, decimal.RequireFromString("5.00"), "cash", "")
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestExpectedBalance(t *testing.T) {
	service, state, _ := setup()
	ctx := context.Background()

	opening := decimal.RequireFromString("100.00")
	session, err := service.Open(ctx, "t1", cashier, &opening)
	require.NoError(t, err)

	_, err = service.RecordMovement(ctx, "t1", cashier, session.ID, models.MovementInflow, decimal.RequireFromString("50.00"), "cash", "change fund")
	require.NoError(t, err)
	_, err = service.RecordMovement(ctx, "t1", cashier, session.ID, models.MovementOutflow, decimal.RequireFromString("20.00"), "cash", "bank drop")
	require.NoError(t, err)
	state.settledTotal = decimal.RequireFromString("22.50")

	expected, err := service.ExpectedBalance(ctx, "t1", session.ID)
	require.NoError(t, err)

	// 100 + 22.50 + 50 - 20
	assert.True(t, expected.Equal(decimal.RequireFromString("152.50")),
		"expected 152.50, got %s", expected)
}

func TestCloseRecordsDifference(t *testing.T) {
	service, state, publisher := setup()
	ctx := context.Background()

	opening := decimal.RequireFromString("100.00")
	session, err := service.Open(ctx, "t1", cashier, &opening)
	require.NoError(t, err)
	state.settledTotal = decimal.RequireFromString("52.50")

	closed, err := service.Close(ctx, "t1", cashier, session.ID, decimal.RequireFromString("150.00"), "drawer short")
	require.NoError(t, err)

	assert.Equal(t, models.SessionClosed, closed.Status)
	assert.True(t, closed.ExpectedBalance.Decimal.Equal(decimal.RequireFromString("152.50")))
	assert.True(t, closed.CountedBalance.Decimal.Equal(decimal.RequireFromString("150.00")))
	assert.True(t, closed.Difference.Decimal.Equal(decimal.RequireFromString("-2.50")),
		"expected difference -2.50, got %s", closed.Difference.Decimal)
	assert.Equal(t, cashier.ID, closed.ClosedBy)
	assert.NotNil(t, closed.ClosedAt)
	assert.Contains(t, publisher.events, "cash.session_closed")

	// Closing again conflicts.
	_, err = service.Close(ctx, "t1", cashier, session.ID, decimal.Zero, "")
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestReconciliation(t *testing.T) {
	service, state, _ := setup()
	ctx := context.Background()

	opening := decimal.RequireFromString("100.00")
	session, err := service.Open(ctx, "t1", cashier, &opening)
	require.NoError(t, err)

	_, err = service.RecordMovement(ctx, "t1", cashier, session.ID, models.MovementInflow, decimal.RequireFromString("50.00"), "cash", "")
	require.NoError(t, err)
	state.settledTotal = decimal.RequireFromString("22.50")

	report, err := service.Reconciliation(ctx, "t1", cashier, session.ID)
	require.NoError(t, err)

	assert.Equal(t, session.ID, report.SessionID)
	assert.True(t, report.ExpectedBalance.Equal(decimal.RequireFromString("172.50")))
	assert.Len(t, report.Methods, 1)
	assert.True(t, report.Methods[0].Inflows.Equal(decimal.RequireFromString("50.00")))
	assert.Len(t, report.Modes, 1)
}

package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"slasentinel/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- Mock Rows ---

type mockRows struct {
	scans  []func(dest ...any) error
	idx    int
	closed bool
	errVal error
}

func newMockRows(scans ...func(dest ...any) error) *mockRows {
	return &mockRows{scans: scans, idx: -1}
}

func (r *mockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.scans)
}

func (r *mockRows) Scan(dest ...any) error {
	return r.scans[r.idx](dest...)
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.errVal }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

// --- Fixtures ---

func newTestRule() *types.SLARule {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	return &types.SLARule{
		ID:                 "rule-1",
		Name:               "Express delivery",
		Description:        "High priority lanes",
		RuleType:           types.RuleDeliveryTime,
		Priority:           types.PriorityHigh,
		ThresholdMinutes:   120,
		GracePeriodMinutes: 30,
		Conditions:         &types.RuleConditions{Priority: "high"},
		Actions: types.ActionSet{
			EmailAlert: &types.EmailAction{Recipients: []string{"ops@example.com"}},
		},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// scanFnForRule fills dest slots in ruleColumns order.
func scanFnForRule(rule *types.SLARule) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = rule.ID
		*dest[1].(*string) = rule.Name
		if rule.Description != "" {
			desc := rule.Description
			*dest[2].(**string) = &desc
		} else {
			*dest[2].(**string) = nil
		}
		*dest[3].(*types.RuleType) = rule.RuleType
		*dest[4].(*types.RulePriority) = rule.Priority
		*dest[5].(*int) = rule.ThresholdMinutes
		*dest[6].(*int) = rule.GracePeriodMinutes
		*dest[7].(**types.RuleConditions) = rule.Conditions
		*dest[8].(*types.ActionSet) = rule.Actions
		*dest[9].(*bool) = rule.IsActive
		*dest[10].(*time.Time) = rule.CreatedAt
		*dest[11].(*time.Time) = rule.UpdatedAt
		return nil
	}
}

// --- Tests ---

func TestRuleRepository_Create_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Create(context.Background(), newTestRule())
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestRuleRepository_Create_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	err := repo.Create(context.Background(), newTestRule())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestRuleRepository_GetByID_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db)

	want := newTestRule()
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"rule-1"}).
		Return(&mockRow{scanFn: scanFnForRule(want)})

	got, err := repo.GetByID(context.Background(), "rule-1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Description, got.Description)
	assert.Equal(t, want.Actions.EmailAlert.Recipients, got.Actions.EmailAlert.Recipients)
}

func TestRuleRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByID(context.Background(), "missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundRule, appErr.Code)
}

func TestRuleRepository_Update_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.Update(context.Background(), newTestRule())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundRule, appErr.Code)
}

func TestRuleRepository_Delete_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), []any{"rule-1"}).
		Return(pgconn.NewCommandTag("DELETE 1"), nil)

	err := repo.Delete(context.Background(), "rule-1")
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestRuleRepository_List_AppliesFilters(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db)

	active := true
	var gotSQL string
	var gotArgs []any
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			gotSQL = args.String(1)
			gotArgs = args.Get(2).([]any)
		}).
		Return(newMockRows(scanFnForRule(newTestRule())), nil)

	rules, err := repo.List(context.Background(), ListRulesParams{
		RuleType: "delivery_time",
		IsActive: &active,
		Limit:    10,
		Offset:   20,
	})
	require.NoError(t, err)
	require.Len(t, rules, 1)

	assert.Contains(t, gotSQL, "r.rule_type = $1")
	assert.Contains(t, gotSQL, "r.is_active = $2")
	assert.Equal(t, []any{"delivery_time", true, 10, 20}, gotArgs)
}

func TestRuleRepository_List_DefaultLimit(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db)

	var gotArgs []any
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) { gotArgs = args.Get(2).([]any) }).
		Return(newMockRows(), nil)

	_, err := repo.List(context.Background(), ListRulesParams{})
	require.NoError(t, err)
	assert.Equal(t, []any{50, 0}, gotArgs)
}

func TestRuleRepository_ListActive_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows(scanFnForRule(newTestRule())), nil)

	rules, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.True(t, rules[0].IsActive)
}

func TestRuleRepository_ListActive_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRuleRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("timeout"))

	_, err := repo.ListActive(context.Background())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

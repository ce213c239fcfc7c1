package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"slasentinel/internal/types"
)

func newTestShipment() *types.Shipment {
	created := time.Date(2026, 8, 10, 8, 0, 0, 0, time.UTC)
	return &types.Shipment{
		ID:                 "ship-1",
		TrackingNumber:     "TRK-1001",
		Status:             types.ShipmentInTransit,
		Priority:           "high",
		Origin:             "Rotterdam",
		Destination:        "Hamburg",
		CustomerID:         "cust-7",
		CreatedAt:          created,
		ExpectedDeliveryAt: created.Add(48 * time.Hour),
	}
}

// scanFnForShipment fills dest slots in shipmentColumns order.
func scanFnForShipment(sh *types.Shipment) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = sh.ID
		*dest[1].(*string) = sh.TrackingNumber
		*dest[2].(*types.ShipmentStatus) = sh.Status
		*dest[3].(*string) = sh.Priority
		*dest[4].(*string) = sh.Origin
		*dest[5].(*string) = sh.Destination
		*dest[6].(*string) = sh.CustomerID
		*dest[7].(*time.Time) = sh.CreatedAt
		*dest[8].(**time.Time) = sh.PickedUpAt
		*dest[9].(*time.Time) = sh.ExpectedDeliveryAt
		*dest[10].(**time.Time) = sh.ActualDeliveryAt
		return nil
	}
}

func TestShipmentRepository_GetByID_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewShipmentRepository(db)

	want := newTestShipment()
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"ship-1"}).
		Return(&mockRow{scanFn: scanFnForShipment(want)})

	got, err := repo.GetByID(context.Background(), "ship-1")
	require.NoError(t, err)
	assert.Equal(t, want.TrackingNumber, got.TrackingNumber)
	assert.Nil(t, got.ActualDeliveryAt)
}

func TestShipmentRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewShipmentRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByID(context.Background(), "missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundShipment, appErr.Code)
}

func TestShipmentRepository_ListForQuery_BuildsPredicates(t *testing.T) {
	db := new(mockDBTX)
	repo := NewShipmentRepository(db)

	cutoff := time.Date(2026, 8, 12, 0, 0, 0, 0, time.UTC)
	var gotSQL string
	var gotArgs []any
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			gotSQL = args.String(1)
			gotArgs = args.Get(2).([]any)
		}).
		Return(newMockRows(scanFnForShipment(newTestShipment())), nil)

	shipments, err := repo.ListForQuery(context.Background(), types.ShipmentQuery{
		ExcludeStatuses:        []types.ShipmentStatus{types.ShipmentDelivered, types.ShipmentCancelled},
		ExpectedDeliveryBefore: &cutoff,
		Priority:               "high",
		OriginContains:         "rotter",
	})
	require.NoError(t, err)
	require.Len(t, shipments, 1)

	assert.Contains(t, gotSQL, "s.status NOT IN ($1, $2)")
	assert.Contains(t, gotSQL, "s.expected_delivery_at < $3")
	assert.Contains(t, gotSQL, "s.priority = $4")
	assert.Contains(t, gotSQL, "s.origin ILIKE '%' || $5 || '%'")
	assert.Equal(t, []any{
		types.ShipmentDelivered, types.ShipmentCancelled,
		cutoff, "high", "rotter",
	}, gotArgs)
}

func TestShipmentRepository_ListForQuery_StatusInclusion(t *testing.T) {
	db := new(mockDBTX)
	repo := NewShipmentRepository(db)

	var gotSQL string
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) { gotSQL = args.String(1) }).
		Return(newMockRows(), nil)

	_, err := repo.ListForQuery(context.Background(), types.ShipmentQuery{
		Statuses: []types.ShipmentStatus{types.ShipmentCreated, types.ShipmentPickedUp},
	})
	require.NoError(t, err)
	assert.Contains(t, gotSQL, "s.status IN ($1, $2)")
}

func TestShipmentRepository_ListForQuery_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewShipmentRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("broken pipe"))

	_, err := repo.ListForQuery(context.Background(), types.ShipmentQuery{})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

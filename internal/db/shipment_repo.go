package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"slasentinel/internal/types"
)

// ShipmentRepository is the read-only view over the shipments table. The
// engine never writes shipment rows; lifecycle transitions belong to the
// fulfillment system.
type ShipmentRepository struct {
	db DBTX
}

func NewShipmentRepository(db DBTX) *ShipmentRepository {
	return &ShipmentRepository{db: db}
}

const shipmentColumns = `s.id, s.tracking_number, s.status, s.priority,
	s.origin, s.destination, s.customer_id,
	s.created_at, s.picked_up_at, s.expected_delivery_at, s.actual_delivery_at`

func scanShipment(row pgx.Row) (*types.Shipment, error) {
	var sh types.Shipment
	err := row.Scan(
		&sh.ID,
		&sh.TrackingNumber,
		&sh.Status,
		&sh.Priority,
		&sh.Origin,
		&sh.Destination,
		&sh.CustomerID,
		&sh.CreatedAt,
		&sh.PickedUpAt,
		&sh.ExpectedDeliveryAt,
		&sh.ActualDeliveryAt,
	)
	if err != nil {
		return nil, err
	}
	return &sh, nil
}

// GetByID retrieves a shipment. Returns ErrCodeNotFoundShipment if absent.
func (r *ShipmentRepository) GetByID(ctx context.Context, id string) (*types.Shipment, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+shipmentColumns+` FROM shipments s WHERE s.id = $1`, id)

	sh, err := scanShipment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundShipment, "shipment not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve shipment", err)
	}
	return sh, nil
}

// ListForQuery executes a candidate-selection query, pushing every predicate
// down to SQL so a monitoring pass never loads terminal or out-of-scope rows.
// The origin condition is a case-insensitive substring match (ILIKE).
func (r *ShipmentRepository) ListForQuery(ctx context.Context, q types.ShipmentQuery) ([]types.Shipment, error) {
	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if len(q.ExcludeStatuses) > 0 {
		placeholders := make([]string, len(q.ExcludeStatuses))
		for i, s := range q.ExcludeStatuses {
			placeholders[i] = fmt.Sprintf("$%d", argIdx)
			args = append(args, s)
			argIdx++
		}
		conditions = append(conditions, fmt.Sprintf("s.status NOT IN (%s)", strings.Join(placeholders, ", ")))
	}

	if len(q.Statuses) > 0 {
		placeholders := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			placeholders[i] = fmt.Sprintf("$%d", argIdx)
			args = append(args, s)
			argIdx++
		}
		conditions = append(conditions, fmt.Sprintf("s.status IN (%s)", strings.Join(placeholders, ", ")))
	}

	if q.ExpectedDeliveryBefore != nil {
		conditions = append(conditions, fmt.Sprintf("s.expected_delivery_at < $%d", argIdx))
		args = append(args, *q.ExpectedDeliveryBefore)
		argIdx++
	}

	if q.Priority != "" {
		conditions = append(conditions, fmt.Sprintf("s.priority = $%d", argIdx))
		args = append(args, q.Priority)
		argIdx++
	}

	if q.OriginContains != "" {
		conditions = append(conditions, fmt.Sprintf("s.origin ILIKE '%%' || $%d || '%%'", argIdx))
		args = append(args, q.OriginContains)
		argIdx++
	}

	query := fmt.Sprintf(
		`SELECT %s FROM shipments s WHERE %s ORDER BY s.created_at`,
		shipmentColumns, strings.Join(conditions, " AND "),
	)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list candidate shipments", err)
	}
	defer rows.Close()

	var results []types.Shipment
	for rows.Next() {
		sh, scanErr := scanShipment(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan shipment row", scanErr)
		}
		results = append(results, *sh)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating shipment rows", err)
	}
	return results, nil
}

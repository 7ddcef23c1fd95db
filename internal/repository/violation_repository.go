package repository

import (
	"context"
	"encoding/json"

	"github.com/examhall/examhall-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ViolationRepository handles anti-cheat log data access. Rows are
// append-only; there are no update or delete paths.
type ViolationRepository struct {
	pool *pgxpool.Pool
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{pool: pool}
}

// Append inserts a violation record.
func (r *ViolationRepository) Append(ctx context.Context, v *model.Violation) error {
	details := v.Details
	if details == nil {
		details = map[string]any{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO anti_cheat_logs (session_id, violation_type, details, escalating)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		v.SessionID, v.Type, raw, v.Escalating,
	).Scan(&v.ID, &v.CreatedAt)
}

// Counts returns the total and escalating violation counts for a session.
func (r *ViolationRepository) Counts(ctx context.Context, sessionID uuid.UUID) (total, escalating int64, err error) {
	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE escalating)
		 FROM anti_cheat_logs WHERE session_id = $1`, sessionID,
	).Scan(&total, &escalating)
	return total, escalating, err
}

// ListBySession retrieves all violations for a session, oldest first.
func (r *ViolationRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.Violation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, violation_type, details, escalating, created_at
		 FROM anti_cheat_logs WHERE session_id = $1
		 ORDER BY created_at, id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var violations []model.Violation
	for rows.Next() {
		var v model.Violation
		var details []byte
		if err := rows.Scan(&v.ID, &v.SessionID, &v.Type, &details, &v.Escalating, &v.CreatedAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &v.Details); err != nil {
				return nil, err
			}
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mediscout/internal/domain/appointment"
)

// SQLSeenRepository stores the (clinic, doctor, date) triples already notified on.
type SQLSeenRepository struct {
	db *sql.DB
}

func NewSQLSeenRepository(db *sql.DB) *SQLSeenRepository {
	return &SQLSeenRepository{db: db}
}

func (r *SQLSeenRepository) HasSeen(ctx context.Context, key appointment.SeenKey) (bool, error) {
	query := `SELECT 1 FROM appointment WHERE clinic = $1 AND doctor = $2 AND date = $3`
	var one int
	err := r.db.QueryRowContext(ctx, query, key.ClinicID, key.DoctorID, key.FormattedDate()).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("%w: error checking seen appointment: %w", ErrStore, err)
	}
	return true, nil
}

func (r *SQLSeenRepository) MarkSeen(ctx context.Context, key appointment.SeenKey) error {
	query := `INSERT INTO appointment (clinic, doctor, date) VALUES ($1, $2, $3)
               ON CONFLICT DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, key.ClinicID, key.DoctorID, key.FormattedDate()); err != nil {
		return fmt.Errorf("%w: error marking appointment seen: %w", ErrStore, err)
	}
	return nil
}

// DeleteBefore evicts markers for appointments dated strictly before now.
func (r *SQLSeenRepository) DeleteBefore(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM appointment WHERE date < $1`, now.Local().Format(appointment.SeenDateLayout))
	if err != nil {
		return 0, fmt.Errorf("%w: error deleting past appointments: %w", ErrStore, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

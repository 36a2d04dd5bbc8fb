package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mediscout/internal/domain/appointment"
)

// Custom errors specific to the ledger
var ErrStore = errors.New("ledger store failure")
var ErrWatchNotFound = fmt.Errorf("watch not found")

type SQLWatchRepository struct {
	db *sql.DB
}

func NewSQLWatchRepository(db *sql.DB) *SQLWatchRepository {
	return &SQLWatchRepository{db: db}
}

func (r *SQLWatchRepository) Add(ctx context.Context, criteria appointment.SearchCriteria) (int64, error) {
	query := `INSERT INTO watch (region, specialty, clinic, doctor, date)
               VALUES ($1, $2, $3, $4, $5)
               RETURNING id`
	var id int64
	err := r.db.QueryRowContext(ctx, query,
		criteria.RegionID,
		appointment.JoinIDs(criteria.SpecialtyIDs),
		nullableID(criteria.ClinicID),
		nullableID(criteria.DoctorID),
		criteria.StartDate.Format(appointment.WatchDateLayout),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: error adding watch: %w", ErrStore, err)
	}
	return id, nil
}

func (r *SQLWatchRepository) Remove(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM watch WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: error removing watch %d: %w", ErrStore, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: error checking removed watch %d: %w", ErrStore, id, err)
	}
	if n == 0 {
		return ErrWatchNotFound
	}
	return nil
}

func (r *SQLWatchRepository) List(ctx context.Context) ([]appointment.Watch, error) {
	query := `SELECT id, region, specialty, clinic, doctor, date FROM watch ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: error listing watches: %w", ErrStore, err)
	}
	defer rows.Close()

	var watches []appointment.Watch
	for rows.Next() {
		var (
			w         appointment.Watch
			specialty string
			clinic    sql.NullInt64
			doctor    sql.NullInt64
			date      string
		)
		if err := rows.Scan(&w.ID, &w.Criteria.RegionID, &specialty, &clinic, &doctor, &date); err != nil {
			return nil, fmt.Errorf("%w: error scanning watch row: %w", ErrStore, err)
		}
		w.Criteria.SpecialtyIDs, err = appointment.SplitIDs(specialty)
		if err != nil {
			return nil, fmt.Errorf("%w: watch %d has corrupt specialty list: %w", ErrStore, w.ID, err)
		}
		w.Criteria.ClinicID = clinic.Int64
		w.Criteria.DoctorID = doctor.Int64
		w.Criteria.StartDate, err = time.ParseInLocation(appointment.WatchDateLayout, date, time.Local)
		if err != nil {
			return nil, fmt.Errorf("%w: watch %d has corrupt date %q: %w", ErrStore, w.ID, date, err)
		}
		watches = append(watches, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating watch rows: %w", ErrStore, err)
	}
	return watches, nil
}

// DeleteStartedBefore removes watches whose start date is before cutoff (day granularity).
func (r *SQLWatchRepository) DeleteStartedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM watch WHERE date < $1`, cutoff.Local().Format(appointment.WatchDateLayout))
	if err != nil {
		return 0, fmt.Errorf("%w: error deleting expired watches: %w", ErrStore, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func nullableID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// WatchRetention is how long past its start date a watch survives housekeeping.
const WatchRetention = 14 * 24 * time.Hour

// Ledger is the durable store: watches plus the seen-appointment history.
type Ledger struct {
	*SQLWatchRepository
	*SQLSeenRepository

	db      *sql.DB
	dialect Dialect
	now     func() time.Time
	logger  *logrus.Entry
}

// LedgerOption customises OpenLedger.
type LedgerOption func(*Ledger)

// WithClock replaces time.Now, used for housekeeping.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the entry used for housekeeping reports.
func WithLogger(logger *logrus.Entry) LedgerOption {
	return func(l *Ledger) { l.logger = logger }
}

// OpenLedger opens or creates the store at dsn, ensures the schema exists and
// runs housekeeping once.
func OpenLedger(ctx context.Context, dsn string, opts ...LedgerOption) (*Ledger, error) {
	db, dialect, err := NewConnection(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}

	l := &Ledger{
		SQLWatchRepository: NewSQLWatchRepository(db),
		SQLSeenRepository:  NewSQLSeenRepository(db),
		db:                 db,
		dialect:            dialect,
		now:                time.Now,
		logger:             logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := RunMigrations(db, dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}

	if err := l.Housekeeping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return l, nil
}

// Housekeeping drops seen markers for past appointments and watches that
// started more than WatchRetention ago.
func (l *Ledger) Housekeeping(ctx context.Context) error {
	now := l.now()

	slots, err := l.DeleteBefore(ctx, now)
	if err != nil {
		return err
	}
	watches, err := l.DeleteStartedBefore(ctx, now.Add(-WatchRetention))
	if err != nil {
		return err
	}

	l.logger.WithFields(logrus.Fields{
		"dialect":         l.dialect,
		"evicted_slots":   slots,
		"expired_watches": watches,
	}).Debug("Ledger housekeeping done")
	return nil
}

// Dialect reports the backend in use.
func (l *Ledger) Dialect() Dialect {
	return l.dialect
}

// Close closes the underlying connection pool.
func (l *Ledger) Close() error {
	return l.db.Close()
}

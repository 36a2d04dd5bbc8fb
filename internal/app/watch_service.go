// internal/app/watch_service.go
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"mediscout/internal/domain/appointment"
	"mediscout/internal/domain/notification"
)

const notAvailable = "N/A"

// AppointmentSearcher is the API surface the service needs.
type AppointmentSearcher interface {
	Search(ctx context.Context, criteria appointment.SearchCriteria) ([]appointment.Appointment, error)
	ListFilters(ctx context.Context, regionID, specialtyID int64) (appointment.Filters, error)
}

// WatchService implements the one-shot commands and the per-watch poll used by the scheduler.
type WatchService struct {
	searcher AppointmentSearcher
	watches  appointment.WatchRepository
	seen     appointment.SeenRepository
	notifier notification.Notifier
	logger   *logrus.Entry
}

func NewWatchService(
	searcher AppointmentSearcher,
	watches appointment.WatchRepository,
	seen appointment.SeenRepository,
	notifier notification.Notifier,
	logger *logrus.Entry,
) *WatchService {
	return &WatchService{
		searcher: searcher,
		watches:  watches,
		seen:     seen,
		notifier: notifier,
		logger:   logger,
	}
}

// FindOnce searches once, drops already seen slots (marking the rest seen) and
// optionally notifies about what is left.
func (s *WatchService) FindOnce(ctx context.Context, criteria appointment.SearchCriteria, notify bool, title string) ([]appointment.Appointment, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}

	found, err := s.searcher.Search(ctx, criteria)
	if err != nil {
		return nil, fmt.Errorf("search appointments: %w", err)
	}

	fresh, err := s.FilterUnseen(ctx, found)
	if err != nil {
		return nil, err
	}

	if notify && len(fresh) > 0 {
		if title == "" {
			title = fresh[0].SpecialtyName
		}
		s.notify(ctx, fresh, title)
	}
	return fresh, nil
}

// PollWatch runs one watch: search, dedup, notify. Store failures are returned
// unchanged so the caller can stop; API failures are returned wrapped.
func (s *WatchService) PollWatch(ctx context.Context, w appointment.Watch) error {
	log := s.logger.WithField("watch_id", w.ID)
	log.Info("Running watch")

	found, err := s.searcher.Search(ctx, w.Criteria)
	if err != nil {
		return fmt.Errorf("search for watch %d: %w", w.ID, err)
	}

	fresh, err := s.FilterUnseen(ctx, found)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{"found": len(found), "new": len(fresh)}).Info("Watch finished")
	if len(fresh) == 0 {
		return nil
	}

	s.notify(ctx, fresh, specialtyName(fresh[0]))
	return nil
}

// FilterUnseen keeps the appointments not notified on before and marks them seen.
func (s *WatchService) FilterUnseen(ctx context.Context, found []appointment.Appointment) ([]appointment.Appointment, error) {
	var fresh []appointment.Appointment
	for _, a := range found {
		key := a.SeenKey()
		seen, err := s.seen.HasSeen(ctx, key)
		if err != nil {
			return nil, err
		}
		if seen {
			continue
		}
		if err := s.seen.MarkSeen(ctx, key); err != nil {
			return nil, err
		}
		fresh = append(fresh, a)
	}
	return fresh, nil
}

// ListWatches returns every stored watch.
func (s *WatchService) ListWatches(ctx context.Context) ([]appointment.Watch, error) {
	return s.watches.List(ctx)
}

func (s *WatchService) AddWatch(ctx context.Context, criteria appointment.SearchCriteria) (int64, error) {
	if err := criteria.Validate(); err != nil {
		return 0, err
	}
	id, err := s.watches.Add(ctx, criteria)
	if err != nil {
		return 0, err
	}
	s.logger.WithField("watch_id", id).Info("Watch added")
	return id, nil
}

func (s *WatchService) RemoveWatch(ctx context.Context, id int64) error {
	if err := s.watches.Remove(ctx, id); err != nil {
		return err
	}
	s.logger.WithField("watch_id", id).Info("Watch removed")
	return nil
}

func (s *WatchService) ListFilters(ctx context.Context, regionID, specialtyID int64) (appointment.Filters, error) {
	return s.searcher.ListFilters(ctx, regionID, specialtyID)
}

// WatchDescription is a watch with region and specialty names resolved.
type WatchDescription struct {
	Watch       appointment.Watch
	RegionName  string
	Specialties []string
}

// DescribeWatches lists watches with display names. Names stay empty when the
// filter metadata cannot be fetched.
func (s *WatchService) DescribeWatches(ctx context.Context) ([]WatchDescription, error) {
	watches, err := s.watches.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(watches) == 0 {
		return nil, nil
	}

	filters, err := s.searcher.ListFilters(ctx, 0, 0)
	if err != nil {
		s.logger.WithError(err).Warn("Could not fetch filters, listing watches without names")
		filters = appointment.Filters{}
	}

	out := make([]WatchDescription, 0, len(watches))
	for _, w := range watches {
		d := WatchDescription{
			Watch:      w,
			RegionName: appointment.Lookup(filters.Regions, strconv.FormatInt(w.Criteria.RegionID, 10)),
		}
		for _, id := range w.Criteria.SpecialtyIDs {
			d.Specialties = append(d.Specialties, appointment.Lookup(filters.Specialties, strconv.FormatInt(id, 10)))
		}
		out = append(out, d)
	}
	return out, nil
}

// notify hands appointments to the notifier. Failures are logged only.
func (s *WatchService) notify(ctx context.Context, appointments []appointment.Appointment, title string) {
	if err := s.notifier.Send(ctx, FormatAppointments(appointments), title); err != nil {
		s.logger.WithError(err).WithField("title", title).Error("Notification failed")
		return
	}
	s.logger.WithFields(logrus.Fields{"title": title, "count": len(appointments)}).Info("Notification sent")
}

// FormatAppointments renders appointments as the multi-line notification text.
func FormatAppointments(appointments []appointment.Appointment) string {
	if len(appointments) == 0 {
		return "No appointments found."
	}

	separator := strings.Repeat("-", 50)
	var b strings.Builder
	for i, a := range appointments {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Date: %s\nClinic: %s\nDoctor: %s\nSpecialty: %s\n%s",
			a.Date.Format("2006-01-02 15:04"),
			orNA(a.ClinicName),
			orNA(a.DoctorName),
			orNA(a.SpecialtyName),
			separator,
		)
	}
	return b.String()
}

func specialtyName(a appointment.Appointment) string {
	return orNA(a.SpecialtyName)
}

func orNA(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}

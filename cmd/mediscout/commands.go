package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"mediscout/internal/domain/appointment"
	"mediscout/internal/infra/console"
	"mediscout/internal/infra/logger"
	"mediscout/internal/infra/scheduler"
)

const notifyTelegram = "telegram"

// criteriaFlags are the search flags shared by find-appointment and add-watch.
type criteriaFlags struct {
	region      int64
	specialties []int64
	clinic      int64
	doctor      int64
	date        string
}

func (f *criteriaFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64VarP(&f.region, "region", "r", 0, "Region ID")
	cmd.Flags().Int64SliceVarP(&f.specialties, "specialty", "s", nil, "Specialty ID (repeatable or comma separated)")
	cmd.Flags().Int64VarP(&f.clinic, "clinic", "c", 0, "Clinic ID")
	cmd.Flags().Int64VarP(&f.doctor, "doctor", "d", 0, "Doctor ID")
	cmd.Flags().StringVarP(&f.date, "date", "f", "", "Start date in YYYY-MM-DD format (default today)")
	_ = cmd.MarkFlagRequired("region")
	_ = cmd.MarkFlagRequired("specialty")
}

func (f *criteriaFlags) criteria(now time.Time) (appointment.SearchCriteria, error) {
	start, err := parseStartDate(f.date, now)
	if err != nil {
		return appointment.SearchCriteria{}, err
	}
	c := appointment.SearchCriteria{
		RegionID:     f.region,
		SpecialtyIDs: f.specialties,
		ClinicID:     f.clinic,
		DoctorID:     f.doctor,
		StartDate:    start,
	}
	return c, c.Validate()
}

// parseStartDate reads a YYYY-MM-DD date in local time; empty means today.
func parseStartDate(s string, now time.Time) (time.Time, error) {
	if s == "" {
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.Local), nil
	}
	t, err := time.ParseInLocation(appointment.WatchDateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", s, err)
	}
	return t, nil
}

// newPrinter colours output only when it goes to a terminal.
func newPrinter(cmd *cobra.Command) *console.Printer {
	out := cmd.OutOrStdout()
	return console.NewPrinter(out, isTerminal(out))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func newFindAppointmentCmd() *cobra.Command {
	var (
		flags        criteriaFlags
		notification string
		title        string
	)
	cmd := &cobra.Command{
		Use:   "find-appointment",
		Short: "Search once and print slots not reported before",
		RunE: func(cmd *cobra.Command, _ []string) error {
			criteria, err := flags.criteria(time.Now())
			if err != nil {
				return err
			}
			if notification != "" && notification != notifyTelegram {
				return fmt.Errorf("unknown notification method %q, only %q is supported", notification, notifyTelegram)
			}

			rt, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()
			if err := rt.requireIdentity(); err != nil {
				return err
			}
			if notification == notifyTelegram && !rt.cfg.TelegramEnabled() {
				return fmt.Errorf("telegram notification requested but NOTIFIERS_TELEGRAM_TOKEN or NOTIFIERS_TELEGRAM_CHAT_ID is not set")
			}

			found, err := rt.service.FindOnce(cmd.Context(), criteria, notification != "", title)
			if err != nil {
				return err
			}
			newPrinter(cmd).Appointments(found)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&notification, "notification", "n", "", "Notification method (telegram)")
	cmd.Flags().StringVarP(&title, "title", "t", "", "Notification title (default: specialty name)")
	return cmd
}

func newAddWatchCmd() *cobra.Command {
	var flags criteriaFlags
	cmd := &cobra.Command{
		Use:   "add-watch",
		Short: "Store a search to be polled by start",
		RunE: func(cmd *cobra.Command, _ []string) error {
			criteria, err := flags.criteria(time.Now())
			if err != nil {
				return err
			}
			rt, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			id, err := rt.service.AddWatch(cmd.Context(), criteria)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Watch %d added.\n", id)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newRemoveWatchCmd() *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   "remove-watch",
		Short: "Delete a stored watch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			if err := rt.service.RemoveWatch(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Watch %d removed.\n", id)
			return nil
		},
	}
	cmd.Flags().Int64VarP(&id, "id", "i", 0, "Watch ID")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newListWatchesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-watches",
		Short: "Print stored watches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			watches, err := rt.service.DescribeWatches(cmd.Context())
			if err != nil {
				return err
			}
			newPrinter(cmd).Watches(watches)
			return nil
		},
	}
}

func newListFiltersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list-filters",
		Short: "Print region, specialty, doctor or clinic ids",
	}

	simple := func(use, short string, pick func(appointment.Filters) []appointment.FilterOption) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return printFilters(cmd, 0, 0, pick)
			},
		}
	}
	cmd.AddCommand(
		simple("regions", "List available regions", func(f appointment.Filters) []appointment.FilterOption { return f.Regions }),
		simple("specialties", "List available specialties", func(f appointment.Filters) []appointment.FilterOption { return f.Specialties }),
	)

	narrowed := func(use, short string, pick func(appointment.Filters) []appointment.FilterOption) *cobra.Command {
		var region, specialty int64
		c := &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return printFilters(cmd, region, specialty, pick)
			},
		}
		c.Flags().Int64VarP(&region, "region", "r", 0, "Region ID")
		c.Flags().Int64VarP(&specialty, "specialty", "s", 0, "Specialty ID")
		_ = c.MarkFlagRequired("region")
		_ = c.MarkFlagRequired("specialty")
		return c
	}
	cmd.AddCommand(
		narrowed("doctors", "List available doctors", func(f appointment.Filters) []appointment.FilterOption { return f.Doctors }),
		narrowed("clinics", "List available clinics", func(f appointment.Filters) []appointment.FilterOption { return f.Clinics }),
	)
	return cmd
}

func printFilters(cmd *cobra.Command, region, specialty int64, pick func(appointment.Filters) []appointment.FilterOption) error {
	rt, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()
	if err := rt.requireIdentity(); err != nil {
		return err
	}

	filters, err := rt.service.ListFilters(cmd.Context(), region, specialty)
	if err != nil {
		return err
	}
	newPrinter(cmd).Filters(pick(filters))
	return nil
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Poll every stored watch until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close()
			if err := rt.requireIdentity(); err != nil {
				return err
			}

			schedule, err := scheduler.Schedule(rt.cfg.PollCron, rt.cfg.PollInterval())
			if err != nil {
				return err
			}
			log := logger.Component("main")
			log.WithField("poll_cron", rt.cfg.PollCron).WithField("refresh_time_s", rt.cfg.RefreshTimeSeconds).Info("Watch mode started, press Ctrl+C to stop")

			s := scheduler.NewWatchScheduler(rt.service, schedule, logger.Component("scheduler"))
			if err := s.Run(ctx); err != nil {
				return err
			}
			log.Info("Application shut down gracefully.")
			return nil
		},
	}
}

package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/availability"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/config"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/lib/logger"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/lock"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/metrics"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/notify"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/service"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/sweeper"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

func newWaitlistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "waitlist",
		Short: "Inspect and maintain the waitlist offline",
	}
	cmd.AddCommand(newWaitlistListCmd(), newWaitlistSweepCmd())
	return cmd
}

func newWaitlistListCmd() *cobra.Command {
	var date, timeSlot, section string

	c := &cobra.Command{
		Use:   "list",
		Short: "Show QUEUED and NOTIFIED parties of a slot in FIFO order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			ctx := context.Background()
			b, err := openBackend(ctx, logger.New(cfg.Env, cfg.LogLevel), cfg, false)
			if err != nil {
				return err
			}
			defer b.Close()

			key := waitlist.NewSlotKey(date, timeSlot, section)
			if err := key.Validate(); err != nil {
				return err
			}
			entries, err := b.entries.ListActive(ctx, key)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPARTY\tGUESTS\tSTATUS\tJOINED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", e.ID, e.PartyName, e.Guests, e.Status, e.CreatedAt.Local().Format(time.Kitchen))
			}
			return tw.Flush()
		},
	}

	c.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD)")
	c.Flags().StringVar(&timeSlot, "time-slot", "", "time slot (HH:MM)")
	c.Flags().StringVar(&section, "section", waitlist.DefaultSection, "section")
	_ = c.MarkFlagRequired("date")
	_ = c.MarkFlagRequired("time-slot")
	return c
}

func newWaitlistSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue notifications and purge old terminal entries once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			log := logger.New(cfg.Env, cfg.LogLevel)
			ctx := context.Background()
			b, err := openBackend(ctx, log, cfg, false)
			if err != nil {
				return err
			}
			defer b.Close()

			m := metrics.New()
			bus := notify.New(log, m, notify.Options{Buffer: cfg.SubscriberBuffer})
			defer bus.Close()
			svc := service.New(log, b.entries, availability.New(b.capacity), lock.NewKeyedMutex(), bus, m,
				service.Options{NotifyExpiry: cfg.NotifyExpiry})
			defer svc.Close()

			sw := &sweeper.Sweeper{Log: log, Service: svc, Interval: cfg.SweepInterval, Retention: cfg.Retention}
			expired, purged := sw.Sweep(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "expired=%d purged=%d\n", expired, purged)
			return nil
		},
	}
}

package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/availability"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/config"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/lib/logger"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/waitlist"
)

func newCapacityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capacity",
		Short: "Configure and inspect seat capacity per slot",
	}
	cmd.AddCommand(newCapacitySetCmd(), newCapacityShowCmd())
	return cmd
}

func newCapacitySetCmd() *cobra.Command {
	var date, timeSlot, section string
	var total int

	c := &cobra.Command{
		Use:   "set",
		Short: "Set total seats for a date, time slot and section",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			ctx := context.Background()
			b, err := openBackend(ctx, logger.New(cfg.Env, cfg.LogLevel), cfg, true)
			if err != nil {
				return err
			}
			defer b.Close()

			slot, err := availability.New(b.capacity).Configure(ctx, waitlist.NewSlotKey(date, timeSlot, section), total)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: total=%d reserved=%d free=%d\n",
				slot.Key, slot.TotalSeats, slot.ReservedSeats, slot.FreeSeats())
			return nil
		},
	}

	c.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD)")
	c.Flags().StringVar(&timeSlot, "time-slot", "", "time slot (HH:MM)")
	c.Flags().StringVar(&section, "section", waitlist.DefaultSection, "section")
	c.Flags().IntVar(&total, "total", 0, "total seats")
	_ = c.MarkFlagRequired("date")
	_ = c.MarkFlagRequired("time-slot")
	_ = c.MarkFlagRequired("total")
	return c
}

func newCapacityShowCmd() *cobra.Command {
	var date string

	c := &cobra.Command{
		Use:   "show",
		Short: "List every configured slot of a date",
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

			slots, err := availability.New(b.capacity).List(ctx, date)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tSECTION\tTOTAL\tRESERVED\tFREE")
			for _, s := range slots {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", s.Key.TimeSlot, s.Key.Section, s.TotalSeats, s.ReservedSeats, s.FreeSeats())
			}
			return tw.Flush()
		},
	}

	c.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD)")
	_ = c.MarkFlagRequired("date")
	return c
}

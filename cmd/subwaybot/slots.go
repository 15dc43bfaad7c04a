package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"subwaybot/internal/metro"
)

func newSlotsCmd() *cobra.Command {
	var (
		start, end string
		step       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List the timeSlot codes accepted in the config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			slots, err := metro.TimeSlots(start, end, step)
			if err != nil {
				return err
			}
			for _, s := range slots {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", s.Code, s.Label())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "06:30", "first slot start (HH:MM)")
	cmd.Flags().StringVar(&end, "end", "09:30", "last slot end (HH:MM)")
	cmd.Flags().DurationVar(&step, "step", 10*time.Minute, "slot width")
	return cmd
}

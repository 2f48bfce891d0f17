package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/beautycita/geotrack/internal/model"
)

var trackBookingID string

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Run the tracking agent in the foreground",
	Long:  "Acquires the location grant if needed, starts the tracking loops, and keeps pushing positions until interrupted. With --booking the tight booking cadence is used and every fresh fix is reported immediately.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initAgent(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		status, err := env.Machine.Check(ctx)
		if err != nil {
			return eris.Wrap(err, "check permission")
		}
		switch status {
		case model.PermissionDenied:
			return eris.New("location permission denied, clear the session after re-enabling access")
		case model.PermissionPrompt:
			_, granted, err := env.Machine.Request(ctx)
			if err != nil {
				return eris.Wrap(err, "request location")
			}
			if !granted {
				return eris.New("location permission was not granted")
			}
		}

		if trackBookingID != "" {
			if err := env.Tracker.StartBooking(ctx, trackBookingID); err != nil {
				return err
			}
		} else if !env.Tracker.Running() {
			if err := env.Tracker.Start(ctx); err != nil {
				return err
			}
		}

		revoked, cancelSub := env.Revocations.Subscribe()
		defer cancelSub()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return env.Queue.Run(gctx) })
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-revoked:
				return eris.New("location grant revoked, tracking stopped")
			}
		})

		zap.L().Info("tracking agent running", zap.String("booking_id", trackBookingID))
		if err := g.Wait(); err != nil && !eris.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	trackCmd.Flags().StringVar(&trackBookingID, "booking", "", "booking id to attach tracking to")
	rootCmd.AddCommand(trackCmd)
}

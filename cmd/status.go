package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current tracking session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initAgent(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sess, err := env.Sessions.Get(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Permission:   %s\n", sess.PermissionStatus)
		fmt.Printf("Tracking:     %v\n", sess.TrackingEnabled)
		if sess.BookingTrackingID != "" {
			fmt.Printf("Booking:      %s\n", sess.BookingTrackingID)
		}
		if sess.LastLocation != nil {
			age := ""
			if sess.LastUpdateTime != nil {
				age = fmt.Sprintf(" (%s ago)", time.Since(*sess.LastUpdateTime).Round(time.Second))
			}
			fmt.Printf("Last fix:     %.6f, %.6f%s\n", sess.LastLocation.Latitude, sess.LastLocation.Longitude, age)
			fmt.Printf("Address:      %s\n", env.Engine.LocationString(ctx))
			inPV, err := env.Engine.InPuertoVallarta(ctx)
			if err == nil {
				fmt.Printf("In PV area:   %v\n", inPV)
			}
		} else {
			fmt.Println("Last fix:     none")
		}

		dls, err := env.Store.ListDeadLetters(ctx, 0)
		if err == nil && len(dls) > 0 {
			fmt.Printf("Dead letters: %d undelivered push(es)\n", len(dls))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

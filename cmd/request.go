package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Request the location permission and capture a fix",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initAgent(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		pos, granted, err := env.Machine.Request(cmd.Context())
		if err != nil {
			return err
		}
		if !granted {
			fmt.Println("Location permission was not granted.")
			return nil
		}
		fmt.Printf("Granted. Current position: %.6f, %.6f (±%.0fm)\n", pos.Latitude, pos.Longitude, pos.Accuracy)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(requestCmd)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Reset the tracking session",
	Long:  "Clears the persisted session: permission state returns to prompt, the cached fix is dropped, and tracking flags are reset.",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initAgent(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Sessions.Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Session cleared.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(clearCmd)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deadlettersDelete string

var deadlettersCmd = &cobra.Command{
	Use:   "deadletters",
	Short: "List undelivered location pushes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initAgent(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if deadlettersDelete != "" {
			if err := env.Store.DeleteDeadLetter(ctx, deadlettersDelete); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", deadlettersDelete)
			return nil
		}

		dls, err := env.Store.ListDeadLetters(ctx, 0)
		if err != nil {
			return err
		}
		if len(dls) == 0 {
			fmt.Println("No dead letters.")
			return nil
		}
		for _, dl := range dls {
			fmt.Printf("%s  %-9s %s attempts=%d  %s\n",
				dl.CreatedAt.Format("2006-01-02 15:04:05"), dl.ErrorType, dl.Endpoint, dl.Attempts, dl.Error)
			fmt.Printf("  id=%s lat=%.6f lng=%.6f\n", dl.ID, dl.Payload.Latitude, dl.Payload.Longitude)
		}
		return nil
	},
}

func init() {
	deadlettersCmd.Flags().StringVar(&deadlettersDelete, "delete", "", "delete the dead letter with this id")
	rootCmd.AddCommand(deadlettersCmd)
}

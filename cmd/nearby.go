package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/beautycita/geotrack/internal/model"
)

var (
	nearbyRadius float64
	nearbyLimit  int
)

var nearbyCmd = &cobra.Command{
	Use:   "nearby",
	Short: "List stylists near the cached position",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initAgent(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		matches, err := env.Engine.Nearby(cmd.Context(), nearbyRadius, nearbyLimit)
		if err != nil {
			return err
		}
		printMatches(matches)
		return nil
	},
}

func printMatches(matches []model.StylistMatch) {
	if len(matches) == 0 {
		fmt.Println("No stylists found.")
		return
	}
	for _, m := range matches {
		avail := " "
		if m.Availability {
			avail = "✓"
		}
		fmt.Printf("%3d  %-28s %-16s %5.2fkm  %.1f★ %s %s\n",
			m.ID, m.Name, m.Neighborhood, m.DistanceKm, m.Rating, m.PriceRange, avail)
	}
	fmt.Printf("%d stylist(s)\n", len(matches))
}

func init() {
	nearbyCmd.Flags().Float64Var(&nearbyRadius, "radius", 0, "search radius in km (default from config)")
	nearbyCmd.Flags().IntVar(&nearbyLimit, "limit", 0, "maximum results (default 20)")
	rootCmd.AddCommand(nearbyCmd)
}

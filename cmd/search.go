package main

import (
	"github.com/spf13/cobra"

	"github.com/beautycita/geotrack/internal/model"
	"github.com/beautycita/geotrack/internal/proximity"
)

var (
	searchSpecialty    string
	searchMinRating    float64
	searchAvailable    bool
	searchNeighborhood string
	searchPriceRanges  []string
	searchRadius       float64
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search stylists by specialty, rating, price, and neighborhood",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initAgent(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		q := proximity.Query{
			Specialty:    searchSpecialty,
			MinRating:    searchMinRating,
			Neighborhood: searchNeighborhood,
			RadiusKm:     searchRadius,
		}
		if cmd.Flags().Changed("available") {
			q.Availability = &searchAvailable
		}
		for _, p := range searchPriceRanges {
			q.PriceRanges = append(q.PriceRanges, model.PriceTier(p))
		}

		matches, err := env.Engine.Search(cmd.Context(), q)
		if err != nil {
			return err
		}
		printMatches(matches)
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchSpecialty, "specialty", "", "specialty substring to match")
	searchCmd.Flags().Float64Var(&searchMinRating, "min-rating", 0, "minimum rating")
	searchCmd.Flags().BoolVar(&searchAvailable, "available", false, "filter by availability")
	searchCmd.Flags().StringVar(&searchNeighborhood, "neighborhood", "", "neighborhood to filter by")
	searchCmd.Flags().StringSliceVar(&searchPriceRanges, "price", nil, "price tiers to include ($ to $$$$)")
	searchCmd.Flags().Float64Var(&searchRadius, "radius", 0, "search radius in km (default from config)")
	rootCmd.AddCommand(searchCmd)
}

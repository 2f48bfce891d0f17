package model

// PriceTier is the ordinal price band of a stylist ($ through $$$$).
type PriceTier string

const (
	PriceBudget   PriceTier = "$"
	PriceModerate PriceTier = "$$"
	PricePremium  PriceTier = "$$$"
	PriceLuxury   PriceTier = "$$$$"
)

// Ord returns the tier's position for ordinal comparisons (1-4, 0 if unknown).
func (p PriceTier) Ord() int {
	switch p {
	case PriceBudget:
		return 1
	case PriceModerate:
		return 2
	case PricePremium:
		return 3
	case PriceLuxury:
		return 4
	}
	return 0
}

// Stylist is a read-only provider entry from the registry fixture.
type Stylist struct {
	ID           int       `json:"id"`
	Name         string    `json:"name"`
	Business     string    `json:"business"`
	Specialty    []string  `json:"specialty"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Rating       float64   `json:"rating"`
	Reviews      int       `json:"reviews"`
	PriceRange   PriceTier `json:"priceRange"`
	Availability bool      `json:"availability"`
	Neighborhood string    `json:"neighborhood"`
	Services     []string  `json:"services"`
	Phone        string    `json:"phone"`
	Instagram    string    `json:"instagram,omitempty"`
	Verified     bool      `json:"verified"`
}

// StylistMatch annotates a Stylist with the great-circle distance from the
// caller's location. The annotation is computed at query time and never
// persisted.
type StylistMatch struct {
	Stylist
	DistanceKm float64 `json:"distanceKm"`
}

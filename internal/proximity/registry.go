package proximity

import (
	"encoding/json"
	"os"

	_ "embed"

	"github.com/rotisserie/eris"

	"github.com/beautycita/geotrack/internal/model"
)

//go:embed stylists.json
var embeddedStylists []byte

// Registry holds the read-only stylist directory for the Puerto Vallarta
// service area.
type Registry struct {
	stylists []model.Stylist
}

// NewEmbeddedRegistry loads the registry shipped with the binary.
func NewEmbeddedRegistry() (*Registry, error) {
	return newRegistry(embeddedStylists)
}

// LoadFromFile reads a JSON array of stylists from the given path, overriding
// the embedded fixture.
func LoadFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "proximity: read stylist registry")
	}
	return newRegistry(data)
}

func newRegistry(data []byte) (*Registry, error) {
	var stylists []model.Stylist
	if err := json.Unmarshal(data, &stylists); err != nil {
		return nil, eris.Wrap(err, "proximity: unmarshal stylist registry")
	}
	return &Registry{stylists: stylists}, nil
}

// Stylists returns all registry entries.
func (r *Registry) Stylists() []model.Stylist {
	return r.stylists
}

// Neighborhoods returns the distinct neighborhoods in registry order.
func (r *Registry) Neighborhoods() []string {
	seen := make(map[string]bool, len(r.stylists))
	var out []string
	for _, s := range r.stylists {
		if !seen[s.Neighborhood] {
			seen[s.Neighborhood] = true
			out = append(out, s.Neighborhood)
		}
	}
	return out
}

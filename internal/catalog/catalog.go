// Package catalog holds the static gift definitions.
package catalog

import (
	"fmt"

	"github.com/dukerupert/giftroulette/internal/model"
)

// WishID is the single gift kind restricted by the 7-day wish window.
const WishID = "voeu"

// DefaultWeight applies to definitions that leave Weight unset.
const DefaultWeight = 10

// Catalog is a read-only, ordered table of gift definitions.
type Catalog struct {
	defs []model.GiftDefinition
	byID map[string]int
}

// New builds a catalog. It panics on duplicate ids, negative weights or
// non-positive limits, which are build-time mistakes.
func New(defs ...model.GiftDefinition) *Catalog {
	c := &Catalog{
		defs: make([]model.GiftDefinition, 0, len(defs)),
		byID: make(map[string]int, len(defs)),
	}
	for _, d := range defs {
		if d.ID == "" {
			panic("catalog: empty gift id")
		}
		if _, dup := c.byID[d.ID]; dup {
			panic(fmt.Sprintf("catalog: duplicate gift id %q", d.ID))
		}
		if d.Weight < 0 {
			panic(fmt.Sprintf("catalog: gift %q has negative weight", d.ID))
		}
		if d.Weight == 0 {
			d.Weight = DefaultWeight
		}
		if d.MaxClaims != nil && *d.MaxClaims <= 0 {
			panic(fmt.Sprintf("catalog: gift %q has non-positive limit", d.ID))
		}
		c.byID[d.ID] = len(c.defs)
		c.defs = append(c.defs, d)
	}
	return c
}

// Lookup returns the definition for id.
func (c *Catalog) Lookup(id string) (model.GiftDefinition, bool) {
	i, ok := c.byID[id]
	if !ok {
		return model.GiftDefinition{}, false
	}
	return c.defs[i], true
}

// All returns every definition in catalog order.
func (c *Catalog) All() []model.GiftDefinition {
	out := make([]model.GiftDefinition, len(c.defs))
	copy(out, c.defs)
	return out
}

// IDs returns every gift id in catalog order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.defs))
	for i, d := range c.defs {
		ids[i] = d.ID
	}
	return ids
}

func (c *Catalog) Len() int {
	return len(c.defs)
}

// IsWish reports whether id is the wish gift.
func IsWish(id string) bool {
	return id == WishID
}

func limit(n int) *int {
	return &n
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return New(
		model.GiftDefinition{
			ID:          "dessert",
			Name:        "Un dessert",
			Description: "Un dessert rien que pour toi, choisi avec amour.",
			Image:       "/images/gifts/dessert.png",
			Color:       "oklch(0.82 0.08 30)",
			MaxClaims:   limit(5),
			Weight:      5,
		},
		model.GiftDefinition{
			ID:          "diner",
			Name:        "Un dîner au restaurant",
			Description: "Une soirée au restaurant, juste nous deux.",
			Image:       "/images/gifts/diner.png",
			Color:       "oklch(0.75 0.10 10)",
			MaxClaims:   limit(3),
			Weight:      7,
		},
		model.GiftDefinition{
			ID:          "cinema",
			Name:        "Une soirée cinéma",
			Description: "Pop-corn, grand écran, et toi contre moi.",
			Image:       "/images/gifts/cinema.png",
			Color:       "oklch(0.70 0.06 280)",
			MaxClaims:   limit(1),
			Weight:      5,
		},
		model.GiftDefinition{
			ID:          "poeme",
			Name:        "Un poème personnalisé",
			Description: "Des mots écrits rien que pour toi.",
			Image:       "/images/gifts/poeme.png",
			Color:       "oklch(0.80 0.10 85)",
			MaxClaims:   limit(10),
			Weight:      14,
		},
		model.GiftDefinition{
			ID:          "massage",
			Name:        "Un massage",
			Description: "Un moment de détente, entre mes mains.",
			Image:       "/images/gifts/massage.png",
			Color:       "oklch(0.85 0.05 160)",
			MaxClaims:   limit(10),
			Weight:      17,
		},
		model.GiftDefinition{
			ID:          "bisou",
			Name:        "Un bisou",
			Description: "Un bisou tendre, là, maintenant.",
			Image:       "/images/gifts/bisou.png",
			Color:       "oklch(0.72 0.12 10)",
			Weight:      28,
		},
		model.GiftDefinition{
			ID:          "gaterie",
			Name:        "Une gâterie",
			Description: "Une petite surprise rien que pour toi...",
			Image:       "/images/gifts/gaterie.png",
			Color:       "oklch(0.78 0.07 50)",
			Weight:      22,
		},
		// The wish is limited by its 7-day window only.
		model.GiftDefinition{
			ID:          WishID,
			Name:        "Un vœu",
			Description: "Fais un vœu... et il se réalisera.",
			Image:       "/images/gifts/voeu.png",
			Color:       "oklch(0.85 0.10 85)",
			Weight:      2,
		},
	)
}

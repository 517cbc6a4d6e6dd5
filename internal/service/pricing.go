package service

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/iliyamo/popup-slot-reservation/internal/model"
)

// PricingFunc computes the amount, in minor units, owed for people
// attending slot of popup.  It is evaluated once when a hold is created.
type PricingFunc func(p *model.Popup, s *model.Slot, people int) int64

// DefaultPricing charges a flat unit price per person: the slot price when
// set, otherwise the popup price.
func DefaultPricing(p *model.Popup, s *model.Slot, people int) int64 {
	unit := p.UnitPrice
	if s != nil && s.Price != nil {
		unit = *s.Price
	}
	return unit * int64(people)
}

// PriceTable overrides unit prices per popup and slot and supports group
// tiers.  Loaded from YAML:
//
//	popups:
//	  7:
//	    unit_price: 5000
//	    slots: {12: 6500}
//	    tiers:
//	      - {min_people: 4, unit_price: 4500}
type PriceTable struct {
	Popups map[uint64]PopupPrices `yaml:"popups"`
}

// PopupPrices holds the overrides of one popup.
type PopupPrices struct {
	UnitPrice *int64           `yaml:"unit_price"`
	Slots     map[uint64]int64 `yaml:"slots"`
	Tiers     []PriceTier      `yaml:"tiers"`
}

// PriceTier applies UnitPrice to groups of at least MinPeople.
type PriceTier struct {
	MinPeople int   `yaml:"min_people"`
	UnitPrice int64 `yaml:"unit_price"`
}

// LoadPriceTable reads a YAML price table from path.
func LoadPriceTable(path string) (*PriceTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read price table: %w", err)
	}
	return ParsePriceTable(data)
}

// ParsePriceTable decodes and validates a YAML price table.
func ParsePriceTable(data []byte) (*PriceTable, error) {
	var t PriceTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode price table: %w", err)
	}
	for id, pp := range t.Popups {
		if pp.UnitPrice != nil && *pp.UnitPrice < 0 {
			return nil, fmt.Errorf("popup %d: negative unit_price", id)
		}
		for sid, price := range pp.Slots {
			if price < 0 {
				return nil, fmt.Errorf("popup %d slot %d: negative price", id, sid)
			}
		}
		for _, tier := range pp.Tiers {
			if tier.MinPeople < 1 || tier.UnitPrice < 0 {
				return nil, fmt.Errorf("popup %d: invalid tier %+v", id, tier)
			}
		}
		sort.Slice(pp.Tiers, func(i, j int) bool { return pp.Tiers[i].MinPeople < pp.Tiers[j].MinPeople })
		t.Popups[id] = pp
	}
	return &t, nil
}

// Pricing returns a PricingFunc that consults the table first and defers
// to fallback for popups the table does not mention.  Within a popup a slot
// override wins over tiers, and tiers win over the popup unit price.
func (t *PriceTable) Pricing(fallback PricingFunc) PricingFunc {
	if fallback == nil {
		fallback = DefaultPricing
	}
	return func(p *model.Popup, s *model.Slot, people int) int64 {
		pp, ok := t.Popups[p.ID]
		if !ok {
			return fallback(p, s, people)
		}
		if s != nil {
			if price, ok := pp.Slots[s.ID]; ok {
				return price * int64(people)
			}
		}
		for i := len(pp.Tiers) - 1; i >= 0; i-- {
			if people >= pp.Tiers[i].MinPeople {
				return pp.Tiers[i].UnitPrice * int64(people)
			}
		}
		if pp.UnitPrice != nil {
			return *pp.UnitPrice * int64(people)
		}
		return fallback(p, s, people)
	}
}

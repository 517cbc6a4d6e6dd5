package service

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/popup-slot-reservation/internal/model"
)

func int64Ptr(v int64) *int64 { return &v }

func TestDefaultPricing(t *testing.T) {
	p := &model.Popup{ID: 1, UnitPrice: 5000}

	assert.Equal(t, int64(10000), DefaultPricing(p, &model.Slot{ID: 1}, 2))
	assert.Equal(t, int64(2400), DefaultPricing(p, &model.Slot{ID: 1, Price: int64Ptr(800)}, 3))
	assert.Equal(t, int64(5000), DefaultPricing(p, nil, 1))
}

const priceYAML = `
popups:
  1:
    unit_price: 4000
    slots:
      12: 6500
    tiers:
      - {min_people: 6, unit_price: 3000}
      - {min_people: 3, unit_price: 3500}
`

func TestPriceTable_Precedence(t *testing.T) {
	table, err := ParsePriceTable([]byte(priceYAML))
	require.NoError(t, err)
	pricing := table.Pricing(nil)

	popup := &model.Popup{ID: 1, UnitPrice: 9999}
	assert.Equal(t, int64(13000), pricing(popup, &model.Slot{ID: 12}, 2), "slot override")
	assert.Equal(t, int64(8000), pricing(popup, &model.Slot{ID: 11}, 2), "popup unit price")
	assert.Equal(t, int64(14000), pricing(popup, &model.Slot{ID: 11}, 4), "lower tier")
	assert.Equal(t, int64(21000), pricing(popup, &model.Slot{ID: 11}, 7), "upper tier")

	other := &model.Popup{ID: 2, UnitPrice: 100}
	assert.Equal(t, int64(300), pricing(other, &model.Slot{ID: 1}, 3), "fallback for unknown popups")
}

func TestParsePriceTable_Rejects(t *testing.T) {
	cases := map[string]string{
		"negative unit":  "popups:\n  1:\n    unit_price: -1\n",
		"negative slot":  "popups:\n  1:\n    slots: {2: -5}\n",
		"zero min tier":  "popups:\n  1:\n    tiers: [{min_people: 0, unit_price: 1}]\n",
		"malformed yaml": "popups: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePriceTable([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadPriceTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.yaml")
	require.NoError(t, os.WriteFile(path, []byte(priceYAML), 0o600))

	table, err := LoadPriceTable(path)
	require.NoError(t, err)
	require.Contains(t, table.Popups, uint64(1))
	assert.Len(t, table.Popups[1].Tiers, 2)
	assert.Equal(t, 3, table.Popups[1].Tiers[0].MinPeople)

	_, err = LoadPriceTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "HOLD_EXPIRED", ErrorCode(ErrHoldExpired))
	assert.Equal(t, "INVALID_REQUEST", ErrorCode(fmt.Errorf("%w: people must be positive", ErrInvalidRequest)))
	assert.Equal(t, CodeInternal, ErrorCode(errBoom))
	assert.Equal(t, CodeInternal, ErrorCode(nil))
}

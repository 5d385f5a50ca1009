package catalog_test

import (
	"testing"

	"github.com/studyowl/creditgate/internal/catalog"
	"github.com/stretchr/testify/assert"
)

func TestLookupNormalizesID(t *testing.T) {
	c := catalog.Default()

	pkg, err := c.Lookup("  Standard ")
	assert.NoError(t, err)
	assert.Equal(t, "standard", pkg.ID)
	assert.Equal(t, int64(1000), pkg.AmountMinor)
	assert.Equal(t, int64(10), pkg.TotalCredits())

	_, err = c.Lookup("enterprise")
	assert.ErrorIs(t, err, catalog.ErrUnknownPackage)
}

func TestBonusCreditsCountTowardGrant(t *testing.T) {
	c := catalog.Default()

	pkg, err := c.Lookup("plus")
	assert.NoError(t, err)
	assert.Equal(t, int64(25), pkg.BaseCredits)
	assert.Equal(t, int64(3), pkg.BonusCredits)
	assert.Equal(t, int64(28), pkg.TotalCredits())
}

func TestListOrderedByPrice(t *testing.T) {
	c := catalog.Default()

	packages := c.List()
	assert.Len(t, packages, 4)
	for i := 1; i < len(packages); i++ {
		assert.LessOrEqual(t, packages[i-1].AmountMinor, packages[i].AmountMinor)
	}
}

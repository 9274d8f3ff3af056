package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonth(t *testing.T) {
	assert.Equal(t, 202401, Month(Date(2024, 1, 15)))
	assert.Equal(t, 199912, Month(Date(1999, 12, 31)))
}

func TestParseDate_RejectsImpossible(t *testing.T) {
	_, err := ParseDate("2024-02-30")
	assert.Error(t, err)

	d, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, Date(2024, 2, 29), d)
}

func TestFloorBand(t *testing.T) {
	ranged := Transaction{LevelLow: Ptr(6), LevelHigh: Ptr(10), ExactLevel: Ptr(8)}
	low, high, ok := ranged.FloorBand()
	assert.True(t, ok)
	assert.Equal(t, 6, low)
	assert.Equal(t, 10, high)

	exact := Transaction{ExactLevel: Ptr(12)}
	low, high, ok = exact.FloorBand()
	assert.True(t, ok)
	assert.Equal(t, 12, low)
	assert.Equal(t, 12, high)

	_, _, ok = (&Transaction{}).FloorBand()
	assert.False(t, ok)
}

func TestPSF(t *testing.T) {
	tx := Transaction{SalePrice: 1_500_000, Sqft: Ptr(900.0)}
	psf, ok := tx.PSF()
	assert.True(t, ok)
	assert.InDelta(t, 1666.67, psf, 0.01)

	_, ok = (&Transaction{SalePrice: 1}).PSF()
	assert.False(t, ok)
}

func TestDeriveLineage(t *testing.T) {
	tx := Transaction{
		SaleDate:      Date(2024, 1, 15),
		SalePrice:     1_650_000,
		PurchaseDate:  Ptr(Date(2022, 1, 15)),
		PurchasePrice: Ptr(1_500_000.0),
	}
	DeriveLineage(&tx)

	require.NotNil(t, tx.Profit)
	require.NotNil(t, tx.AnnualisedPct)
	assert.InDelta(t, 150_000, *tx.Profit, 0.001)
	assert.InDelta(t, 4.88, *tx.AnnualisedPct, 0.01)
}

func TestDeriveLineage_KeepsPopulated(t *testing.T) {
	tx := Transaction{
		SaleDate:      Date(2024, 1, 15),
		SalePrice:     1_650_000,
		PurchaseDate:  Ptr(Date(2022, 1, 15)),
		PurchasePrice: Ptr(1_500_000.0),
		Profit:        Ptr(149_000.0),
	}
	DeriveLineage(&tx)
	assert.InDelta(t, 149_000, *tx.Profit, 0.001)
}

func TestStripPartialLineage(t *testing.T) {
	noDate := Transaction{
		SaleDate:      Date(2024, 1, 15),
		SalePrice:     1_650_000,
		PurchasePrice: Ptr(1_500_000.0),
		Profit:        Ptr(150_000.0),
		AnnualisedPct: Ptr(4.9),
	}
	StripPartialLineage(&noDate)
	assert.Nil(t, noDate.Profit)
	assert.Nil(t, noDate.AnnualisedPct)

	sameDay := Transaction{
		SaleDate:      Date(2024, 1, 15),
		SalePrice:     1_650_000,
		PurchaseDate:  Ptr(Date(2024, 1, 15)),
		PurchasePrice: Ptr(1_500_000.0),
	}
	StripPartialLineage(&sameDay)
	assert.Nil(t, sameDay.Profit, "non-positive holding period has no return")
}

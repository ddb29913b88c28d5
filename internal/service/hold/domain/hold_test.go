package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAddress() Address {
	return Address{
		Name:          "Asha",
		PhoneNumber:   "9999999999",
		Pincode:       "560001",
		HouseNumber:   "12",
		StreetAddress: "MG Road",
		City:          "Bengaluru",
		State:         "KA",
	}
}

func TestNormalizeLines(t *testing.T) {
	t.Run("merges duplicates and sorts", func(t *testing.T) {
		lines, err := NormalizeLines([]Line{
			{ProductID: "p2", Quantity: 1},
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 3},
		})
		require.NoError(t, err)
		assert.Equal(t, []Line{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 4},
		}, lines)
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		for _, q := range []int{0, -1} {
			_, err := NormalizeLines([]Line{{ProductID: "p1", Quantity: q}})
			assert.ErrorIs(t, err, ErrInvalidQuantity)
		}
	})

	t.Run("rejects empty cart", func(t *testing.T) {
		_, err := NormalizeLines(nil)
		assert.ErrorIs(t, err, ErrInvalidLine)
	})

	t.Run("rejects empty product id", func(t *testing.T) {
		_, err := NormalizeLines([]Line{{ProductID: " ", Quantity: 1}})
		assert.ErrorIs(t, err, ErrInvalidLine)
	})
}

func TestAddressValidate(t *testing.T) {
	assert.NoError(t, validAddress().Validate())

	a := validAddress()
	a.City = ""
	a.Pincode = "  "
	err := a.Validate()
	require.ErrorIs(t, err, ErrInvalidAddress)
	assert.Contains(t, err.Error(), "city, pincode")
}

func TestNewHold(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	lines := []Line{
		{ProductID: "p1", Quantity: 2, UnitPrice: decimal.RequireFromString("199.50")},
		{ProductID: "p2", Quantity: 1, UnitPrice: decimal.RequireFromString("49.99")},
	}
	h, err := NewHold("h1", "u1", lines, validAddress(), "WELCOME", "INR", now, 15*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, StatusActive, h.Status)
	assert.Equal(t, now.Add(15*time.Minute), h.ExpiresAt)
	assert.Equal(t, "448.99", h.TotalAmount.StringFixed(2))
	assert.Equal(t, int64(44899), h.AmountMinor())
	assert.Equal(t, 3, h.TotalQuantity())

	// 明细是拷贝，调用方后续修改不影响 Hold
	lines[0].Quantity = 100
	assert.Equal(t, 2, h.Lines[0].Quantity)
}

func TestHoldIsExpiredAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	h, err := NewHold("h1", "", []Line{{ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewFromInt(10)}}, validAddress(), "", "INR", now, time.Minute)
	require.NoError(t, err)

	assert.False(t, h.IsExpiredAt(now))
	assert.False(t, h.IsExpiredAt(now.Add(59*time.Second)))
	assert.True(t, h.IsExpiredAt(now.Add(time.Minute)))
	assert.True(t, h.IsExpiredAt(now.Add(time.Hour)))
}

func TestStructuredErrors(t *testing.T) {
	var err error = &InsufficientStockError{Lines: []ShortLine{{ProductID: "p1", Requested: 2, Available: 1}}}
	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.Contains(t, err.Error(), "p1 (requested 2, available 1)")

	err = &PolicyViolationError{Rule: "line.quantity <= 5", ProductID: "p1"}
	assert.True(t, errors.Is(err, ErrPolicyViolation))
	assert.False(t, errors.Is(err, ErrInsufficientStock))
}

func TestStatus(t *testing.T) {
	assert.False(t, StatusActive.IsTerminal())
	assert.True(t, StatusPaid.IsTerminal())
	assert.False(t, StatusPaid.ReleasesStock())
	assert.True(t, StatusExpired.ReleasesStock())
	assert.True(t, StatusCancelled.ReleasesStock())
	assert.False(t, Status("pending").IsTerminal())
	assert.Equal(t, EventHoldExpired, EventTypeFor(StatusExpired))
}

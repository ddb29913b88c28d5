package adapter

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sabzar/internal/service/hold/domain"
)

func TestCELPolicyAdapter(t *testing.T) {
	policy, err := NewCELPolicyAdapter(
		[]string{"line.quantity <= 5", `line.product_id != "blocked"`},
		[]string{"hold.total_quantity <= 8", "hold.total_amount < 10000.0"},
	)
	require.NoError(t, err)
	ctx := context.Background()
	price := decimal.RequireFromString("100.00")

	assert.NoError(t, policy.Check(ctx, "u1", []domain.Line{
		{ProductID: "a", Quantity: 5, UnitPrice: price},
		{ProductID: "b", Quantity: 3, UnitPrice: price},
	}))

	err = policy.Check(ctx, "u1", []domain.Line{{ProductID: "a", Quantity: 6, UnitPrice: price}})
	var violation *domain.PolicyViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "line.quantity <= 5", violation.Rule)
	assert.Equal(t, "a", violation.ProductID)

	err = policy.Check(ctx, "u1", []domain.Line{{ProductID: "blocked", Quantity: 1, UnitPrice: price}})
	assert.ErrorIs(t, err, domain.ErrPolicyViolation)

	err = policy.Check(ctx, "u1", []domain.Line{
		{ProductID: "a", Quantity: 5, UnitPrice: price},
		{ProductID: "b", Quantity: 4, UnitPrice: price},
	})
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "hold.total_quantity <= 8", violation.Rule)
	assert.Empty(t, violation.ProductID)
}

func TestCELPolicyAdapterRejectsBadRules(t *testing.T) {
	_, err := NewCELPolicyAdapter([]string{"line.quantity <="}, nil)
	assert.Error(t, err)

	_, err = NewCELPolicyAdapter(nil, []string{"hold.total_quantity + 1"})
	assert.Error(t, err)

	policy, err := NewCELPolicyAdapter(nil, nil)
	require.NoError(t, err)
	assert.NoError(t, policy.Check(context.Background(), "", []domain.Line{{ProductID: "x", Quantity: 100}}))
}

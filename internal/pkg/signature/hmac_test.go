package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSign_KnownVector(t *testing.T) {
	// RFC 4231 test case 2
	got := Sign("Jefe", []byte("what do ya want for nothing?"))
	assert.Equal(t, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843", got)
}

func TestVerify(t *testing.T) {
	payload := PaymentPayload("order_1", "pay_1")
	sig := Sign("secret", payload)

	assert.True(t, Verify("secret", payload, sig))
	assert.True(t, Verify("secret", payload, " "+sig+" "))
	assert.False(t, Verify("other", payload, sig))
	assert.False(t, Verify("secret", PaymentPayload("order_1", "pay_2"), sig))
	assert.False(t, Verify("secret", payload, ""))
	assert.False(t, Verify("", payload, sig))
}

package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignatureIgnoresKeyOrder(t *testing.T) {
	v := NewSignatureVerifier("ipn-secret")

	sorted := []byte(`{"order_description":"ALPHA Course - User 7","pay_amount":0.00081,"payment_id":5077125051,"payment_status":"confirmed"}`)
	shuffled := []byte(`{"payment_status":"confirmed","payment_id":5077125051,"pay_amount":0.00081,"order_description":"ALPHA Course - User 7"}`)

	sig, err := v.Sign(sorted)
	require.NoError(t, err)

	assert.NoError(t, v.Verify(shuffled, sig))
	assert.NoError(t, v.Verify(sorted, sig))
}

func TestSignatureRejects(t *testing.T) {
	v := NewSignatureVerifier("ipn-secret")
	body := []byte(`{"payment_id":1,"payment_status":"finished","order_description":"User 7"}`)
	sig, err := v.Sign(body)
	require.NoError(t, err)

	tampered := []byte(`{"payment_id":1,"payment_status":"finished","order_description":"User 8"}`)
	assert.ErrorIs(t, v.Verify(tampered, sig), ErrInvalidSignature)
	assert.ErrorIs(t, v.Verify(body, ""), ErrInvalidSignature)
	assert.ErrorIs(t, v.Verify(body, "not-hex"), ErrInvalidSignature)
	assert.ErrorIs(t, v.Verify([]byte(`{broken`), sig), ErrInvalidSignature)
	assert.ErrorIs(t, NewSignatureVerifier("other").Verify(body, sig), ErrInvalidSignature)
	assert.ErrorIs(t, NewSignatureVerifier("").Verify(body, sig), ErrInvalidSignature)
}

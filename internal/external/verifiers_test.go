package external

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolarVerifier_Verify(t *testing.T) {
	v := &PolarVerifier{}
	secret := "whsec_test_secret"
	payload := []byte(`{"type":"subscription.updated","data":{"id":"sub_1"}}`)
	sig := Sign(payload, secret)

	t.Run("valid signature", func(t *testing.T) {
		require.NoError(t, v.Verify(payload, sig, secret))
	})

	t.Run("valid signature with sha256 prefix", func(t *testing.T) {
		require.NoError(t, v.Verify(payload, "sha256="+sig, secret))
	})

	t.Run("tampered payload rejected", func(t *testing.T) {
		tampered := []byte(`{"type":"subscription.updated","data":{"id":"sub_2"}}`)
		assert.Error(t, v.Verify(tampered, sig, secret))
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		assert.Error(t, v.Verify(payload, sig, "other_secret"))
	})

	t.Run("empty header rejected", func(t *testing.T) {
		assert.Error(t, v.Verify(payload, "", secret))
	})

	t.Run("non-hex signature rejected", func(t *testing.T) {
		assert.Error(t, v.Verify(payload, "not-hex!", secret))
	})

	t.Run("missing secret rejected", func(t *testing.T) {
		assert.Error(t, v.Verify(payload, sig, ""))
	})
}

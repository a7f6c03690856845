package certutil

import (
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfSigned(t *testing.T) {
	t.Parallel()

	cert, pool, err := SelfSigned("localhost", "127.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, []string{"localhost"}, cert.Leaf.DNSNames)
	require.Len(t, cert.Leaf.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", cert.Leaf.IPAddresses[0].String())

	_, err = cert.Leaf.Verify(x509.VerifyOptions{
		DNSName: "localhost",
		Roots:   pool,
	})
	assert.NoError(t, err)
}

package security_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/multiscale/costeer/pkg/security"
)

func TestGenerateSelfSignedCert(t *testing.T) {
	cert, err := security.GenerateSelfSignedCert("registry.local")
	require.NoError(t, err)
	require.NotEmpty(t, cert.Certificate)
}

func TestRespondVerify_CorrectKey(t *testing.T) {
	key := []byte("shared-secret")
	nonce, err := security.NewNonce()
	require.NoError(t, err)

	response := security.Respond(key, nonce)
	require.True(t, security.Verify(key, nonce, response))
}

func TestVerify_WrongKeyRejected(t *testing.T) {
	nonce, err := security.NewNonce()
	require.NoError(t, err)

	response := security.Respond([]byte("correct-key"), nonce)
	require.False(t, security.Verify([]byte("wrong-key"), nonce, response))
}

func TestNewNonce_Unique(t *testing.T) {
	a, err := security.NewNonce()
	require.NoError(t, err)
	b, err := security.NewNonce()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

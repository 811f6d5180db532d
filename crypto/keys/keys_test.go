package keys

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	whispercrypto "github.com/vorobalek/whisper-go/crypto"
)

func TestEd25519SignVerify(t *testing.T) {
	kp, err := GenerateEd25519KeyPair()
	require.NoError(t, err)
	assert.Equal(t, whispercrypto.KeyTypeEd25519, kp.Type())

	sig, err := kp.Sign([]byte("message"))
	require.NoError(t, err)
	assert.NoError(t, kp.Verify([]byte("message"), sig))
	assert.ErrorIs(t, kp.Verify([]byte("tampered"), sig), whispercrypto.ErrInvalidSignature)
}

func TestEd25519FromSeed(t *testing.T) {
	original, err := GenerateEd25519KeyPair()
	require.NoError(t, err)
	seed := original.PrivateKey().(ed25519.PrivateKey).Seed()

	restored, err := NewEd25519KeyPairFromSeed(seed)
	require.NoError(t, err)
	assert.Equal(t, original.ID(), restored.ID())

	pk := original.(whispercrypto.PublicKeyed)
	rk := restored.(whispercrypto.PublicKeyed)
	assert.True(t, bytes.Equal(pk.PublicBytesKey(), rk.PublicBytesKey()))
}

func TestSecp256k1SignVerify(t *testing.T) {
	kp, err := GenerateSecp256k1KeyPair()
	require.NoError(t, err)
	assert.Equal(t, whispercrypto.KeyTypeSecp256k1, kp.Type())

	sig, err := kp.Sign([]byte("message"))
	require.NoError(t, err)
	assert.NoError(t, kp.Verify([]byte("message"), sig))
	assert.ErrorIs(t, kp.Verify([]byte("tampered"), sig), whispercrypto.ErrInvalidSignature)
}

func TestVerifyWithPublicDispatchesByLength(t *testing.T) {
	ed, err := GenerateEd25519KeyPair()
	require.NoError(t, err)
	secp, err := GenerateSecp256k1KeyPair()
	require.NoError(t, err)

	msg := []byte("payload")
	edSig, err := ed.Sign(msg)
	require.NoError(t, err)
	secpSig, err := secp.Sign(msg)
	require.NoError(t, err)

	edPub := ed.(whispercrypto.PublicKeyed).PublicBytesKey()
	secpPub := secp.(whispercrypto.PublicKeyed).PublicBytesKey()

	assert.NoError(t, VerifyWithPublic(edPub, msg, edSig))
	assert.NoError(t, VerifyWithPublic(secpPub, msg, secpSig))
	assert.Error(t, VerifyWithPublic(edPub, msg, secpSig))
	assert.ErrorIs(t, VerifyWithPublic([]byte{1, 2}, msg, edSig), whispercrypto.ErrInvalidPublicKey)
}

func TestX25519SharedSecretIsSymmetric(t *testing.T) {
	a, err := GenerateX25519KeyPair()
	require.NoError(t, err)
	b, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	ab, err := a.DeriveSharedSecret(b.PublicBytesKey())
	require.NoError(t, err)
	ba, err := b.DeriveSharedSecret(a.PublicBytesKey())
	require.NoError(t, err)

	assert.Equal(t, ab, ba)
	assert.Len(t, ab, 32)
}

func TestX25519RefusesSigning(t *testing.T) {
	kp, err := GenerateX25519KeyPair()
	require.NoError(t, err)
	_, err = kp.Sign([]byte("x"))
	assert.ErrorIs(t, err, whispercrypto.ErrSignNotSupported)
	assert.ErrorIs(t, kp.Verify([]byte("x"), nil), whispercrypto.ErrVerifyNotSupported)
}

func TestHPKESealOpenWithEd25519(t *testing.T) {
	kp, err := GenerateEd25519KeyPair()
	require.NoError(t, err)

	info := []byte("test-info")
	packet, err := HPKESealToEd25519Peer(kp.PublicKey(), []byte("offline payload"), info)
	require.NoError(t, err)

	plain, err := HPKEOpenWithEd25519Priv(kp.PrivateKey(), packet, info)
	require.NoError(t, err)
	assert.Equal(t, []byte("offline payload"), plain)
}

func TestHPKEOpenRejectsWrongKey(t *testing.T) {
	alice, err := GenerateEd25519KeyPair()
	require.NoError(t, err)
	bob, err := GenerateEd25519KeyPair()
	require.NoError(t, err)

	packet, err := HPKESealToEd25519Peer(alice.PublicKey(), []byte("secret"), []byte("info"))
	require.NoError(t, err)

	_, err = HPKEOpenWithEd25519Priv(bob.PrivateKey(), packet, []byte("info"))
	assert.Error(t, err)
}

func TestFingerprintDistinguishesKeys(t *testing.T) {
	a := Fingerprint([]byte("key-a"))
	b := Fingerprint([]byte("key-b"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, Fingerprint([]byte("key-a")))
}

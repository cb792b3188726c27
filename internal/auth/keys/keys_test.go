package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var (
	fixtureOnce             sync.Once
	fixturePriv, fixturePub []byte
	otherPub                []byte
)

func fixture(t *testing.T) (privPEM, pubPEM, unrelatedPub []byte) {
	t.Helper()
	fixtureOnce.Do(func() {
		var err error
		fixturePriv, fixturePub, err = Generate(2048)
		require.NoError(t, err)
		_, otherPub, err = Generate(2048)
		require.NoError(t, err)
	})
	return fixturePriv, fixturePub, otherPub
}

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func TestLoad_Base64PEM(t *testing.T) {
	priv, pub, _ := fixture(t)

	m, err := Load(context.Background(), Config{
		PrivateKey: b64(priv),
		PublicKey:  b64(pub),
	}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 2048, m.Public.N.BitLen())
	assert.True(t, m.Public.Equal(&m.Private.PublicKey))
	assert.NotEmpty(t, m.KeyID)
	assert.Equal(t, KeyID(m.Public), m.KeyID)
	assert.Empty(t, m.Previous)
}

func TestLoad_DerivesPublicWhenAbsent(t *testing.T) {
	priv, _, _ := fixture(t)

	m, err := Load(context.Background(), Config{PrivateKey: b64(priv)}, nil)
	require.NoError(t, err)
	assert.True(t, m.Public.Equal(&m.Private.PublicKey))
}

func TestLoad_RawDERAndURLAlphabet(t *testing.T) {
	priv, _, _ := fixture(t)
	block, _ := pem.Decode(priv)
	require.NotNil(t, block)

	m, err := Load(context.Background(), Config{
		PrivateKey: base64.RawURLEncoding.EncodeToString(block.Bytes),
	}, nil)
	require.NoError(t, err)
	assert.NotNil(t, m.Private)
}

func TestLoad_PKCS1PEM(t *testing.T) {
	priv, _, _ := fixture(t)
	key, err := ParsePrivateKey(priv)
	require.NoError(t, err)

	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pkcs1Pub := pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey)})

	m, err := Load(context.Background(), Config{PrivateKey: b64(pkcs1), PublicKey: b64(pkcs1Pub)}, nil)
	require.NoError(t, err)
	assert.True(t, m.Public.Equal(&key.PublicKey))
}

func TestLoad_FromFile(t *testing.T) {
	priv, pub, _ := fixture(t)
	dir := t.TempDir()
	privPath := filepath.Join(dir, "signing.pem")
	pubPath := filepath.Join(dir, "signing.pub")
	require.NoError(t, os.WriteFile(privPath, priv, 0o600))
	require.NoError(t, os.WriteFile(pubPath, pub, 0o600))

	m, err := Load(context.Background(), Config{PrivateKey: privPath, PublicKey: pubPath}, nil)
	require.NoError(t, err)
	assert.NotNil(t, m.Private)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(context.Background(), Config{PrivateKey: "/nonexistent/signing.pem"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_CancelledContextStopsFileRead(t *testing.T) {
	priv, _, _ := fixture(t)
	path := filepath.Join(t.TempDir(), "signing.pem")
	require.NoError(t, os.WriteFile(path, priv, 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The read may still win the race against the closed context; only a
	// context error is acceptable when it does not.
	_, err := Load(ctx, Config{PrivateKey: path}, nil)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestLoad_Errors(t *testing.T) {
	priv, _, unrelated := fixture(t)

	weak, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	weakDER, err := x509.MarshalPKCS8PrivateKey(weak)
	require.NoError(t, err)
	weakPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: weakDER})

	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"no source", Config{}, ErrNoKeySource},
		{"blank source", Config{PrivateKey: "   "}, ErrNoKeySource},
		{"garbage", Config{PrivateKey: "!!!not-base64!!!"}, ErrUndecodable},
		{"weak key", Config{PrivateKey: b64(weakPEM)}, ErrWeakKey},
		{"mismatch", Config{PrivateKey: b64(priv), PublicKey: b64(unrelated)}, ErrKeyMismatch},
		{"public as private", Config{PrivateKey: b64(unrelated)}, ErrUnsupported},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, err := Load(context.Background(), tc.cfg, nil)
			assert.Nil(t, m)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestLoadPreviousPublicKeys_SkipsBrokenEntries(t *testing.T) {
	_, pub, unrelated := fixture(t)
	core, logs := observer.New(zap.WarnLevel)

	got := LoadPreviousPublicKeys(context.Background(), Config{
		PreviousPublicKeys: b64(pub) + ", ,not*base64," + b64(unrelated),
	}, zap.New(core))

	require.Len(t, got, 2)
	assert.Equal(t, 1, logs.FilterMessage("skipping previous public key").Len())
}

func TestParsePublicKey_Certificate(t *testing.T) {
	priv, _, _ := fixture(t)
	key, err := ParsePrivateKey(priv)
	require.NoError(t, err)

	tmpl := &x509.Certificate{SerialNumber: big.NewInt(1)}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	pub, err := ParsePublicKey(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, err)
	assert.True(t, pub.Equal(&key.PublicKey))
}

func TestGenerate_RejectsWeakSize(t *testing.T) {
	_, _, err := Generate(1024)
	assert.ErrorIs(t, err, ErrWeakKey)
}

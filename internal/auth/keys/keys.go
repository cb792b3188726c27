// Package keys loads the RSA key material used to sign and verify access
// tokens. Loading is a startup precondition: any error here should stop the
// process.
package keys

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	MinModulusBits     = 2048
	defaultReadTimeout = 2 * time.Second
)

var (
	ErrNoKeySource = errors.New("no private key configured")
	ErrWeakKey     = errors.New("rsa modulus shorter than 2048 bits")
	ErrUndecodable = errors.New("key material is neither base64 nor PEM")
	ErrKeyMismatch = errors.New("public key does not match private key")
	ErrUnsupported = errors.New("unsupported key type")
)

type Config struct {
	// PrivateKey and PublicKey accept a base64 value (PEM or DER inside)
	// or a path to a PEM file.
	PrivateKey string `mapstructure:"private_key"`
	PublicKey  string `mapstructure:"public_key"`
	// PreviousPublicKeys is a comma-separated list of base64 public keys
	// still accepted for verification.
	PreviousPublicKeys string        `mapstructure:"previous_public_keys"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
}

// Material is read-only after Load and safe to share between goroutines.
type Material struct {
	Private  *rsa.PrivateKey
	Public   *rsa.PublicKey
	Previous []*rsa.PublicKey
	KeyID    string
}

func Load(ctx context.Context, cfg Config, log *zap.Logger) (*Material, error) {
	priv, pub, err := LoadActiveKeypair(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m := &Material{
		Private:  priv,
		Public:   pub,
		Previous: LoadPreviousPublicKeys(ctx, cfg, log),
		KeyID:    KeyID(pub),
	}
	if log != nil {
		log.Info("signing keys loaded",
			zap.String("kid", m.KeyID),
			zap.Int("bits", pub.N.BitLen()),
			zap.Int("previous", len(m.Previous)),
		)
	}
	return m, nil
}

func LoadActiveKeypair(ctx context.Context, cfg Config) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	if strings.TrimSpace(cfg.PrivateKey) == "" {
		return nil, nil, ErrNoKeySource
	}
	raw, err := resolve(ctx, cfg.PrivateKey, cfg.ReadTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("private key: %w", err)
	}
	priv, err := ParsePrivateKey(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("private key: %w", err)
	}
	if err := checkSize(&priv.PublicKey); err != nil {
		return nil, nil, fmt.Errorf("private key: %w", err)
	}

	pub := &priv.PublicKey
	if strings.TrimSpace(cfg.PublicKey) != "" {
		raw, err := resolve(ctx, cfg.PublicKey, cfg.ReadTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("public key: %w", err)
		}
		configured, err := ParsePublicKey(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("public key: %w", err)
		}
		if !configured.Equal(pub) {
			return nil, nil, ErrKeyMismatch
		}
		pub = configured
	}
	return priv, pub, nil
}

// LoadPreviousPublicKeys never fails: a retained key is a compatibility aid,
// so a broken entry is logged and skipped.
func LoadPreviousPublicKeys(ctx context.Context, cfg Config, log *zap.Logger) []*rsa.PublicKey {
	if log == nil {
		log = zap.NewNop()
	}
	var out []*rsa.PublicKey
	for i, entry := range strings.Split(cfg.PreviousPublicKeys, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		raw, err := resolve(ctx, entry, cfg.ReadTimeout)
		if err == nil {
			var pub *rsa.PublicKey
			if pub, err = ParsePublicKey(raw); err == nil {
				if err = checkSize(pub); err == nil {
					out = append(out, pub)
					continue
				}
			}
		}
		log.Warn("skipping previous public key", zap.Int("index", i), zap.Error(err))
	}
	return out
}

// KeyID is a short fingerprint of the public key, used as the JWT kid header.
func KeyID(pub *rsa.PublicKey) string {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:12])
}

func ParsePrivateKey(raw []byte) (*rsa.PrivateKey, error) {
	der := raw
	if block, _ := pem.Decode(raw); block != nil {
		switch block.Type {
		case "RSA PRIVATE KEY":
			return x509.ParsePKCS1PrivateKey(block.Bytes)
		case "PRIVATE KEY":
			der = block.Bytes
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupported, block.Type)
		}
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA private key", ErrUnsupported)
		}
		return rsaKey, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	return nil, ErrUndecodable
}

func ParsePublicKey(raw []byte) (*rsa.PublicKey, error) {
	der := raw
	if block, _ := pem.Decode(raw); block != nil {
		switch block.Type {
		case "PUBLIC KEY", "CERTIFICATE":
			der = block.Bytes
		case "RSA PUBLIC KEY":
			return x509.ParsePKCS1PublicKey(block.Bytes)
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupported, block.Type)
		}
	}
	if key, err := x509.ParsePKIXPublicKey(der); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA public key", ErrUnsupported)
		}
		return rsaKey, nil
	}
	if key, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return key, nil
	}
	if cert, err := x509.ParseCertificate(der); err == nil {
		rsaKey, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: certificate key is not RSA", ErrUnsupported)
		}
		return rsaKey, nil
	}
	return nil, ErrUndecodable
}

func checkSize(pub *rsa.PublicKey) error {
	if pub.N.BitLen() < MinModulusBits {
		return fmt.Errorf("%w: got %d", ErrWeakKey, pub.N.BitLen())
	}
	return nil
}

// resolve turns a configured value into key bytes: inline PEM, a file path,
// or base64 in any of the four common alphabets.
func resolve(ctx context.Context, value string, timeout time.Duration) ([]byte, error) {
	v := strings.TrimSpace(value)
	if strings.HasPrefix(v, "-----BEGIN") {
		return []byte(v), nil
	}
	if looksLikePath(v) {
		return readFile(ctx, v, timeout)
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(v); err == nil {
			return b, nil
		}
	}
	return nil, ErrUndecodable
}

func looksLikePath(v string) bool {
	if strings.HasPrefix(v, "/") || strings.HasPrefix(v, "./") || strings.HasPrefix(v, "../") {
		return true
	}
	for _, ext := range []string{".pem", ".key", ".crt", ".pub"} {
		if strings.HasSuffix(v, ext) {
			return true
		}
	}
	return false
}

func readFile(ctx context.Context, path string, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		b   []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		b, err := os.ReadFile(path)
		ch <- result{b, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("read %s: %w", path, r.err)
		}
		return r.b, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("read %s: %w", path, ctx.Err())
	}
}

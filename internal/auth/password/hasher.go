// Package password hashes and checks user passwords.
//
// Stored form: "v<pepper version>$" followed by an argon2id PHC string,
// e.g. v1$$argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>. The password is
// keyed with HMAC-SHA256 under the versioned pepper before hashing. bcrypt
// hashes imported from older systems still verify and are flagged for
// rehash.
package password

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

type Argon2Params struct {
	Time      uint32 `mapstructure:"time"`
	MemoryKiB uint32 `mapstructure:"memory_kib"`
	Threads   uint8  `mapstructure:"threads"`
	KeyLen    uint32 `mapstructure:"key_len"`
	SaltLen   uint32 `mapstructure:"salt_len"`
}

func DefaultArgon2Params() Argon2Params {
	return Argon2Params{Time: 3, MemoryKiB: 64 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16}
}

type HasherConfig struct {
	Argon2 Argon2Params `mapstructure:"argon2"`
	// Pepper is hex encoded. Empty disables peppering.
	Pepper        string `mapstructure:"pepper"`
	PepperVersion int    `mapstructure:"pepper_version"`
	// PreviousPeppers lists "version:hex" pairs, comma separated, that are
	// still accepted for verification.
	PreviousPeppers string `mapstructure:"previous_peppers"`
}

var (
	ErrMalformedHash   = errors.New("malformed password hash")
	ErrUnknownPepper   = errors.New("unknown pepper version")
	ErrUnsupportedHash = errors.New("unsupported password hash")
)

type Hasher struct {
	params  Argon2Params
	version int
	peppers map[int][]byte
	dummy   string
}

func NewHasher(cfg HasherConfig, log *zap.Logger) (*Hasher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hasher{
		params:  cfg.Argon2,
		version: cfg.PepperVersion,
		peppers: make(map[int][]byte),
	}
	d := DefaultArgon2Params()
	if h.params.Time == 0 {
		h.params.Time = d.Time
	}
	if h.params.MemoryKiB == 0 {
		h.params.MemoryKiB = d.MemoryKiB
	}
	if h.params.Threads == 0 {
		h.params.Threads = d.Threads
	}
	if h.params.KeyLen < 16 {
		h.params.KeyLen = d.KeyLen
	}
	if h.params.SaltLen < 16 {
		h.params.SaltLen = d.SaltLen
	}
	if h.version <= 0 {
		h.version = 1
	}

	if cfg.Pepper != "" {
		p, err := hex.DecodeString(cfg.Pepper)
		if err != nil {
			return nil, fmt.Errorf("decode pepper: %w", err)
		}
		h.peppers[h.version] = p
	} else {
		log.Warn("no password pepper configured")
	}
	for _, entry := range strings.Split(cfg.PreviousPeppers, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		v, p, ok := strings.Cut(entry, ":")
		ver, err := strconv.Atoi(strings.TrimSpace(v))
		if !ok || err != nil {
			log.Warn("skipping malformed previous pepper")
			continue
		}
		b, err := hex.DecodeString(strings.TrimSpace(p))
		if err != nil {
			log.Warn("skipping malformed previous pepper", zap.Int("version", ver))
			continue
		}
		h.peppers[ver] = b
	}

	dummy, err := h.Hash("timing-equalisation-password")
	if err != nil {
		return nil, err
	}
	h.dummy = dummy
	return h, nil
}

func (h *Hasher) Hash(plain string) (string, error) {
	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	keyed, err := h.keyed(plain, h.version)
	if err != nil {
		return "", err
	}
	sum := argon2.IDKey(keyed, salt, h.params.Time, h.params.MemoryKiB, h.params.Threads, h.params.KeyLen)
	return fmt.Sprintf("v%d$$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		h.version, argon2.Version,
		h.params.MemoryKiB, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// Verify never returns early on malformed input: it burns a dummy
// verification so every failure costs about the same.
func (h *Hasher) Verify(plain, encoded string) bool {
	ok, err := h.verify(plain, encoded)
	if err != nil {
		h.DummyVerify(plain)
		return false
	}
	return ok
}

// DummyVerify spends the cost of a real verification. Login calls it when
// the account does not exist.
func (h *Hasher) DummyVerify(plain string) {
	_, _ = h.verify(plain, h.dummy)
}

// NeedsRehash reports whether a hash predates the current pepper or
// parameters.
func (h *Hasher) NeedsRehash(encoded string) bool {
	if isBcrypt(encoded) {
		return true
	}
	ver, phc, err := splitVersion(encoded)
	if err != nil {
		return false
	}
	if ver != h.version {
		return true
	}
	p, _, _, err := decodePHC(phc)
	if err != nil {
		return false
	}
	return p.Time != h.params.Time || p.MemoryKiB != h.params.MemoryKiB || p.Threads != h.params.Threads
}

func (h *Hasher) verify(plain, encoded string) (bool, error) {
	if isBcrypt(encoded) {
		return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plain)) == nil, nil
	}
	ver, phc, err := splitVersion(encoded)
	if err != nil {
		return false, err
	}
	p, salt, want, err := decodePHC(phc)
	if err != nil {
		return false, err
	}
	keyed, err := h.keyed(plain, ver)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey(keyed, salt, p.Time, p.MemoryKiB, p.Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

func (h *Hasher) keyed(plain string, version int) ([]byte, error) {
	pepper, ok := h.peppers[version]
	if !ok {
		if len(h.peppers) == 0 {
			return []byte(plain), nil
		}
		return nil, fmt.Errorf("%w: v%d", ErrUnknownPepper, version)
	}
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(plain))
	return mac.Sum(nil), nil
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") || strings.HasPrefix(encoded, "$2b$") || strings.HasPrefix(encoded, "$2y$")
}

// splitVersion separates "v<n>$" from the PHC string. Unversioned argon2id
// hashes are treated as version 1.
func splitVersion(encoded string) (int, string, error) {
	if strings.HasPrefix(encoded, "$argon2id$") {
		return 1, encoded, nil
	}
	if !strings.HasPrefix(encoded, "v") {
		return 0, "", ErrUnsupportedHash
	}
	v, rest, ok := strings.Cut(encoded[1:], "$")
	if !ok {
		return 0, "", ErrMalformedHash
	}
	ver, err := strconv.Atoi(v)
	if err != nil {
		return 0, "", ErrMalformedHash
	}
	return ver, rest, nil
}

func decodePHC(encoded string) (p Argon2Params, salt, hash []byte, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return p, nil, nil, ErrMalformedHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, ErrMalformedHash
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.MemoryKiB, &p.Time, &p.Threads); err != nil {
		return p, nil, nil, ErrMalformedHash
	}
	if salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return p, nil, nil, ErrMalformedHash
	}
	if hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(hash) == 0 {
		return p, nil, nil, ErrMalformedHash
	}
	return p, salt, hash, nil
}

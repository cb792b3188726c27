package password

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// Cheap parameters keep the suite fast; production defaults are tested
// through DefaultArgon2Params only.
var fastArgon = Argon2Params{Time: 1, MemoryKiB: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

func newHasher(t *testing.T, cfg HasherConfig) *Hasher {
	t.Helper()
	if cfg.Argon2 == (Argon2Params{}) {
		cfg.Argon2 = fastArgon
	}
	h, err := NewHasher(cfg, nil)
	require.NoError(t, err)
	return h
}

func TestHasher_RoundTrip(t *testing.T) {
	h := newHasher(t, HasherConfig{Pepper: "00112233445566778899aabbccddeeff", PepperVersion: 2})

	enc, err := h.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(enc, "v2$$argon2id$v=19$m=1024,t=1,p=1$"))

	assert.True(t, h.Verify("correct horse battery staple", enc))
	assert.False(t, h.Verify("correct horse battery stapler", enc))

	again, err := h.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, enc, again, "salted")
}

func TestHasher_PepperMatters(t *testing.T) {
	a := newHasher(t, HasherConfig{Pepper: "aa"})
	b := newHasher(t, HasherConfig{Pepper: "bb"})

	enc, err := a.Hash("shared secret phrase")
	require.NoError(t, err)
	assert.False(t, b.Verify("shared secret phrase", enc))
}

func TestHasher_PepperRotation(t *testing.T) {
	old := newHasher(t, HasherConfig{Pepper: "0a0a", PepperVersion: 1})
	enc, err := old.Hash("rotating pepper value")
	require.NoError(t, err)

	cur := newHasher(t, HasherConfig{Pepper: "0b0b", PepperVersion: 2, PreviousPeppers: "1:0a0a, bogus"})
	assert.True(t, cur.Verify("rotating pepper value", enc))
	assert.True(t, cur.NeedsRehash(enc))

	fresh, err := cur.Hash("rotating pepper value")
	require.NoError(t, err)
	assert.False(t, cur.NeedsRehash(fresh))

	noPrev := newHasher(t, HasherConfig{Pepper: "0b0b", PepperVersion: 2})
	assert.False(t, noPrev.Verify("rotating pepper value", enc))
}

func TestHasher_LegacyBcrypt(t *testing.T) {
	h := newHasher(t, HasherConfig{})
	legacy, err := bcrypt.GenerateFromPassword([]byte("imported password"), bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, h.Verify("imported password", string(legacy)))
	assert.False(t, h.Verify("other password!", string(legacy)))
	assert.True(t, h.NeedsRehash(string(legacy)))
}

func TestHasher_MalformedNeverVerifies(t *testing.T) {
	h := newHasher(t, HasherConfig{})
	for _, enc := range []string{"", "plaintext", "v1$", "v1$$argon2id$v=19$m=x$", "vX$$argon2id$v=19$m=1024,t=1,p=1$AA$AA"} {
		assert.False(t, h.Verify("anything at all", enc), enc)
	}
}

func TestHasher_ParameterChangeNeedsRehash(t *testing.T) {
	h := newHasher(t, HasherConfig{})
	enc, err := h.Hash("parameter upgrade test")
	require.NoError(t, err)

	stronger := newHasher(t, HasherConfig{Argon2: Argon2Params{Time: 2, MemoryKiB: 1024, Threads: 1}})
	assert.True(t, stronger.Verify("parameter upgrade test", enc))
	assert.True(t, stronger.NeedsRehash(enc))
}

func TestPolicy_Validate(t *testing.T) {
	p := DefaultPolicy()

	assert.NoError(t, p.Validate(strings.Repeat("a", 12)))
	assert.NoError(t, p.Validate(strings.Repeat("ж", 128)), "counted in runes")

	err := p.Validate("short")
	assert.ErrorIs(t, err, ErrPolicy)
	var pe *PolicyError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 5, pe.Length)
	assert.Contains(t, err.Error(), "at least 12")

	err = p.Validate(strings.Repeat("a", 129))
	assert.ErrorIs(t, err, ErrPolicy)
	assert.Contains(t, err.Error(), "at most 128")
}

// "password" has SHA-1 5BAA61E4C9B93F3F0682250B6CF8331B7EE68FD8.
const pwPrefix, pwSuffix = "5BAA6", "1E4C9B93F3F0682250B6CF8331B7EE68FD8"

func hibpServer(t *testing.T, handler http.HandlerFunc) *HIBPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := DefaultHIBPConfig()
	cfg.URL = srv.URL + "/range"
	cfg.Timeout = time.Second
	cfg.Retries = 1
	return NewHIBPClient(cfg, nil)
}

func TestHIBP_Compromised(t *testing.T) {
	var gotPath, gotPadding, gotUA string
	c := hibpServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotPadding, gotUA = r.URL.Path, r.Header.Get("Add-Padding"), r.Header.Get("User-Agent")
		fmt.Fprintf(w, "0018A45C4D1DEF81644B54AB7F969B88D65:1\r\n%s:3861493\r\nFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF:0\r\n", strings.ToLower(pwSuffix))
	})

	err := c.Check(context.Background(), "password")
	assert.ErrorIs(t, err, ErrCompromised)
	var ce *CompromisedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3861493, ce.Count)

	assert.Equal(t, "/range/"+pwPrefix, gotPath, "only the prefix is sent")
	assert.Equal(t, "true", gotPadding)
	assert.Equal(t, "Gatekeeper-Auth", gotUA)
}

func TestHIBP_NotFoundAndPadding(t *testing.T) {
	c := hibpServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "0018A45C4D1DEF81644B54AB7F969B88D65:2\r\n%s:0\r\n", pwSuffix)
	})
	assert.NoError(t, c.Check(context.Background(), "password"), "padding rows have count 0")
	assert.NoError(t, c.Check(context.Background(), "a much less common passphrase"))
}

func TestHIBP_RetriesThenBlocks(t *testing.T) {
	var calls atomic.Int32
	c := hibpServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := c.Check(context.Background(), "password")
	assert.ErrorIs(t, err, ErrBreachUnavailable)
	assert.EqualValues(t, 2, calls.Load())
}

func TestHIBP_RecoversOnRetry(t *testing.T) {
	var calls atomic.Int32
	c := hibpServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprintf(w, "%s:7\r\n", pwSuffix)
	})

	assert.ErrorIs(t, c.Check(context.Background(), "password"), ErrCompromised)
}

func TestHIBP_FailOpenWhenConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	cfg := DefaultHIBPConfig()
	cfg.URL = srv.URL
	cfg.Retries = 0
	cfg.BlockOnFailure = false

	assert.NoError(t, NewHIBPClient(cfg, nil).Check(context.Background(), "password"))
}

func TestHIBP_Disabled(t *testing.T) {
	cfg := DefaultHIBPConfig()
	cfg.Enabled = false
	cfg.URL = "http://127.0.0.1:1"
	assert.NoError(t, NewHIBPClient(cfg, nil).Check(context.Background(), "password"))
	assert.NoError(t, NopBreachChecker{}.Check(context.Background(), "password"))
}

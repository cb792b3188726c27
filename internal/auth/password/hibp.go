package password

import (
	"bufio"
	"context"
	"crypto/sha1" //nolint:gosec // mandated by the range API, not used for storage
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/NordCoder/Gatekeeper/internal/obs/retry"
)

var (
	ErrCompromised       = errors.New("password found in a known data breach")
	ErrBreachUnavailable = errors.New("password breach check unavailable")
)

// CompromisedError carries the breach count. It matches ErrCompromised.
type CompromisedError struct{ Count int }

func (e *CompromisedError) Error() string {
	return fmt.Sprintf("password found in %d known data breaches", e.Count)
}

func (e *CompromisedError) Is(target error) bool { return target == ErrCompromised }

type HIBPConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Retries        int           `mapstructure:"retries"`
	BlockOnFailure bool          `mapstructure:"block_on_failure"`
	UserAgent      string        `mapstructure:"user_agent"`
}

func DefaultHIBPConfig() HIBPConfig {
	return HIBPConfig{
		Enabled:        true,
		URL:            "https://api.pwnedpasswords.com/range/",
		Timeout:        3 * time.Second,
		Retries:        2,
		BlockOnFailure: true,
		UserAgent:      "Gatekeeper-Auth",
	}
}

// HIBPClient checks passwords against the Pwned Passwords range API. Only
// the first five hex characters of the SHA-1 leave the process.
type HIBPClient struct {
	cfg  HIBPConfig
	http *http.Client
	log  *zap.Logger
}

func NewHIBPClient(cfg HIBPConfig, log *zap.Logger) *HIBPClient {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.URL == "" {
		cfg.URL = DefaultHIBPConfig().URL
	}
	if !strings.HasSuffix(cfg.URL, "/") {
		cfg.URL += "/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHIBPConfig().Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultHIBPConfig().UserAgent
	}
	return &HIBPClient{
		cfg:  cfg,
		http: newHTTPClient(cfg.Timeout),
		log:  log.With(zap.String("component", "hibp")),
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: time.Second,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Check returns nil, a *CompromisedError, or ErrBreachUnavailable when the
// API cannot be reached and BlockOnFailure is set.
func (c *HIBPClient) Check(ctx context.Context, plain string) error {
	if !c.cfg.Enabled || plain == "" {
		return nil
	}
	sum := sha1.Sum([]byte(plain)) //nolint:gosec
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := digest[:5], digest[5:]

	var body string
	err := retry.Do(ctx, func() error {
		var err error
		body, err = c.fetch(ctx, prefix)
		return err
	}, retry.HTTPPolicy("hibp", c.cfg.Retries, func(err error) bool {
		return !errors.Is(err, context.Canceled)
	}))
	if err != nil {
		c.log.Error("breach check failed", zap.Error(err))
		if c.cfg.BlockOnFailure {
			return fmt.Errorf("%w: %v", ErrBreachUnavailable, err)
		}
		c.log.Warn("breach check skipped", zap.Bool("block_on_failure", false))
		return nil
	}

	if n := breachCount(body, suffix); n > 0 {
		c.log.Warn("password found in breach corpus", zap.Int("count", n))
		return &CompromisedError{Count: n}
	}
	return nil
}

func (c *HIBPClient) fetch(ctx context.Context, prefix string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+prefix, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Add-Padding", "true")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("range api status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read range body: %w", err)
	}
	return string(b), nil
}

// breachCount scans "SUFFIX:COUNT" lines. Padding entries have count 0.
func breachCount(body, suffix string) int {
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		s, count, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(s), suffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(count))
		if err != nil {
			return 1
		}
		return n
	}
	return 0
}

// NopBreachChecker accepts every password.
type NopBreachChecker struct{}

func (NopBreachChecker) Check(context.Context, string) error { return nil }

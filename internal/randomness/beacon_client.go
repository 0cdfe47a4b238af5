package randomness

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultMaxRespBytes = 1 << 16

// BeaconClient draws from an HTTP randomness beacon exposing
// GET /v1/beacon/latest. The beacon reports whether it could verify the
// round signature; that flag is passed through unchanged as Sample.Secure.
type BeaconClient struct {
	baseURL      *url.URL
	hc           *http.Client
	maxRespBytes int64
}

type BeaconOption func(*BeaconClient) error

func WithHTTPClient(hc *http.Client) BeaconOption {
	return func(c *BeaconClient) error {
		if hc == nil {
			return fmt.Errorf("%w: nil http client", ErrInvalidConfig)
		}
		c.hc = hc
		return nil
	}
}

func NewBeaconClient(baseURL string, opts ...BeaconOption) (*BeaconClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("%w: missing base url", ErrInvalidConfig)
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse base url: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidConfig, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidConfig)
	}

	c := &BeaconClient{
		baseURL:      u,
		hc:           &http.Client{Timeout: 30 * time.Second},
		maxRespBytes: defaultMaxRespBytes,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *BeaconClient) Draw(ctx context.Context) (Sample, error) {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/beacon/latest"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Sample{}, fmt.Errorf("randomness: build request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return Sample{}, fmt.Errorf("randomness: fetch beacon: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxRespBytes))
	if err != nil {
		return Sample{}, fmt.Errorf("randomness: read beacon response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Sample{}, fmt.Errorf("randomness: beacon status %d", resp.StatusCode)
	}

	var raw struct {
		Round      uint64 `json:"round"`
		Value      string `json:"value"`
		Secure     bool   `json:"secure"`
		ObservedAt string `json:"observed_at"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Sample{}, fmt.Errorf("randomness: decode beacon response: %w", err)
	}

	value, err := decodeValue(raw.Value)
	if err != nil {
		return Sample{}, err
	}
	observedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(raw.ObservedAt))
	if err != nil {
		return Sample{}, fmt.Errorf("randomness: invalid observed_at: %w", err)
	}

	return Sample{
		Value:      value,
		Secure:     raw.Secure,
		ObservedAt: observedAt.UTC(),
	}, nil
}

func decodeValue(v string) (*big.Int, error) {
	s := strings.TrimSpace(strings.TrimPrefix(v, "0x"))
	if s == "" {
		return nil, fmt.Errorf("randomness: empty beacon value")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("randomness: invalid beacon value hex: %w", err)
	}
	return new(big.Int).SetBytes(b), nil
}

package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Nominatim defaults.
const (
	DefaultEndpoint  = "https://nominatim.openstreetmap.org/search"
	DefaultUserAgent = "ProspectFlow/1.0"
	DefaultTimeout   = 10 * time.Second
)

// NominatimConfig describes a NominatimClient.
type NominatimConfig struct {
	Endpoint   string
	UserAgent  string
	Timeout    time.Duration
	Gate       Gate
	HTTPClient *http.Client
}

// NominatimClient looks addresses up through the Nominatim search API.
type NominatimClient struct {
	endpoint   string
	userAgent  string
	timeout    time.Duration
	gate       Gate
	httpClient *http.Client
}

// NewNominatimClient applies defaults and constructs a client.
func NewNominatimClient(cfg NominatimConfig) (*NominatimClient, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("geocoding: invalid endpoint: %w", err)
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	gate := cfg.Gate
	if gate == nil {
		gate = SharedGate()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &NominatimClient{
		endpoint:   endpoint,
		userAgent:  userAgent,
		timeout:    timeout,
		gate:       gate,
		httpClient: httpClient,
	}, nil
}

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Lookup returns the first match for address, or nil when there is none.
func (c *NominatimClient) Lookup(ctx context.Context, address string) (*Match, error) {
	if err := c.gate.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := url.Values{}
	query.Set("q", strings.TrimSpace(address))
	query.Set("format", "json")
	query.Set("limit", "1")
	query.Set("addressdetails", "0")
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("User-Agent", c.userAgent)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil, fmt.Errorf("geocoding: unexpected status %d", response.StatusCode)
	}

	var places []nominatimPlace
	if err := json.NewDecoder(response.Body).Decode(&places); err != nil {
		return nil, fmt.Errorf("geocoding: decode response: %w", err)
	}
	if len(places) == 0 {
		return nil, nil
	}
	latitude, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("geocoding: parse latitude: %w", err)
	}
	longitude, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("geocoding: parse longitude: %w", err)
	}
	return &Match{Latitude: latitude, Longitude: longitude, DisplayName: places[0].DisplayName}, nil
}

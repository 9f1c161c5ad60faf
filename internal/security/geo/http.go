package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// HTTPResolver queries an ip-api.com style JSON endpoint. Lookups are
// bounded by a short timeout so a slow upstream cannot stall logins.
type HTTPResolver struct {
	baseURL string
	client  *http.Client
}

const defaultLookupTimeout = 3 * time.Second

// NewHTTPResolver builds a resolver against baseURL. The IP is appended
// as a path segment, e.g. baseURL "http://ip-api.com/json" resolves
// 1.2.3.4 via "http://ip-api.com/json/1.2.3.4".
func NewHTTPResolver(baseURL string) *HTTPResolver {
	return &HTTPResolver{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultLookupTimeout},
	}
}

type lookupResponse struct {
	Status      string  `json:"status"`
	City        string  `json:"city"`
	CountryCode string  `json:"countryCode"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
}

func (r *HTTPResolver) Resolve(ctx context.Context, ip string) (Location, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsUnspecified() {
		return Location{}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		r.baseURL+"/"+url.PathEscape(ip), nil)
	if err != nil {
		return Location{}, fmt.Errorf("geo: build request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("geo: lookup %s: %w", ip, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("geo: lookup %s: unexpected status %d", ip, resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("geo: decode response: %w", err)
	}
	if body.Status != "success" {
		// The upstream answers 200 with status "fail" for reserved
		// ranges and unknown addresses.
		return Location{}, nil
	}

	loc := Location{
		Country:        body.CountryCode,
		Latitude:       body.Lat,
		Longitude:      body.Lon,
		HasCoordinates: body.Lat != 0 || body.Lon != 0,
	}
	switch {
	case body.City != "" && body.CountryCode != "":
		loc.Label = body.City + ", " + body.CountryCode
	case body.City != "":
		loc.Label = body.City
	default:
		loc.Label = body.CountryCode
	}
	return loc, nil
}

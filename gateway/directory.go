package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/stephnangue/lessor/lease"
	"github.com/stephnangue/lessor/logger"
)

// HTTPDirectory resolves relay details from a relay-directory service
// over HTTP. Lookups are retried with backoff; a relay the directory
// does not know is not retried.
type HTTPDirectory struct {
	baseURL string
	token   string
	client  *retryablehttp.Client
}

// NewHTTPDirectory creates a directory client for the service at baseURL,
// authenticating with the given bearer token.
func NewHTTPDirectory(baseURL, token string, log logger.Logger) *HTTPDirectory {
	client := retryablehttp.NewClient()
	client.HTTPClient = cleanhttp.DefaultPooledClient()
	client.RetryMax = 3
	client.Logger = logger.NewHCLogAdapter(log.WithSubsystem("relay_directory"))

	return &HTTPDirectory{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

// ResolveRelay fetches the details for relayID from the directory
func (d *HTTPDirectory) ResolveRelay(ctx context.Context, relayID string) (*RelayDetails, error) {
	if relayID == "" {
		return nil, fmt.Errorf("%w: relay id is required", lease.ErrGateway)
	}

	endpoint := fmt.Sprintf("%s/v1/relays/%s", d.baseURL, url.PathEscape(relayID))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lease.ErrGateway, err)
	}
	req.Header.Set("Authorization", "Bearer "+d.token)
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: relay directory unreachable: %v", lease.ErrGateway, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: relay %q not found", lease.ErrGateway, relayID)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: relay directory returned %d: %s", lease.ErrGateway, resp.StatusCode, string(body))
	}

	var details RelayDetails
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("%w: invalid relay directory response: %v", lease.ErrGateway, err)
	}

	if details.RelayAddress == "" {
		return nil, fmt.Errorf("%w: relay directory returned no relay address", lease.ErrGateway)
	}

	return &details, nil
}

package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/txsvc/apikit/config"
	"github.com/txsvc/apikit/settings"
	"github.com/txsvc/stdlib/v2"
)

const (
	// format error messages
	MsgStatus = "%s. status: %d"

	CellularBridgeEndpoint = "CELLULAR_BRIDGE_ENDPOINT"
	CellularBridgeUser     = "CELLULAR_BRIDGE_USER"
	CellularBridgeToken    = "CELLULAR_BRIDGE_TOKEN"
	CellularBridgeMaxBody  = "CELLULAR_BRIDGE_MAX_BODY"

	CellularBridgeApiAgent = "otaengine/cellular"

	// DefaultMaxBodySize is the largest response the modem bridge hands over
	// in one exchange.
	DefaultMaxBodySize = 65536
)

var (
	// ErrApiInvocationError indicates an error in an API call
	ErrApiInvocationError = errors.New("api invocation error")

	// ErrResponseTooLarge indicates a body above the bridge's ceiling
	ErrResponseTooLarge = errors.New("response exceeds bridge limit")
)

// RestClient - bounded request/response client for the cellular modem bridge
type (
	RestClient struct {
		HttpClient  *http.Client
		Settings    *settings.DialSettings
		Trace       string
		MaxBodySize int64
	}
)

func NewRestClient(ctx context.Context, opts ...ClientOption) (*RestClient, error) {
	ds := &settings.DialSettings{
		Endpoint:  stdlib.GetString(CellularBridgeEndpoint, ""),
		UserAgent: CellularBridgeApiAgent,
		Credentials: &settings.Credentials{
			UserID: stdlib.GetString(CellularBridgeUser, ""),
			Token:  stdlib.GetString(CellularBridgeToken, ""),
		},
	}

	// apply options
	for _, opt := range opts {
		opt.Apply(ds)
	}
	if ds.Credentials == nil {
		ds.Credentials = &settings.Credentials{} // just provide something to prevent NPEs further down
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if ds.Endpoint != "" {
		proxy, err := url.Parse(ds.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid bridge endpoint '%s': %w", ds.Endpoint, err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	return &RestClient{
		HttpClient:  NewLoggingTransport(transport),
		Settings:    ds,
		Trace:       stdlib.GetString(config.ForceTraceENV, ""),
		MaxBodySize: stdlib.GetInt(CellularBridgeMaxBody, DefaultMaxBodySize),
	}, nil
}

// HTTPGet performs one bounded GET. Any status is returned without error,
// only a failed exchange or an oversized body is an error.
func (c *RestClient) HTTPGet(ctx context.Context, uri string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return http.StatusBadRequest, nil, err
	}

	return c.roundTrip(req)
}

func (c *RestClient) roundTrip(req *http.Request) (int, []byte, error) {

	req.Header.Set("User-Agent", c.Settings.UserAgent)

	if c.Settings.Credentials.UserID != "" && c.Settings.Credentials.Token != "" {
		req.SetBasicAuth(c.Settings.Credentials.UserID, c.Settings.Credentials.Token)
	} else if c.Settings.Credentials.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Settings.Credentials.Token)
	}
	if c.Trace != "" {
		req.Header.Set("X-Request-ID", XID())    // e.g ch3oncmfosvp07shov90
		req.Header.Set("X-Force-Trace", c.Trace) // a predefined value in order to e.g. grep in logs
	}

	// perform the request
	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrApiInvocationError, err)
	}
	defer resp.Body.Close()

	limit := c.MaxBodySize
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf(MsgStatus, err.Error(), resp.StatusCode)
	}
	if int64(len(data)) > limit {
		return resp.StatusCode, nil, ErrResponseTooLarge
	}

	return resp.StatusCode, data, nil
}

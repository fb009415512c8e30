package internal

import (
	"github.com/txsvc/apikit/settings"
)

type ClientOption interface {
	Apply(ds *settings.DialSettings)
}

// WithEndpoint returns a ClientOption that routes all requests through the
// given bridge endpoint, e.g. the modem's HTTP proxy.
func WithEndpoint(url string) ClientOption {
	return withEndpoint(url)
}

type withEndpoint string

func (w withEndpoint) Apply(ds *settings.DialSettings) {
	ds.Endpoint = string(w)
}

// WithCredentials returns a ClientOption that overrides the default credentials used for a service.
func WithCredentials(userid, token string) ClientOption {
	return withCredentials{
		userID: userid,
		token:  token,
	}
}

type withCredentials struct {
	userID string
	token  string
}

func (w withCredentials) Apply(ds *settings.DialSettings) {
	if ds.Credentials == nil {
		ds.Credentials = &settings.Credentials{}
	}
	ds.Credentials.UserID = w.userID
	ds.Credentials.Token = w.token
}

// WithUserAgent returns a ClientOption that overrides the User-Agent header.
func WithUserAgent(agent string) ClientOption {
	return withUserAgent(agent)
}

type withUserAgent string

func (w withUserAgent) Apply(ds *settings.DialSettings) {
	ds.UserAgent = string(w)
}

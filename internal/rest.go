package internal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PuerkitoBio/rehttp"
	"github.com/rs/zerolog/log"
)

type (
	LoggingTransport struct {
		InnerTransport http.RoundTripper
	}

	contextKey struct {
		name string
	}
)

var (
	ctxKeyRequestStart = &contextKey{"RequestStart"}
)

// NewLoggingTransport returns a client that retries temporary errors and
// 502/503 responses and logs every exchange at debug level. No overall
// timeout is set, response bodies may be long lived image streams.
func NewLoggingTransport(transport http.RoundTripper) *http.Client {
	retryTransport := rehttp.NewTransport(
		transport,
		rehttp.RetryAll(
			rehttp.RetryMaxRetries(3),
			rehttp.RetryAny(
				rehttp.RetryTemporaryErr(),
				rehttp.RetryStatuses(502, 503),
			),
		),
		rehttp.ExpJitterDelay(100*time.Millisecond, 1*time.Second),
	)

	return &http.Client{
		Transport: &LoggingTransport{
			InnerTransport: retryTransport,
		},
	}
}

// RoundTrip logs the request and the response status if the log level is
// debug or trace. Response bodies are left untouched.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {

	xreqid := XID()

	if log.Debug().Enabled() {
		req = req.WithContext(context.WithValue(req.Context(), ctxKeyRequestStart, time.Now()))
		t.logRequest(req, xreqid)
	}

	resp, err := t.InnerTransport.RoundTrip(req)
	if err != nil {
		log.Debug().Err(err).Str("r", req.URL.RequestURI()).Str("uid", xreqid).Msg("RESP")
		return resp, err
	}

	if log.Debug().Enabled() {
		t.logResponse(resp, xreqid)
	}

	return resp, err
}

func (t *LoggingTransport) logRequest(req *http.Request, reqid string) {

	if req.Body == nil {
		log.Debug().Str("m", req.Method).Str("r", req.URL.RequestURI()).Str("uid", reqid).Msg("REQ")
		return
	}

	defer req.Body.Close()

	data, err := io.ReadAll(req.Body)

	if err != nil {
		log.Error().Err(err).Str("uid", reqid).Msg(err.Error())
	} else {
		if log.Trace().Enabled() {
			log.Trace().Str("m", req.Method).Str("r", req.URL.RequestURI()).Bytes("body", data).Str("uid", reqid).Msg("REQ")
		} else {
			log.Debug().Str("m", req.Method).Str("r", req.URL.RequestURI()).Str("uid", reqid).Msg("REQ")
		}
	}

	req.Body = io.NopCloser(bytes.NewReader(data))
}

func (t *LoggingTransport) logResponse(resp *http.Response, reqid string) {
	ctx := resp.Request.Context()

	if start, ok := ctx.Value(ctxKeyRequestStart).(time.Time); ok {
		log.Debug().Str("r", resp.Request.URL.RequestURI()).Int("status", resp.StatusCode).Int64("len", resp.ContentLength).Str("d", fmt.Sprintf("%s", Duration(time.Since(start), 2))).Str("uid", reqid).Msg("RESP")
	} else {
		log.Debug().Str("r", resp.Request.URL.RequestURI()).Int("status", resp.StatusCode).Int64("len", resp.ContentLength).Str("uid", reqid).Msg("RESP")
	}
}

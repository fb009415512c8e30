package internal

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRestClient(t *testing.T) {

	cl, err := NewRestClient(context.TODO())
	assert.NotNil(t, cl)
	assert.NoError(t, err)

	if cl != nil {
		assert.NotNil(t, cl.HttpClient)
		assert.NotNil(t, cl.Settings)
		assert.NotNil(t, cl.Settings.Credentials)

		assert.Equal(t, CellularBridgeApiAgent, cl.Settings.UserAgent)
		assert.Equal(t, int64(DefaultMaxBodySize), cl.MaxBodySize)
	}
}

func TestNewRestClientWithOptions(t *testing.T) {

	cl, err := NewRestClient(context.TODO(), WithEndpoint("http://modem.local:8080"), WithCredentials("foo", "bar"), WithUserAgent("agent"))
	assert.NotNil(t, cl)
	assert.NoError(t, err)

	assert.NotNil(t, cl.HttpClient)
	assert.NotNil(t, cl.Settings)
	assert.NotNil(t, cl.Settings.Credentials)

	assert.Equal(t, "foo", cl.Settings.Credentials.UserID)
	assert.Equal(t, "bar", cl.Settings.Credentials.Token)
	assert.Equal(t, "agent", cl.Settings.UserAgent)
	assert.Equal(t, "http://modem.local:8080", cl.Settings.Endpoint)
}

func TestNewRestClientInvalidEndpoint(t *testing.T) {
	cl, err := NewRestClient(context.TODO(), WithEndpoint("://nope"))
	assert.Nil(t, cl)
	assert.Error(t, err)
}

func TestHTTPGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("case") {
		case "ok":
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "foo", user)
			assert.Equal(t, "bar", pass)
			w.Write([]byte("firmware"))
		case "notmodified":
			w.WriteHeader(http.StatusNotModified)
		case "large":
			w.Write(bytes.Repeat([]byte{0xaa}, 129))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	cl, err := NewRestClient(context.TODO(), WithCredentials("foo", "bar"))
	assert.NoError(t, err)
	cl.MaxBodySize = 128

	status, body, err := cl.HTTPGet(context.TODO(), srv.URL+"/?case=ok")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []byte("firmware"), body)

	status, body, err = cl.HTTPGet(context.TODO(), srv.URL+"/?case=notmodified")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusNotModified, status)
	assert.Empty(t, body)

	status, _, err = cl.HTTPGet(context.TODO(), srv.URL+"/?case=other")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, status)

	_, _, err = cl.HTTPGet(context.TODO(), srv.URL+"/?case=large")
	assert.ErrorIs(t, err, ErrResponseTooLarge)
}

func TestHTTPGetFailedExchange(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cl, err := NewRestClient(context.TODO())
	assert.NoError(t, err)

	_, _, err = cl.HTTPGet(context.TODO(), url)
	assert.ErrorIs(t, err, ErrApiInvocationError)
}

func TestGetBool(t *testing.T) {
	os.Setenv("otaengine_test_bool", "Yes")
	defer os.Unsetenv("otaengine_test_bool")

	assert.True(t, GetBool("otaengine_test_bool", false))
	assert.False(t, GetBool("otaengine_test_missing", false))
	assert.True(t, GetBool("otaengine_test_missing", true))
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "ota/84fce612f5b8/command", CommandTopicFor("84fce612f5b8"))
	assert.Equal(t, "ota/84fce612f5b8/events", EventTopicFor("84fce612f5b8"))

	evt := UpdateEvent{Serial: "84fce612f5b8", Result: "in_progress", Message: "42"}
	assert.Equal(t, "84fce612f5b8: in_progress (42)", evt.String())
}

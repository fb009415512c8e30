package simulator

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	serial  = "84fce612f5b8"
	version = "3.1.2"
)

func get(t *testing.T, url string) (int, []byte, int64) {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body, resp.ContentLength
}

func TestFirmwareEndpoint(t *testing.T) {
	image := bytes.Repeat([]byte{1, 2, 3, 4, 5}, 2000)
	sim := New(version, image)
	srv := httptest.NewServer(sim.Echo())
	defer srv.Close()

	status, body, length := get(t, srv.URL+"/sensors/airgradient:"+serial+"/generic/os/firmware.bin?current_firmware=3.1.1")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, image, body)
	assert.Equal(t, int64(len(image)), length)

	status, _, _ = get(t, srv.URL+"/sensors/"+serial+"/max/firmware.bin?current_firmware="+version)
	assert.Equal(t, http.StatusNotModified, status)

	assert.Equal(t, 2, sim.Requests())
}

func TestChunks(t *testing.T) {
	image := bytes.Repeat([]byte{0xaa}, 2500)
	srv := httptest.NewServer(New(version, image).Echo())
	defer srv.Close()

	base := srv.URL + "/sensors/" + serial + "/max/firmware.bin?current_firmware=3.1.1"

	status, body, _ := get(t, base+"&offset=0&length=0&iccid=8988")
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, body)

	status, body, _ = get(t, base+"&offset=0&length=1000")
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body, 1000)

	status, body, _ = get(t, base+"&offset=2000&length=1000")
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body, 500)

	status, _, _ = get(t, base+"&offset=3000&length=1000")
	assert.Equal(t, http.StatusNoContent, status)

	status, _, _ = get(t, base+"&offset=x&length=1000")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestBlocked(t *testing.T) {
	sim := New(version, []byte("image"))
	sim.Block(serial)
	srv := httptest.NewServer(sim.Echo())
	defer srv.Close()

	status, _, _ := get(t, srv.URL+"/sensors/"+serial+"/max/firmware.bin?current_firmware=3.1.1")
	assert.Equal(t, http.StatusBadRequest, status)
}

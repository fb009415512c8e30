// Package simulator serves firmware images the way the update server does,
// for local runs of the device CLI and for end-to-end tests.
package simulator

import (
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
)

const (
	contentTypeFirmware = "application/octet-stream"
)

type (
	// Server holds the single image offered to every device.
	Server struct {
		mu      sync.Mutex
		version string
		image   []byte
		blocked map[string]bool

		requests int
	}
)

func New(version string, image []byte) *Server {
	return &Server{
		version: version,
		image:   image,
		blocked: make(map[string]bool),
	}
}

// Block makes the server decline updates for serial.
func (s *Server) Block(serial string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked[serial] = true
}

// Requests returns the number of firmware requests served so far.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Echo returns the router, it is also a http.Handler.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())

	e.GET("/sensors/:sensor/generic/os/firmware.bin", s.firmwareEndpoint)
	e.GET("/sensors/:sensor/max/firmware.bin", s.firmwareEndpoint)

	return e
}

func (s *Server) firmwareEndpoint(c echo.Context) error {
	serial := strings.TrimPrefix(c.Param("sensor"), "airgradient:")
	current := c.QueryParam("current_firmware")

	s.mu.Lock()
	s.requests++
	blocked := s.blocked[serial]
	s.mu.Unlock()

	log.Debug().Str("serial", serial).Str("current", current).Str("q", c.QueryString()).Msg("firmware request")

	if serial == "" || blocked || len(s.image) == 0 {
		return c.NoContent(http.StatusBadRequest)
	}
	if current == s.version {
		return c.NoContent(http.StatusNotModified)
	}

	if c.QueryParam("offset") == "" {
		return s.stream(c)
	}
	return s.chunk(c)
}

func (s *Server) stream(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderContentLength, strconv.Itoa(len(s.image)))
	return c.Blob(http.StatusOK, contentTypeFirmware, s.image)
}

func (s *Server) chunk(c echo.Context) error {
	offset, err := strconv.Atoi(c.QueryParam("offset"))
	if err != nil || offset < 0 {
		return c.NoContent(http.StatusBadRequest)
	}
	length, err := strconv.Atoi(c.QueryParam("length"))
	if err != nil || length < 0 {
		return c.NoContent(http.StatusBadRequest)
	}

	// a zero length request only asks whether an image is available
	if length == 0 {
		return c.Blob(http.StatusOK, contentTypeFirmware, nil)
	}
	if offset >= len(s.image) {
		return c.NoContent(http.StatusNoContent)
	}

	end := offset + length
	if end > len(s.image) {
		end = len(s.image)
	}
	return c.Blob(http.StatusOK, contentTypeFirmware, s.image[offset:end])
}

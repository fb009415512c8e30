package ota

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultStreamBufferSize is the read window of the streaming source.
	DefaultStreamBufferSize = 1024

	// DefaultProgressInterval limits how often streaming progress is notified.
	DefaultProgressInterval = 250 * time.Millisecond
)

type (
	// StreamingSource downloads the image over one long lived HTTP response.
	// Used on Wi-Fi.
	StreamingSource struct {
		c      *Coordinator
		client *http.Client
		clock  Clock

		BufferSize       int
		ProgressInterval time.Duration

		resp *http.Response
	}
)

var _ strategy = (*StreamingSource)(nil)

// NewStreamingSource returns a source using client, http.DefaultClient if nil.
func NewStreamingSource(c *Coordinator, client *http.Client) *StreamingSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &StreamingSource{
		c:                c,
		client:           client,
		clock:            SystemClock,
		BufferSize:       DefaultStreamBufferSize,
		ProgressInterval: DefaultProgressInterval,
	}
}

// WithClock replaces the wall clock, mostly for tests.
func (s *StreamingSource) WithClock(clock Clock) *StreamingSource {
	s.clock = clock
	return s
}

// UpdateIfAvailable checks for a new image and installs it.
func (s *StreamingSource) UpdateIfAvailable(ctx context.Context, req UpdateRequest) Result {
	return s.c.run(ctx, s, req)
}

func (s *StreamingSource) name() string {
	return "streaming"
}

func (s *StreamingSource) announceEarly() bool {
	return false
}

func (s *StreamingSource) probe(ctx context.Context, req UpdateRequest) (int, error) {
	url := s.c.BuildURL(req)
	log.Info().Str("url", url).Msg("checking for firmware update")

	r, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := s.client.Do(r)
	if err != nil {
		return 0, fmt.Errorf("open http connection: %w", err)
	}
	s.resp = resp

	return resp.StatusCode, nil
}

func (s *StreamingSource) download(ctx context.Context) error {
	if s.resp == nil {
		return ErrNoSession
	}

	size := s.BufferSize
	if size <= 0 {
		size = DefaultStreamBufferSize
	}
	buf := make([]byte, size)

	total := s.resp.ContentLength
	log.Info().Int64("size", total).Msg("downloading image")

	last := s.clock.Now()
	for {
		n, err := s.resp.Body.Read(buf)
		if n > 0 {
			if werr := s.c.WriteChunk(buf[:n]); werr != nil {
				return werr
			}

			if now := s.clock.Now(); now.Sub(last) > s.ProgressInterval {
				if total > 0 {
					s.c.Notify(InProgress, strconv.Itoa(percent(s.c.Written(), total)))
				}
				last = now
			}
		}

		if errors.Is(err, io.EOF) {
			s.c.Notify(InProgress, "100")
			log.Info().Int64("written", s.c.Written()).Msg("download image binary complete, applying image")
			return nil
		}
		if err != nil {
			return fmt.Errorf("http data read: %w", err)
		}
	}
}

func (s *StreamingSource) release() {
	if s.resp == nil {
		return
	}
	io.Copy(io.Discard, io.LimitReader(s.resp.Body, 4096))
	s.resp.Body.Close()
	s.resp = nil
}

// percent is written*100/total clamped to [0,100].
func percent(written, total int64) int {
	if total <= 0 {
		return 0
	}
	p := written * 100 / total
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return int(p)
}

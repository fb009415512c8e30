package ota

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultChunkSize fits the modem bridge's practical transfer ceiling.
	DefaultChunkSize = 64000

	// DefaultAssumedImageSize is only used to estimate progress, the real
	// size cannot be learned over the cellular bridge.
	DefaultAssumedImageSize = 1400000

	// DefaultChunkDelay yields to other device duties between requests.
	DefaultChunkDelay = 10 * time.Millisecond

	// DefaultMaxEmptyRetries is the limit on consecutive empty 200 responses,
	// 0 retries the same offset forever.
	DefaultMaxEmptyRetries = 0

	// progressCeiling keeps estimated progress away from 100 until the
	// final chunk arrived.
	progressCeiling = 96
)

var (
	// ErrUnexpectedStatus is returned for a chunk response other than 200/204
	ErrUnexpectedStatus = errors.New("unexpected chunk status")

	// ErrEmptyResponses is returned when the server keeps answering 200 without a body
	ErrEmptyResponses = errors.New("too many empty chunk responses")

	// ErrOversizedChunk is returned when the server sends more than the requested length
	ErrOversizedChunk = errors.New("chunk exceeds requested length")
)

type (
	// CellularClient performs one bounded HTTP GET through the modem. An error
	// means the exchange did not complete, not an HTTP error status.
	CellularClient interface {
		HTTPGet(ctx context.Context, url string) (status int, body []byte, err error)
	}

	// Cursor is the byte offset of the next chunk. It never decreases within
	// an attempt.
	Cursor struct {
		offset int64
	}

	// ChunkedSource downloads the image with explicit offset/length requests.
	// Used on the cellular modem.
	ChunkedSource struct {
		c      *Coordinator
		cell   CellularClient
		iccid  string
		clock  Clock
		cursor Cursor

		ChunkSize        int
		AssumedImageSize int64
		ChunkDelay       time.Duration
		MaxEmptyRetries  int

		baseURL string
	}
)

var _ strategy = (*ChunkedSource)(nil)

func (cu *Cursor) Offset() int64 {
	return cu.offset
}

// Advance moves the cursor forward by n, negative values are ignored.
func (cu *Cursor) Advance(n int64) {
	if n > 0 {
		cu.offset += n
	}
}

func (cu *Cursor) Reset() {
	cu.offset = 0
}

func NewChunkedSource(c *Coordinator, cell CellularClient, iccid string) *ChunkedSource {
	return &ChunkedSource{
		c:                c,
		cell:             cell,
		iccid:            iccid,
		clock:            SystemClock,
		ChunkSize:        DefaultChunkSize,
		AssumedImageSize: DefaultAssumedImageSize,
		ChunkDelay:       DefaultChunkDelay,
		MaxEmptyRetries:  DefaultMaxEmptyRetries,
	}
}

// WithClock replaces the wall clock, mostly for tests.
func (s *ChunkedSource) WithClock(clock Clock) *ChunkedSource {
	s.clock = clock
	return s
}

// Offset returns the cursor position of the current or last attempt.
func (s *ChunkedSource) Offset() int64 {
	return s.cursor.Offset()
}

// UpdateIfAvailable checks for a new image and installs it.
func (s *ChunkedSource) UpdateIfAvailable(ctx context.Context, req UpdateRequest) Result {
	if s.cell == nil {
		log.Error().Msg("cellular client not initialized")
		return Skipped
	}
	log.Info().Msg("start update using cellular")

	return s.c.run(ctx, s, req)
}

func (s *ChunkedSource) name() string {
	return "chunked"
}

func (s *ChunkedSource) announceEarly() bool {
	return true
}

func (s *ChunkedSource) probe(ctx context.Context, req UpdateRequest) (int, error) {
	s.cursor.Reset()
	s.baseURL = s.c.BuildURL(req)

	// a zero length request only tells whether an image is available
	url := fmt.Sprintf("%s&offset=0&length=0&iccid=%s", s.baseURL, s.iccid)
	log.Info().Str("url", url).Msg("checking for firmware update")

	status, _, err := s.cell.HTTPGet(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("cellular http get: %w", err)
	}
	return status, nil
}

func (s *ChunkedSource) download(ctx context.Context) error {
	chunkSize := s.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	assumed := s.AssumedImageSize
	if assumed <= 0 {
		assumed = DefaultAssumedImageSize
	}

	s.c.Notify(InProgress, "0")

	start := s.clock.Now()
	defer func() {
		log.Info().Str("d", s.clock.Now().Sub(start).String()).Int64("offset", s.cursor.Offset()).Msg("chunked download finished")
	}()

	empty := 0
	for {
		url := s.chunkURL(chunkSize)
		log.Debug().Int64("offset", s.cursor.Offset()).Str("url", url).Msg("requesting chunk")

		status, body, err := s.cell.HTTPGet(ctx, url)
		if err != nil {
			opsChunkRequests.WithLabelValues("error").Inc()
			return fmt.Errorf("cellular http get: %w", err)
		}
		opsChunkRequests.WithLabelValues(strconv.Itoa(status)).Inc()

		switch status {
		case http.StatusOK:
			if len(body) == 0 {
				empty++
				log.Warn().Int("retry", empty).Int64("offset", s.cursor.Offset()).Msg("response ok but body empty")
				if s.MaxEmptyRetries > 0 && empty > s.MaxEmptyRetries {
					return ErrEmptyResponses
				}
				s.clock.Sleep(s.ChunkDelay)
				continue
			}
			empty = 0

			if len(body) > chunkSize {
				return fmt.Errorf("%w: %d > %d", ErrOversizedChunk, len(body), chunkSize)
			}
			if err := s.c.WriteChunk(body); err != nil {
				return err
			}

			if len(body) < chunkSize {
				log.Info().Int("size", len(body)).Msg("received remainder chunk, applying image")
				s.c.Notify(InProgress, "100")
				return nil
			}
		case http.StatusNoContent:
			log.Info().Msg("download image binary complete, applying image")
			s.c.Notify(InProgress, "100")
			return nil
		default:
			return fmt.Errorf("%w: %d", ErrUnexpectedStatus, status)
		}

		if p := percent(s.c.Written(), assumed); p < progressCeiling {
			s.c.Notify(InProgress, strconv.Itoa(p))
		}

		s.cursor.Advance(int64(chunkSize))
		s.clock.Sleep(s.ChunkDelay)
	}
}

func (s *ChunkedSource) release() {}

func (s *ChunkedSource) chunkURL(chunkSize int) string {
	return fmt.Sprintf("%s&offset=%d&length=%d", s.baseURL, s.cursor.Offset(), chunkSize)
}

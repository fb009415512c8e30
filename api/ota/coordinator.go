package ota

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

var (
	// ErrEmptyChunk is returned when a zero length chunk is written
	ErrEmptyChunk = errors.New("no data to write")

	// ErrNoSession indicates a write or commit without an open session
	ErrNoSession = errors.New("no open write session")

	// ErrSessionOpen indicates a second BeginWrite on the same coordinator
	ErrSessionOpen = errors.New("write session already open")
)

type (
	// Coordinator owns the partition write lifecycle and the notification
	// handler shared by the download strategies. It is not safe for
	// concurrent use.
	Coordinator struct {
		writer  PartitionWriter
		profile Profile
		handler Handler

		session *writeSession
		written int64
	}

	writeSession struct {
		handle  Handle
		written int64
	}

	// strategy is the transport specific part of an update attempt.
	strategy interface {
		name() string
		// probe asks the server for the image and returns the HTTP status.
		// An error means the exchange could not be completed at all.
		probe(ctx context.Context, req UpdateRequest) (int, error)
		// download feeds the image into the coordinator's open session.
		download(ctx context.Context) error
		// release frees the transport, it may be called more than once.
		release()
		// announceEarly reports Starting before the write session is opened
		// and Failed before it is abandoned.
		announceEarly() bool
	}
)

func NewCoordinator(writer PartitionWriter, profile Profile) *Coordinator {
	return &Coordinator{
		writer:  writer,
		profile: profile,
	}
}

// SetHandler registers fn for all notifications, replacing any previous
// handler. A nil fn removes it.
func (c *Coordinator) SetHandler(fn Handler) {
	c.handler = fn
}

func (c *Coordinator) Profile() Profile {
	return c.profile
}

func (c *Coordinator) BuildURL(req UpdateRequest) string {
	return c.profile.URL(req)
}

// Notify passes result and message to the registered handler, if any.
func (c *Coordinator) Notify(result Result, message string) {
	if c.handler != nil {
		c.handler(result, message)
	}
}

// Written returns the number of bytes written in the current or last session.
func (c *Coordinator) Written() int64 {
	if c.session != nil {
		return c.session.written
	}
	return c.written
}

// BeginWrite opens a write session on the spare partition.
func (c *Coordinator) BeginWrite() error {
	if c.session != nil {
		return ErrSessionOpen
	}

	h, err := c.writer.Begin()
	if err != nil {
		log.Error().Err(err).Msg("initiating partition write failed")
		return fmt.Errorf("begin partition write: %w", err)
	}

	c.session = &writeSession{handle: h}
	c.written = 0
	return nil
}

// WriteChunk forwards p to the partition writer.
func (c *Coordinator) WriteChunk(p []byte) error {
	if len(p) == 0 {
		log.Warn().Msg("no data to write")
		return ErrEmptyChunk
	}
	if c.session == nil {
		return ErrNoSession
	}

	if err := c.writer.Write(c.session.handle, p); err != nil {
		log.Warn().Err(err).Int("size", len(p)).Msg("partition write failed")
		return fmt.Errorf("partition write: %w", err)
	}

	c.session.written += int64(len(p))
	opsBytesWritten.Add(float64(len(p)))
	log.Trace().Int64("written", c.session.written).Msg("image written")

	return nil
}

// Commit finalizes the image and switches the boot target to it. The
// session is closed whatever the outcome.
func (c *Coordinator) Commit() error {
	if c.session == nil {
		return ErrNoSession
	}
	s := c.closeSession()

	log.Info().Int64("written", s.written).Msg("finishing partition write")

	if err := c.writer.Commit(s.handle); err != nil {
		log.Error().Err(err).Msg("partition commit failed, boot target unchanged")
		return fmt.Errorf("commit partition: %w", err)
	}

	log.Info().Msg("update successful, make sure to reboot")
	return nil
}

// Abandon discards the open session. Calling it without a session is a no-op.
func (c *Coordinator) Abandon() {
	if c.session == nil {
		log.Warn().Msg("abandon without open write session")
		return
	}
	s := c.closeSession()

	c.writer.Abandon(s.handle)
	log.Info().Int64("written", s.written).Msg("partition write aborted")
}

func (c *Coordinator) closeSession() *writeSession {
	s := c.session
	c.session = nil
	c.written = s.written
	return s
}

// run drives one update attempt through s and returns its terminal result.
func (c *Coordinator) run(ctx context.Context, s strategy, req UpdateRequest) Result {
	result := c.attempt(ctx, s, req)
	opsResults.WithLabelValues(s.name(), result.String()).Inc()
	return result
}

func (c *Coordinator) attempt(ctx context.Context, s strategy, req UpdateRequest) Result {
	defer s.release()

	status, err := s.probe(ctx, req)
	if err != nil {
		log.Error().Err(err).Str("strategy", s.name()).Msg("update probe failed")
		return Failed
	}

	switch status {
	case http.StatusOK:
	case http.StatusNotModified:
		log.Info().Str("version", req.CurrentVersion).Msg("firmware is already up to date")
		c.Notify(AlreadyUpToDate, "")
		return AlreadyUpToDate
	default:
		log.Warn().Int("status", status).Msg("firmware update skipped")
		c.Notify(Skipped, "")
		return Skipped
	}

	early := s.announceEarly()
	if early {
		c.Notify(Starting, "")
	}
	if err := c.BeginWrite(); err != nil {
		c.Notify(Failed, "")
		return Failed
	}
	if !early {
		c.Notify(Starting, "")
	}

	err = s.download(ctx)
	s.release()

	if err != nil {
		log.Error().Err(err).Str("strategy", s.name()).Int64("written", c.Written()).Msg("image download failed")
		if early {
			c.Notify(Failed, "")
			c.Abandon()
		} else {
			c.Abandon()
			c.Notify(Failed, "")
		}
		return Failed
	}

	if err := c.Commit(); err != nil {
		c.Notify(Failed, "")
		return Failed
	}

	c.Notify(Success, "")
	return Success
}

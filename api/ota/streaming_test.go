package ota

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newStreaming(w *fakeWriter, client *http.Client, clock *fakeClock) (*StreamingSource, *recorder) {
	rec := &recorder{}
	c := NewCoordinator(w, ProfileOneOpenAir)
	c.SetHandler(rec.handle)
	return NewStreamingSource(c, client).WithClock(clock), rec
}

func TestStreamingSuccess(t *testing.T) {
	w := &fakeWriter{}
	body := &scriptedBody{reads: []int{400, 400, 200}}
	clock := newFakeClock()
	clock.step = 200 * time.Millisecond

	s, rec := newStreaming(w, fakeHTTP(http.StatusOK, body, 1000), clock)

	result := s.UpdateIfAvailable(context.TODO(), NewUpdateRequest(serial, currentVersion, ""))
	assert.Equal(t, Success, result)

	assert.Equal(t, []int{400, 400, 200}, w.writes)
	assert.Equal(t, 1, w.commits)
	assert.Equal(t, 0, w.abandons)

	assert.Equal(t, Starting, rec.seen[0].result)
	assert.Equal(t, notification{InProgress, "100"}, rec.seen[len(rec.seen)-2])
	assert.Equal(t, notification{Success, ""}, rec.seen[len(rec.seen)-1])
	for _, p := range rec.progress() {
		assert.True(t, p >= 0 && p <= 100)
	}
}

func TestStreamingProgressRateLimit(t *testing.T) {
	w := &fakeWriter{}
	body := &scriptedBody{reads: []int{100, 100, 100, 100, 100, 100, 100, 100, 100, 100}}
	clock := newFakeClock()
	clock.step = 100 * time.Millisecond

	s, rec := newStreaming(w, fakeHTTP(http.StatusOK, body, 1000), clock)
	assert.Equal(t, Success, s.UpdateIfAvailable(context.TODO(), NewUpdateRequest(serial, currentVersion, "")))

	// one Now() per read, so a notification every third read at most
	progress := rec.progress()
	assert.Equal(t, []int{30, 60, 90, 100}, progress)
}

func TestStreamingUnknownLength(t *testing.T) {
	w := &fakeWriter{}
	body := &scriptedBody{reads: []int{500, 500}}
	clock := newFakeClock()
	clock.step = time.Second

	s, rec := newStreaming(w, fakeHTTP(http.StatusOK, body, -1), clock)
	assert.Equal(t, Success, s.UpdateIfAvailable(context.TODO(), NewUpdateRequest(serial, currentVersion, "")))

	assert.Equal(t, []int{100}, rec.progress())
}

func TestStreamingAlreadyUpToDate(t *testing.T) {
	w := &fakeWriter{}
	s, rec := newStreaming(w, fakeHTTP(http.StatusNotModified, nil, 0), newFakeClock())

	assert.Equal(t, AlreadyUpToDate, s.UpdateIfAvailable(context.TODO(), NewUpdateRequest(serial, currentVersion, "")))
	assert.Equal(t, 0, w.begins)
	assert.Empty(t, w.writes)
	assert.Equal(t, 0, w.closes())
	assert.Equal(t, []Result{AlreadyUpToDate}, rec.results())
}

func TestStreamingSkipped(t *testing.T) {
	w := &fakeWriter{}
	s, rec := newStreaming(w, fakeHTTP(http.StatusInternalServerError, nil, 0), newFakeClock())

	assert.Equal(t, Skipped, s.UpdateIfAvailable(context.TODO(), NewUpdateRequest(serial, currentVersion, "")))
	assert.Equal(t, 0, w.begins)
	assert.Equal(t, 0, w.closes())
	assert.Equal(t, []Result{Skipped}, rec.results())
}

func TestStreamingOpenFailure(t *testing.T) {
	w := &fakeWriter{}
	s, rec := newStreaming(w, failingHTTP(), newFakeClock())

	assert.Equal(t, Failed, s.UpdateIfAvailable(context.TODO(), NewUpdateRequest(serial, currentVersion, "")))
	assert.Equal(t, 0, w.begins)
	assert.Empty(t, rec.seen)
}

func TestStreamingBeginFailure(t *testing.T) {
	w := &fakeWriter{failBegin: true}
	body := &scriptedBody{reads: []int{400}}
	s, rec := newStreaming(w, fakeHTTP(http.StatusOK, body, 400), newFakeClock())

	assert.Equal(t, Failed, s.UpdateIfAvailable(context.TODO(), NewUpdateRequest(serial, currentVersion, "")))
	assert.Empty(t, w.writes)
	assert.Equal(t, 0, w.commits)
	assert.Equal(t, 0, w.abandons)
	assert.Equal(t, []Result{Failed}, rec.results())
}

func TestStreamingReadError(t *testing.T) {
	w := &fakeWriter{}
	body := &scriptedBody{reads: []int{400}, err: errors.New("connection reset")}
	s, rec := newStreaming(w, fakeHTTP(http.StatusOK, body, 1000), newFakeClock())

	assert.Equal(t, Failed, s.UpdateIfAvailable(context.TODO(), NewUpdateRequest(serial, currentVersion, "")))
	assert.Equal(t, []int{400}, w.writes)
	assert.Equal(t, 0, w.commits)
	assert.Equal(t, 1, w.abandons)
	assert.Equal(t, []Result{Failed}, rec.terminals())
}

func TestStreamingWriteFailure(t *testing.T) {
	w := &fakeWriter{failWrite: 2}
	body := &scriptedBody{reads: []int{400, 400, 200}}
	s, rec := newStreaming(w, fakeHTTP(http.StatusOK, body, 1000), newFakeClock())

	assert.Equal(t, Failed, s.UpdateIfAvailable(context.TODO(), NewUpdateRequest(serial, currentVersion, "")))
	assert.Len(t, w.writes, 2)
	assert.Equal(t, 1, w.abandons)
	assert.Equal(t, 0, w.commits)
	assert.Equal(t, Failed, rec.seen[len(rec.seen)-1].result)
}

func TestStreamingAbandonsBeforeFailure(t *testing.T) {
	w := &fakeWriter{}
	body := &scriptedBody{reads: []int{400}, err: errors.New("connection reset")}
	s, _ := newStreaming(w, fakeHTTP(http.StatusOK, body, 1000), newFakeClock())

	abandonsAtFailure := -1
	s.c.SetHandler(func(result Result, _ string) {
		if result == Failed {
			abandonsAtFailure = w.abandons
		}
	})

	assert.Equal(t, Failed, s.UpdateIfAvailable(context.TODO(), NewUpdateRequest(serial, currentVersion, "")))
	assert.Equal(t, 1, abandonsAtFailure)
}

func TestStreamingCommitFailure(t *testing.T) {
	w := &fakeWriter{failCommit: true}
	body := &scriptedBody{reads: []int{400}}
	s, rec := newStreaming(w, fakeHTTP(http.StatusOK, body, 400), newFakeClock())

	assert.Equal(t, Failed, s.UpdateIfAvailable(context.TODO(), NewUpdateRequest(serial, currentVersion, "")))
	assert.Equal(t, 1, w.commits)
	assert.Equal(t, 0, w.abandons)
	assert.Equal(t, []Result{Failed}, rec.terminals())
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, percent(10, 0))
	assert.Equal(t, 40, percent(400, 1000))
	assert.Equal(t, 100, percent(2000, 1000))
	assert.Equal(t, 0, percent(-1, 1000))
}

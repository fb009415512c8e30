package ota

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

var (
	errInjected = errors.New("injected failure")
)

type (
	// fakeWriter records every call and fails where told to.
	fakeWriter struct {
		failBegin  bool
		failWrite  int // fail the n-th write, 1 based, 0 never
		failCommit bool

		begins   int
		writes   []int
		commits  int
		abandons int
		open     bool
		image    bytes.Buffer
	}

	fakeClock struct {
		now   time.Time
		slept []time.Duration
		step  time.Duration // added on every Now()
	}

	notification struct {
		result  Result
		message string
	}

	recorder struct {
		seen []notification
	}

	exchange struct {
		status int
		body   []byte
		err    error
	}

	// fakeCell replays a script of exchanges, the last one repeats.
	fakeCell struct {
		script []exchange
		urls   []string
	}

	roundTripFunc func(*http.Request) (*http.Response, error)

	// scriptedBody returns the given reads in order, then io.EOF.
	scriptedBody struct {
		reads []int
		err   error
		n     int
	}
)

func (w *fakeWriter) Begin() (Handle, error) {
	w.begins++
	if w.failBegin {
		return 0, errInjected
	}
	w.open = true
	return Handle(w.begins), nil
}

func (w *fakeWriter) Write(h Handle, p []byte) error {
	if !w.open {
		return fmt.Errorf("write on closed handle %d", h)
	}
	w.writes = append(w.writes, len(p))
	if w.failWrite > 0 && len(w.writes) == w.failWrite {
		return errInjected
	}
	w.image.Write(p)
	return nil
}

func (w *fakeWriter) Commit(h Handle) error {
	w.commits++
	w.open = false
	if w.failCommit {
		return errInjected
	}
	return nil
}

func (w *fakeWriter) Abandon(h Handle) {
	w.abandons++
	w.open = false
}

func (w *fakeWriter) closes() int {
	return w.commits + w.abandons
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1683137969, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
}

func (r *recorder) handle(result Result, message string) {
	r.seen = append(r.seen, notification{result, message})
}

func (r *recorder) results() []Result {
	out := make([]Result, 0, len(r.seen))
	for _, n := range r.seen {
		out = append(out, n.result)
	}
	return out
}

func (r *recorder) progress() []int {
	var out []int
	for _, n := range r.seen {
		if n.result == InProgress {
			p, _ := strconv.Atoi(n.message)
			out = append(out, p)
		}
	}
	return out
}

func (r *recorder) terminals() []Result {
	var out []Result
	for _, n := range r.seen {
		if n.result.Terminal() {
			out = append(out, n.result)
		}
	}
	return out
}

func (f *fakeCell) HTTPGet(ctx context.Context, url string) (int, []byte, error) {
	f.urls = append(f.urls, url)
	if len(f.script) == 0 {
		return 0, nil, errInjected
	}
	e := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	}
	return e.status, e.body, e.err
}

func (fn roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return fn(r)
}

func (b *scriptedBody) Read(p []byte) (int, error) {
	if b.n >= len(b.reads) {
		if b.err != nil {
			return 0, b.err
		}
		return 0, io.EOF
	}
	n := b.reads[b.n]
	if n > len(p) {
		n = len(p)
	}
	b.n++
	for i := 0; i < n; i++ {
		p[i] = byte(i)
	}
	return n, nil
}

func (b *scriptedBody) Close() error {
	return nil
}

// fakeHTTP answers every request with status and body, and content length cl.
func fakeHTTP(status int, body io.ReadCloser, cl int64) *http.Client {
	return &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if body == nil {
				body = io.NopCloser(bytes.NewReader(nil))
			}
			return &http.Response{
				StatusCode:    status,
				Body:          body,
				ContentLength: cl,
				Request:       r,
				Header:        make(http.Header),
			}, nil
		}),
	}
}

func failingHTTP() *http.Client {
	return &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return nil, errInjected
		}),
	}
}

func chunk(n int) []byte {
	return bytes.Repeat([]byte{0x5a}, n)
}

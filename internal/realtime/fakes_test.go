package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

var (
	errFakeClosed  = errors.New("fake connection closed")
	errDialRefused = errors.New("connection refused")
)

// fakeConn is an in-memory Conn driven by the test.
type fakeConn struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  [][]byte
	closedBy string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case <-f.closed:
		return nil, errFakeClosed
	default:
	}

	select {
	case data := <-f.inbound:
		return data, nil
	case <-f.closed:
		return nil, errFakeClosed
	}
}

func (f *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-f.closed:
		return errFakeClosed
	default:
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Close() error {
	f.shut("client")
	return nil
}

// drop simulates the peer going away.
func (f *fakeConn) drop() {
	f.shut("peer")
}

func (f *fakeConn) shut(by string) {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closedBy = by
		f.mu.Unlock()
		close(f.closed)
	})
}

func (f *fakeConn) push(frame string) {
	f.inbound <- []byte(frame)
}

func (f *fakeConn) writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.written))
	for i, w := range f.written {
		out[i] = string(w)
	}
	return out
}

func (f *fakeConn) closer() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closedBy
}

// fakeDialer hands out fakeConns, or fails while failing is set.
type fakeDialer struct {
	mu      sync.Mutex
	urls    []string
	headers []http.Header
	failing bool
	block   chan struct{} // when non-nil, Dial waits on it or ctx

	conns chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	d.headers = append(d.headers, header)
	failing := d.failing
	block := d.block
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if failing {
		return nil, errDialRefused
	}

	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) setFailing(v bool) {
	d.mu.Lock()
	d.failing = v
	d.mu.Unlock()
}

func (d *fakeDialer) dials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

func (d *fakeDialer) lastHeader() http.Header {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.headers) == 0 {
		return nil
	}
	return d.headers[len(d.headers)-1]
}

// next waits for the connection produced by the next successful Dial.
func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dial")
		return nil
	}
}

// fakeScheduler records reconnect delays and fires them on demand.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &fakeTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)

	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		active := !t.stopped && !t.fired
		t.stopped = true
		return active
	}
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *fakeScheduler) delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.timers))
	for i, t := range s.timers {
		out[i] = t.delay
	}
	return out
}

func (s *fakeScheduler) timer(i int) *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[i]
}

// fireLast runs the most recent timer as if it elapsed.
func (s *fakeScheduler) fireLast() {
	s.mu.Lock()
	t := s.timers[len(s.timers)-1]
	t.fired = true
	s.mu.Unlock()

	t.fn()
}

func (s *fakeScheduler) isStopped(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[i].stopped
}

// newTestClient wires a Client to the fakes.
func newTestClient(t *testing.T, cfg Config) (*Client, *fakeDialer, *fakeScheduler) {
	t.Helper()

	dialer := newFakeDialer()
	sched := &fakeScheduler{}

	c := New(cfg, WithDialer(dialer))
	c.afterFunc = sched.AfterFunc

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c.Shutdown(ctx)
	})

	return c, dialer, sched
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func waitState(t *testing.T, c *Client, want State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return c.State() == want })
}

// drainErrors collects everything currently buffered on c.Errors().
func drainErrors(c *Client) []error {
	var out []error
	for {
		select {
		case err := <-c.Errors():
			out = append(out, err)
		default:
			return out
		}
	}
}

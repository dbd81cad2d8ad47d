package h1conn

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// memTransport is a Transport backed by an in-memory byte slice for the
// read side and a bytes.Buffer for the write side - enough for tests that
// only need to feed canned bytes in one direction (response parsing,
// buffer mechanics) without a real two-party handshake.
type memTransport struct {
	r      *bytes.Reader
	w      bytes.Buffer
	closed bool
}

func newMemTransport(data string) *memTransport {
	return &memTransport{r: bytes.NewReader([]byte(data))}
}

func (t *memTransport) Read(p []byte) (int, error) {
	if t.closed {
		return 0, io.ErrClosedPipe
	}
	return t.r.Read(p)
}

func (t *memTransport) Write(p []byte) (int, error) {
	if t.closed {
		return 0, io.ErrClosedPipe
	}
	return t.w.Write(p)
}

func (t *memTransport) Close() error {
	t.closed = true
	return nil
}

// fakePool is a minimal Pool implementation tests use to observe whether a
// Connection asked to be invalidated or returned.
type fakePool struct {
	mu          sync.Mutex
	invalidated bool
	returned    bool
	settings    PoolSettings
	hostHeader  []byte
	kind        PoolKind
}

func (f *fakePool) Invalidate(c *Connection) {
	f.mu.Lock()
	f.invalidated = true
	f.mu.Unlock()
}

func (f *fakePool) ReturnConnection(c *Connection) {
	f.mu.Lock()
	f.returned = true
	f.mu.Unlock()
}

func (f *fakePool) Settings() PoolSettings  { return f.settings }
func (f *fakePool) HostHeaderBytes() []byte { return f.hostHeader }
func (f *fakePool) Kind() PoolKind          { return f.kind }

func (f *fakePool) wasInvalidated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invalidated
}

func (f *fakePool) wasReturned() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.returned
}

// nopBody wraps a reader with a no-op Close, for request bodies tests
// don't care about closing.
type nopBody struct {
	io.Reader
}

func (nopBody) Close() error { return nil }

var errBoom = errors.New("boom")

// Package daptest provides a sample client with utilities
// for testing the DAP notifier.
package daptest

import (
	"bufio"
	"io"
	"testing"

	"github.com/google/go-dap"
)

// Client reads the events written by a dap.Notifier.
// All client methods are synchronous.
type Client struct {
	reader *bufio.Reader
}

// NewClient creates a new Client reading from r.
func NewClient(r io.Reader) *Client {
	return &Client{reader: bufio.NewReader(r)}
}

// ReadMessage reads the next message.
func (c *Client) ReadMessage(t *testing.T) dap.Message {
	t.Helper()
	m, err := dap.ReadProtocolMessage(c.reader)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func (c *Client) ExpectBreakpointEvent(t *testing.T, reason string) *dap.BreakpointEvent {
	t.Helper()
	m := c.ReadMessage(t)
	e, ok := m.(*dap.BreakpointEvent)
	if !ok {
		t.Fatalf("got %#v, want *dap.BreakpointEvent", m)
	}
	if e.Body.Reason != reason {
		t.Fatalf("got breakpoint event %q, want %q", e.Body.Reason, reason)
	}
	return e
}

func (c *Client) ExpectStoppedEvent(t *testing.T) *dap.StoppedEvent {
	t.Helper()
	m := c.ReadMessage(t)
	e, ok := m.(*dap.StoppedEvent)
	if !ok {
		t.Fatalf("got %#v, want *dap.StoppedEvent", m)
	}
	return e
}

func (c *Client) ExpectOutputEvent(t *testing.T) *dap.OutputEvent {
	t.Helper()
	m := c.ReadMessage(t)
	e, ok := m.(*dap.OutputEvent)
	if !ok {
		t.Fatalf("got %#v, want *dap.OutputEvent", m)
	}
	return e
}

// ExpectEOF fails the test if more messages are available.
func (c *Client) ExpectEOF(t *testing.T) {
	t.Helper()
	if m, err := dap.ReadProtocolMessage(c.reader); err != io.EOF {
		t.Fatalf("expected no more messages, got %#v (%v)", m, err)
	}
}

package realtime

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type clickEvent struct {
	LinkID string `json:"link_id"`
	Count  int    `json:"count"`
}

func TestTopic_SubscribeDecodes(t *testing.T) {
	c, dialer, _ := newTestClient(t, DefaultConfig())
	clicks := NewTopic[clickEvent]("click")

	if clicks.Name() != "click" {
		t.Errorf("Name = %q, want click", clicks.Name())
	}

	got := make(chan clickEvent, 2)
	unsub := clicks.Subscribe(c, func(ev clickEvent) { got <- ev })
	defer unsub()

	c.Connect("ws://x")
	conn := dialer.next(t)
	waitState(t, c, StateOpen)

	conn.push(`{"type":"click","data":{"link_id":"abc","count":3}}`)

	select {
	case ev := <-got:
		if ev.LinkID != "abc" || ev.Count != 3 {
			t.Errorf("event = %+v, want {abc 3}", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for typed handler")
	}
}

func TestTopic_DecodeFailureReported(t *testing.T) {
	c, dialer, _ := newTestClient(t, DefaultConfig())
	clicks := NewTopic[clickEvent]("click")

	called := make(chan struct{}, 1)
	clicks.Subscribe(c, func(clickEvent) { called <- struct{}{} })

	done := make(chan struct{}, 1)
	c.Subscribe("sentinel", func(json.RawMessage) { done <- struct{}{} })

	c.Connect("ws://x")
	conn := dialer.next(t)
	waitState(t, c, StateOpen)

	conn.push(`{"type":"click","data":"not an object"}`)
	conn.push(`{"type":"sentinel","data":null}`)
	<-done

	select {
	case <-called:
		t.Error("handler should not run for undecodable payload")
	default:
	}

	var de *DecodeError
	var found bool
	for _, err := range drainErrors(c) {
		if errors.As(err, &de) && de.Type == "click" {
			found = true
		}
	}
	if !found {
		t.Error("expected DecodeError for click payload")
	}
	if got := c.Stats().ParseErrors; got != 1 {
		t.Errorf("ParseErrors = %d, want 1", got)
	}
}

func TestTopic_Send(t *testing.T) {
	c, dialer, _ := newTestClient(t, DefaultConfig())
	clicks := NewTopic[clickEvent]("click")

	if err := clicks.Send(c, clickEvent{LinkID: "x"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send before connect = %v, want ErrNotConnected", err)
	}

	c.Connect("ws://x")
	conn := dialer.next(t)
	waitState(t, c, StateOpen)

	if err := clicks.Send(c, clickEvent{LinkID: "abc", Count: 1}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	want := `{"type":"click","data":{"link_id":"abc","count":1}}`
	if w := conn.writes(); len(w) != 1 || w[0] != want {
		t.Errorf("writes = %v, want [%s]", w, want)
	}
}

func TestTopic_NilHandler(t *testing.T) {
	c := New(DefaultConfig(), WithDialer(newFakeDialer()))
	unsub := NewTopic[clickEvent]("click").Subscribe(c, nil)
	unsub()

	if n := c.Subscribers("click"); n != 0 {
		t.Errorf("Subscribers = %d, want 0", n)
	}
}

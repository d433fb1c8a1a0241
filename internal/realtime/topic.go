package realtime

import "encoding/json"

// Topic binds a message type name to the Go type of its payload.
//
//	var LinkClicked = realtime.NewTopic[ClickEvent]("click")
//	unsubscribe := LinkClicked.Subscribe(client, func(ev ClickEvent) { ... })
type Topic[T any] struct {
	name string
}

// NewTopic returns a Topic for msgType.
func NewTopic[T any](msgType string) Topic[T] {
	return Topic[T]{name: msgType}
}

// Name returns the wire message type.
func (t Topic[T]) Name() string {
	return t.name
}

// Subscribe registers fn for this topic on c. Payloads that do not decode
// into T are dropped and reported as a *DecodeError.
func (t Topic[T]) Subscribe(c *Client, fn func(T)) func() {
	if fn == nil {
		return func() {}
	}
	return c.Subscribe(t.name, func(data json.RawMessage) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			c.reportDecode(t.name, err)
			return
		}
		fn(v)
	})
}

// Send transmits v under this topic's type.
func (t Topic[T]) Send(c *Client, v T) error {
	return c.Send(t.name, v)
}

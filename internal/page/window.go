// Package page emulates a browser page's same-document message channel
// (window.postMessage and its "message" listeners) for running the in-page
// side of the relay inside a Go process.
package page

import (
	"context"

	"github.com/neboloop/tabrelay/internal/envelope"
	"github.com/neboloop/tabrelay/internal/events"
	"github.com/neboloop/tabrelay/internal/logging"
)

// MessageEvent is what a listener sees for each posted message.
type MessageEvent struct {
	Data []byte
	// Source is the window that posted the message.
	Source *Window
}

// Window delivers posted messages to its listeners one at a time, in post
// order, like a page's event loop.
type Window struct {
	subject *events.Subject
}

// NewWindow creates a window with its own delivery loop.
func NewWindow() *Window {
	return &Window{
		subject: events.NewSubject(
			events.WithSyncDelivery(),
			events.WithLogger(logging.Logger()),
		),
	}
}

// PostMessage posts data from the page itself.
func (w *Window) PostMessage(data []byte) error {
	return w.PostMessageFrom(w, data)
}

// PostMessageFrom posts data on w's channel as if sent by src, typically an
// embedded frame.
func (w *Window) PostMessageFrom(src *Window, data []byte) error {
	msg := MessageEvent{Data: append([]byte(nil), data...), Source: src}
	return events.Emit(w.subject, events.TopicPageMessage, msg)
}

// PostToPage encodes env and posts it from the page itself.
func (w *Window) PostToPage(env envelope.Envelope) error {
	data, err := envelope.Marshal(env)
	if err != nil {
		return err
	}
	return w.PostMessage(data)
}

// AddListener registers fn for every subsequent message and returns a
// function that removes it.
func (w *Window) AddListener(fn func(MessageEvent)) func() {
	sub := events.Subscribe(w.subject, events.TopicPageMessage, func(_ context.Context, msg MessageEvent) error {
		fn(msg)
		return nil
	})
	return sub.Unsubscribe
}

// Close stops delivery.
func (w *Window) Close() {
	events.Complete(w.subject)
}

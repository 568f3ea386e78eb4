// Package bridge is the in-page boundary between an embedded application and
// the extension's messaging channel. It keeps no state: each inbound message
// is filtered by origin, tag and source, then forwarded or dropped.
package bridge

import (
	"github.com/neboloop/tabrelay/internal/envelope"
	"github.com/neboloop/tabrelay/internal/logging"
)

// PageMessage is a message observed on the page's same-document channel.
type PageMessage struct {
	Data []byte
	// SameDocument is false when the message was posted by a descendant
	// frame rather than the page itself.
	SameDocument bool
}

// PagePoster posts to the page's same-document channel.
type PagePoster interface {
	PostToPage(env envelope.Envelope) error
}

// ExtensionSender sends a one-shot message on the extension channel.
type ExtensionSender interface {
	SendToExtension(env envelope.Envelope) error
}

// Bridge moves envelopes between the two channels.
type Bridge struct {
	page PagePoster
	ext  ExtensionSender
}

// New returns a bridge forwarding to page and ext.
func New(page PagePoster, ext ExtensionSender) *Bridge {
	return &Bridge{page: page, ext: ext}
}

// HandlePageMessage forwards application envelopes posted by the page itself
// to the extension, re-stamped as coming from the content script. It reports
// whether the message was forwarded.
func (b *Bridge) HandlePageMessage(msg PageMessage) bool {
	if !msg.SameDocument {
		return false
	}
	env, ok := envelope.Expect(msg.Data, envelope.SourceApplication)
	if !ok {
		return false
	}

	if err := b.ext.SendToExtension(env.Restamp(envelope.SourceContent)); err != nil {
		logging.Debugf("[bridge] %s to extension lost: %v", env.Action, err)
		return false
	}
	return true
}

// HandleExtensionMessage forwards background envelopes to the page unchanged.
// It reports whether the message was forwarded.
func (b *Bridge) HandleExtensionMessage(raw []byte) bool {
	env, ok := envelope.Expect(raw, envelope.SourceBackground)
	if !ok {
		return false
	}
	if err := b.page.PostToPage(env); err != nil {
		logging.Debugf("[bridge] %s to page lost: %v", env.Action, err)
		return false
	}
	return true
}

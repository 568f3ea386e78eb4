// Package envelope defines the message unit that crosses every hop of the
// relay: application page, content script, background coordinator and
// inspector panel.
package envelope

import (
	"encoding/json"
	"fmt"
)

// ProtocolTag marks envelopes that belong to this extension. Anything else
// travelling on the same transport is ignored.
const ProtocolTag = "blog-ext"

// Source identifies the context that sent an envelope.
type Source string

const (
	SourceApplication Source = "application"
	SourceContent     Source = "content"
	SourceBackground  Source = "background"
	SourcePanel       Source = "panel"
)

// Valid reports whether s is one of the four known contexts.
func (s Source) Valid() bool {
	switch s {
	case SourceApplication, SourceContent, SourceBackground, SourcePanel:
		return true
	}
	return false
}

// Action discriminates the payload carried in Data.
type Action string

const (
	ActionRendered Action = "rendered"
	ActionRemoved  Action = "removed"
	ActionReset    Action = "reset"
	ActionInit     Action = "init"
	ActionHydrate  Action = "hydrate-state"
)

// Envelope is the wire shape shared by every hop.
type Envelope struct {
	Extension string          `json:"extension"`
	Source    Source          `json:"source"`
	Action    Action          `json:"action"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Payloads, one per action.

type Rendered struct {
	WidgetID string `json:"widgetId"`
	Count    int    `json:"count"`
}

type Removed struct {
	WidgetID string `json:"widgetId"`
}

type Reset struct {
	WidgetID string `json:"widgetId"`
	TabID    int    `json:"tabId"`
}

type Init struct {
	TabID int `json:"tabId"`
}

// State is the hydrate-state payload: widget id to last known count.
type State map[string]int

// Format builds a well-formed envelope. The same inputs always produce the
// same envelope.
func Format(source Source, action Action, data any) (Envelope, error) {
	env := Envelope{
		Extension: ProtocolTag,
		Source:    source,
		Action:    action,
	}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", action, err)
	}
	env.Data = raw
	return env, nil
}

// Restamp returns a copy of env sent from source, keeping action and data.
func (e Envelope) Restamp(source Source) Envelope {
	out := e
	out.Extension = ProtocolTag
	out.Source = source
	if e.Data != nil {
		out.Data = append(json.RawMessage(nil), e.Data...)
	}
	return out
}

// Validate decodes raw and accepts it only if it is a JSON object carrying
// the protocol tag, a known source and a non-empty action. Rejection is not
// an error: the transport carries plenty of messages that are not ours.
func Validate(raw []byte) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, false
	}
	if env.Extension != ProtocolTag || !env.Source.Valid() || env.Action == "" {
		return Envelope{}, false
	}
	return env, true
}

// Expect validates raw and additionally requires it to come from source.
func Expect(raw []byte, source Source) (Envelope, bool) {
	env, ok := Validate(raw)
	if !ok || env.Source != source {
		return Envelope{}, false
	}
	return env, true
}

// Marshal encodes env for the wire.
func Marshal(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s envelope has no data", e.Action)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Action, err)
	}
	return nil
}

// TabID extracts the tabId field from the payload of a panel command.
func (e Envelope) TabID() (int, bool) {
	var probe struct {
		TabID *int `json:"tabId"`
	}
	if len(e.Data) == 0 || json.Unmarshal(e.Data, &probe) != nil || probe.TabID == nil {
		return 0, false
	}
	return *probe.TabID, true
}

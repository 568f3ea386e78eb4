package bridge

import (
	"testing"

	"github.com/neboloop/tabrelay/internal/envelope"
)

type recorder struct {
	envs []envelope.Envelope
}

func (r *recorder) PostToPage(env envelope.Envelope) error {
	r.envs = append(r.envs, env)
	return nil
}

func (r *recorder) SendToExtension(env envelope.Envelope) error {
	r.envs = append(r.envs, env)
	return nil
}

func encode(t *testing.T, source envelope.Source, action envelope.Action, data any) []byte {
	t.Helper()
	env, err := envelope.Format(source, action, data)
	if err != nil {
		t.Fatal(err)
	}
	b, err := envelope.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestPageToExtension(t *testing.T) {
	page, ext := &recorder{}, &recorder{}
	b := New(page, ext)

	data := encode(t, envelope.SourceApplication, envelope.ActionRendered, envelope.Rendered{WidgetID: "counter-a", Count: 2})
	if !b.HandlePageMessage(PageMessage{Data: data, SameDocument: true}) {
		t.Fatal("expected application envelope to be forwarded")
	}

	if len(ext.envs) != 1 {
		t.Fatalf("expected one envelope on extension channel, got %d", len(ext.envs))
	}
	got := ext.envs[0]
	if got.Source != envelope.SourceContent || got.Action != envelope.ActionRendered || got.Extension != envelope.ProtocolTag {
		t.Errorf("unexpected forwarded envelope: %+v", got)
	}
	var p envelope.Rendered
	if err := got.Decode(&p); err != nil || p.WidgetID != "counter-a" || p.Count != 2 {
		t.Errorf("payload not preserved: %+v (%v)", p, err)
	}
	if len(page.envs) != 0 {
		t.Error("page channel should be untouched")
	}
}

func TestPageFilters(t *testing.T) {
	tests := []struct {
		name string
		msg  PageMessage
	}{
		{"from frame", PageMessage{Data: encode(t, envelope.SourceApplication, envelope.ActionRendered, envelope.Rendered{WidgetID: "a"}), SameDocument: false}},
		{"wrong source", PageMessage{Data: encode(t, envelope.SourceBackground, envelope.ActionReset, envelope.Reset{WidgetID: "a", TabID: 1}), SameDocument: true}},
		{"foreign tag", PageMessage{Data: []byte(`{"extension":"x","source":"application","action":"rendered"}`), SameDocument: true}},
		{"legacy shape", PageMessage{Data: []byte(`{"source":"blog-ext","messageType":"rendered","payload":{}}`), SameDocument: true}},
		{"not json", PageMessage{Data: []byte(`hello`), SameDocument: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, ext := &recorder{}, &recorder{}
			if New(page, ext).HandlePageMessage(tt.msg) {
				t.Error("message should have been dropped")
			}
			if len(ext.envs)+len(page.envs) != 0 {
				t.Error("dropped message produced traffic")
			}
		})
	}
}

func TestExtensionToPage(t *testing.T) {
	page, ext := &recorder{}, &recorder{}
	b := New(page, ext)

	data := encode(t, envelope.SourceBackground, envelope.ActionReset, envelope.Reset{WidgetID: "counter-a", TabID: 7})
	if !b.HandleExtensionMessage(data) {
		t.Fatal("expected background envelope to be forwarded")
	}
	if len(page.envs) != 1 {
		t.Fatalf("expected one envelope on page, got %d", len(page.envs))
	}
	if page.envs[0].Source != envelope.SourceBackground {
		t.Errorf("envelope should be forwarded unchanged, source=%s", page.envs[0].Source)
	}

	if b.HandleExtensionMessage(encode(t, envelope.SourcePanel, envelope.ActionReset, envelope.Reset{WidgetID: "a", TabID: 7})) {
		t.Error("panel-sourced envelope must not reach the page directly")
	}
	if b.HandleExtensionMessage([]byte(`{"messageAction":"from-tool:reset","widgetId":"a"}`)) {
		t.Error("untagged message must be dropped")
	}
	if len(ext.envs) != 0 {
		t.Error("extension channel should be untouched")
	}
}

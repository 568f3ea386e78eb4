package envelope

import (
	"bytes"
	"testing"
)

func TestFormatIsDeterministic(t *testing.T) {
	a, err := Format(SourceContent, ActionRendered, Rendered{WidgetID: "counter-1", Count: 3})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	b, err := Format(SourceContent, ActionRendered, Rendered{WidgetID: "counter-1", Count: 3})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}

	rawA, _ := Marshal(a)
	rawB, _ := Marshal(b)
	if !bytes.Equal(rawA, rawB) {
		t.Errorf("expected identical encodings, got %s and %s", rawA, rawB)
	}

	want := `{"extension":"blog-ext","source":"content","action":"rendered","data":{"widgetId":"counter-1","count":3}}`
	if string(rawA) != want {
		t.Errorf("unexpected wire form:\n got %s\nwant %s", rawA, want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"well formed", `{"extension":"blog-ext","source":"panel","action":"init","data":{"tabId":7}}`, true},
		{"no data", `{"extension":"blog-ext","source":"background","action":"reset"}`, true},
		{"unknown action is accepted", `{"extension":"blog-ext","source":"content","action":"custom"}`, true},
		{"missing tag", `{"source":"panel","action":"init"}`, false},
		{"foreign tag", `{"extension":"other-ext","source":"panel","action":"init"}`, false},
		{"unknown source", `{"extension":"blog-ext","source":"devtools","action":"init"}`, false},
		{"empty action", `{"extension":"blog-ext","source":"panel","action":""}`, false},
		{"legacy shape", `{"source":"blog-ext","messageType":"rendered","payload":{"widgetId":"a","count":1}}`, false},
		{"array", `[1,2,3]`, false},
		{"string", `"blog-ext"`, false},
		{"null", `null`, false},
		{"garbage", `{{{`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := Validate([]byte(tt.raw))
			if ok != tt.ok {
				t.Errorf("Validate(%s) = %v, want %v", tt.raw, ok, tt.ok)
			}
		})
	}
}

func TestExpectFiltersBySource(t *testing.T) {
	raw := []byte(`{"extension":"blog-ext","source":"application","action":"rendered","data":{"widgetId":"a","count":1}}`)

	if _, ok := Expect(raw, SourceApplication); !ok {
		t.Error("expected application envelope to pass")
	}
	if _, ok := Expect(raw, SourceBackground); ok {
		t.Error("expected application envelope to be rejected when background is expected")
	}
}

func TestRestampKeepsPayload(t *testing.T) {
	in, _ := Format(SourcePanel, ActionReset, Reset{WidgetID: "counter-1", TabID: 7})
	out := in.Restamp(SourceBackground)

	if out.Source != SourceBackground || out.Action != ActionReset {
		t.Fatalf("unexpected restamp result: %+v", out)
	}
	if !bytes.Equal(in.Data, out.Data) {
		t.Errorf("data changed: %s vs %s", in.Data, out.Data)
	}

	out.Data[0] = 'X'
	if in.Data[0] == 'X' {
		t.Error("restamped envelope shares its data buffer with the original")
	}
}

func TestTabID(t *testing.T) {
	env, _ := Format(SourcePanel, ActionReset, Reset{WidgetID: "w", TabID: 8})
	if id, ok := env.TabID(); !ok || id != 8 {
		t.Errorf("TabID() = %d, %v; want 8, true", id, ok)
	}

	env, _ = Format(SourcePanel, ActionReset, Removed{WidgetID: "w"})
	if _, ok := env.TabID(); ok {
		t.Error("expected no tab id in payload without tabId")
	}

	env, _ = Format(SourcePanel, ActionReset, nil)
	if _, ok := env.TabID(); ok {
		t.Error("expected no tab id without payload")
	}
}

func TestDecode(t *testing.T) {
	env, _ := Format(SourceContent, ActionRendered, Rendered{WidgetID: "counter-1", Count: 4})

	var got Rendered
	if err := env.Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.WidgetID != "counter-1" || got.Count != 4 {
		t.Errorf("unexpected payload: %+v", got)
	}

	empty, _ := Format(SourceContent, ActionRemoved, nil)
	if err := empty.Decode(&got); err == nil {
		t.Error("expected error decoding empty payload")
	}
}

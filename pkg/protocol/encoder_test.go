package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestEnvelope(t *testing.T) {
	frame := Envelope(17, []byte(`{"a":1}`))
	if got := string(frame); got != `17#{"a":1}` {
		t.Errorf("Envelope = %q, want 17#{\"a\":1}", got)
	}
}

func TestEnvelopeZero(t *testing.T) {
	frame := Envelope(0, []byte(`{}`))
	if got := string(frame); got != "0#{}" {
		t.Errorf("Envelope = %q, want 0#{}", got)
	}
}

func TestEncodeClientCall(t *testing.T) {
	body, err := EncodeClientCall(42, "showUrl", []any{"/main", true})
	if err != nil {
		t.Fatalf("EncodeClientCall error: %v", err)
	}

	// Round-trip through Parse: the client echoes smsgid back, so the
	// encoded call must carry it.
	var decoded struct {
		Call struct {
			Name string `json:"name"`
			Args []any  `json:"args"`
		} `json:"call"`
		SMsgID uint64 `json:"smsgid"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.SMsgID != 42 {
		t.Errorf("smsgid = %d, want 42", decoded.SMsgID)
	}
	if decoded.Call.Name != "showUrl" || len(decoded.Call.Args) != 2 {
		t.Errorf("call = %+v", decoded.Call)
	}
}

func TestEncodeCallReturn(t *testing.T) {
	body, err := EncodeCallReturn(7, []string{"a", "b"}, nil)
	if err != nil {
		t.Fatalf("EncodeCallReturn error: %v", err)
	}
	s := string(body)
	if !strings.Contains(s, `"cmsgid":7`) || !strings.Contains(s, `"ret":["a","b"]`) {
		t.Errorf("body = %s", s)
	}
	if strings.Contains(s, `"err"`) {
		t.Errorf("success return should not carry err marker: %s", s)
	}
}

func TestEncodeCallReturnNilResult(t *testing.T) {
	body, err := EncodeCallReturn(1, nil, nil)
	if err != nil {
		t.Fatalf("EncodeCallReturn error: %v", err)
	}
	// ret must be present even when null.
	if !strings.Contains(string(body), `"ret":null`) {
		t.Errorf("body = %s, want ret:null present", body)
	}
}

func TestEncodeCallReturnError(t *testing.T) {
	body, err := EncodeCallReturn(9, "ignored", errors.New("no such form"))
	if err != nil {
		t.Fatalf("EncodeCallReturn error: %v", err)
	}
	s := string(body)
	if !strings.Contains(s, `"err":"no such form"`) {
		t.Errorf("body = %s, want err marker", s)
	}
	if strings.Contains(s, "ignored") {
		t.Errorf("failed call must not leak the return value: %s", s)
	}
}

func TestEncodeCallReturnUnserializable(t *testing.T) {
	body, err := EncodeCallReturn(3, func() {}, nil)
	if err != nil {
		t.Fatalf("EncodeCallReturn error: %v", err)
	}
	if !strings.Contains(string(body), `"err"`) {
		t.Errorf("body = %s, want error marker for unserializable value", body)
	}
}

func TestEncodeServiceDataPush(t *testing.T) {
	body, err := EncodeServiceDataPush("i18n", map[string]any{"locale": "de"})
	if err != nil {
		t.Fatalf("EncodeServiceDataPush error: %v", err)
	}

	m, perr := Parse(body)
	if perr != nil {
		t.Fatalf("Parse of own output: %v", perr)
	}
	if m.Kind != KindServiceDataPush || m.Service != "i18n" {
		t.Errorf("round trip: kind=%v service=%q", m.Kind, m.Service)
	}
}

func TestEncodeContainerChanges(t *testing.T) {
	body, err := EncodeContainerChanges(map[string]json.RawMessage{
		"orders": json.RawMessage(`{"dirty":true}`),
	})
	if err != nil {
		t.Fatalf("EncodeContainerChanges error: %v", err)
	}
	if !strings.Contains(string(body), `"forms":{"orders":{"dirty":true}}`) {
		t.Errorf("body = %s", body)
	}
}

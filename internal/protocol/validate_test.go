package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewFinished_AlwaysCarriesExitCode(t *testing.T) {
	data, err := json.Marshal(NewFinished(0, false))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["type"] != TypeStatus {
		t.Errorf("expected type %s, got %v", TypeStatus, m["type"])
	}
	if m["status"] != StatusFinished {
		t.Errorf("expected status %s, got %v", StatusFinished, m["status"])
	}
	if code, ok := m["exitCode"]; !ok || code != float64(0) {
		t.Errorf("expected exitCode 0, got %v (present=%v)", code, ok)
	}
	if _, ok := m["signaled"]; ok {
		t.Error("expected signaled to be omitted for a normal exit")
	}
}

func TestServerMessages_Shape(t *testing.T) {
	tests := []struct {
		name string
		msg  ServerMessage
		want map[string]interface{}
	}{
		{"output", NewOutput("hi\n"), map[string]interface{}{"type": "output", "data": "hi\n"}},
		{"inputRequired", NewInputRequired("Name: "), map[string]interface{}{"type": "inputRequired", "prompt": "Name: "}},
		{"error", NewError(CodeNoActiveProcess, "no process"), map[string]interface{}{"type": "error", "error": "no process", "code": CodeNoActiveProcess}},
		{"session", NewSession("abc"), map[string]interface{}{"type": "session", "sessionId": "abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var got map[string]interface{}
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if _, ok := got["timestamp"]; !ok {
				t.Error("expected timestamp")
			}
			delete(got, "timestamp")
			if len(got) != len(tt.want) {
				t.Errorf("expected fields %v, got %v", tt.want, got)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("field %s: expected %v, got %v", k, v, got[k])
				}
			}
		})
	}
}

func TestDecodeClientMessage_Valid(t *testing.T) {
	tests := []struct {
		raw  string
		want ClientMessage
	}{
		{`{"type":"execute","language":"python","code":"print(1)"}`, ClientMessage{Type: TypeExecute, Language: "python", Code: "print(1)"}},
		{`{"type":"input","data":"42"}`, ClientMessage{Type: TypeInput, Data: "42"}},
		{`{"type":"input"}`, ClientMessage{Type: TypeInput}},
		{`{"type":"kill"}`, ClientMessage{Type: TypeKill}},
		{`{"type":"resize","cols":120,"rows":40}`, ClientMessage{Type: TypeResize, Cols: 120, Rows: 40}},
	}
	for _, tt := range tests {
		msg, err := DecodeClientMessage([]byte(tt.raw))
		if err != nil {
			t.Fatalf("%s: expected valid message, got error: %v", tt.raw, err)
		}
		if *msg != tt.want {
			t.Errorf("%s: expected %+v, got %+v", tt.raw, tt.want, *msg)
		}
	}
}

func TestDecodeClientMessage_Malformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"language":"python"}`,
		`{"type":""}`,
		`{"type":"session.create"}`,
		`{"type":"execute","code":5}`,
		`[]`,
	} {
		_, err := DecodeClientMessage([]byte(raw))
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: expected ErrMalformed, got %v", raw, err)
		}
	}
}

func TestValidateExecute(t *testing.T) {
	if err := ValidateExecute("python", "print(1)"); err != nil {
		t.Errorf("expected valid, got %v", err)
	}
	for _, tc := range [][2]string{{"", "print(1)"}, {"python", ""}, {"  ", "x"}, {"python", " \n"}} {
		if err := ValidateExecute(tc[0], tc[1]); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("%q/%q: expected ErrInvalidRequest, got %v", tc[0], tc[1], err)
		}
	}
}

func TestValidateResize(t *testing.T) {
	if err := ValidateResize(80, 24); err != nil {
		t.Errorf("expected valid, got %v", err)
	}
	if err := ValidateResize(0, 24); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

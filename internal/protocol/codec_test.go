// File: internal/protocol/codec_test.go
// Project: Coldport
// Description: Tests for envelope round-tripping and newline-JSON framing
package protocol

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
)

func TestEnvelopeRoundTripPreservesRequestID(t *testing.T) {
	cases := []envelopeCase{
		{name: "ok", build: func() Outbound { return OK("req-1", "sector.scan_v1", map[string]int{"sector": 1}) }},
		{name: "error", build: func() Outbound { return Error("req-2", ErrDB, "store error") }},
		{name: "refused", build: func() Outbound {
			return Refused("req-3", RefNoWarpLink, "no warp link", map[string]interface{}{"to": 100})
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			env := c.build()
			var buf bytes.Buffer
			if err := NewWriter(&buf).WriteEnvelope(env); err != nil {
				t.Fatalf("WriteEnvelope failed: %v", err)
			}

			var decoded Outbound
			if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
				t.Fatalf("failed to decode written envelope: %v", err)
			}
			if decoded.RequestID != env.RequestID {
				t.Errorf("request_id = %q, want %q", decoded.RequestID, env.RequestID)
			}
			if decoded.Status != env.Status {
				t.Errorf("status = %q, want %q", decoded.Status, env.Status)
			}
		})
	}
}

type envelopeCase struct {
	name  string
	build func() Outbound
}

func TestErrorCodeStringsAreStable(t *testing.T) {
	cases := map[ErrorCode]string{
		ErrDB:                   "ERR_DB",
		ErrInvalidSchema:        "ERR_INVALID_SCHEMA",
		ErrNotAuthenticated:     "ERR_NOT_AUTHENTICATED",
		ErrSectorNotFound:       "ERR_SECTOR_NOT_FOUND",
		ErrPlanetNotFound:       "ERR_PLANET_NOT_FOUND",
		ErrAutopilotPathInvalid: "ERR_AUTOPILOT_PATH_INVALID",
		ErrSerialization:        "ERR_SERIALIZATION",
		ErrVersionNotSupported:  "ERR_VERSION_NOT_SUPPORTED",
		ErrServerError:          "ERR_SERVER_ERROR",
		RefNoWarpLink:           "REF_NO_WARP_LINK",
		RefTurnCostExceeds:      "REF_TURN_COST_EXCEEDS",
		RefSafeZoneOnly:         "REF_SAFE_ZONE_ONLY",
	}
	for code, name := range cases {
		if got := code.String(); got != name {
			t.Errorf("ErrorCode(%d).String() = %q, want %q", int(code), got, name)
		}
	}
}

func TestParseInboundRejectsMalformedJSON(t *testing.T) {
	if _, err := ParseInbound([]byte("not json")); err == nil {
		t.Error("expected ParseInbound to reject malformed JSON")
	}
}

func TestParseInboundPreservesFields(t *testing.T) {
	raw := []byte(`{"command":"sector.scan","request_id":"r1","idempotency_key":"k1","data":{"sector":1}}`)
	in, err := ParseInbound(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.Command != "sector.scan" || in.RequestID != "r1" || in.IdempotencyKey != "k1" {
		t.Errorf("unexpected decode: %+v", in)
	}
}

func TestReaderReadsNewlineDelimitedFrames(t *testing.T) {
	input := strings.NewReader("{\"command\":\"a\"}\n{\"command\":\"b\"}\n")
	r := NewReader(input)

	frame1, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("unexpected error on first frame: %v", err)
	}
	if string(frame1) != `{"command":"a"}` {
		t.Errorf("frame1 = %q", frame1)
	}

	frame2, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("unexpected error on second frame: %v", err)
	}
	if string(frame2) != `{"command":"b"}` {
		t.Errorf("frame2 = %q", frame2)
	}

	if _, err := r.ReadFrame(); err != io.EOF {
		t.Errorf("expected io.EOF at stream end, got %v", err)
	}
}

func TestReaderRejectsOversizedFrame(t *testing.T) {
	huge := strings.Repeat("x", MaxFrameBytes+1)
	r := NewReader(strings.NewReader(huge + "\n"))
	if _, err := r.ReadFrame(); err != ErrFrameTooLarge {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}

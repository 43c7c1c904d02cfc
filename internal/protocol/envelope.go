// File: internal/protocol/envelope.go
// Project: Coldport
// Description: Wire envelope shapes and the stable error code taxonomy
package protocol

import "encoding/json"

// Inbound is a single newline-framed JSON request.
type Inbound struct {
	Command        string          `json:"command"`
	RequestID      string          `json:"request_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// Status is the outbound envelope's top-level disposition.
type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusRefused Status = "refused"
)

// ErrorCode is part of the wire contract: values are stable across releases.
type ErrorCode int

const (
	ErrDB                    ErrorCode = iota + 1
	ErrInvalidSchema
	ErrNotAuthenticated
	ErrSectorNotFound
	ErrPlanetNotFound
	ErrAutopilotPathInvalid
	ErrSerialization
	ErrVersionNotSupported
	ErrServerError
	RefNoWarpLink
	RefTurnCostExceeds
	RefSafeZoneOnly
)

var errorCodeNames = map[ErrorCode]string{
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

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return "ERR_UNKNOWN"
}

// ErrorDetail is the error/refused payload. Meta carries structured context
// for policy refusals, e.g. {"missing":{"ore":123}}.
type ErrorDetail struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Meta    interface{} `json:"meta,omitempty"`
}

// Outbound is the single envelope shape emitted for every inbound request.
// Exactly one of Data/Error is populated, selected by Status.
type Outbound struct {
	Status    Status       `json:"status"`
	Type      string       `json:"type,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
	Data      interface{}  `json:"data,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
}

func OK(requestID, responseType string, data interface{}) Outbound {
	return Outbound{Status: StatusOK, Type: responseType, RequestID: requestID, Data: data}
}

func Error(requestID string, code ErrorCode, message string) Outbound {
	return Outbound{Status: StatusError, RequestID: requestID, Error: &ErrorDetail{Code: code, Message: message}}
}

func Refused(requestID string, code ErrorCode, message string, meta interface{}) Outbound {
	return Outbound{Status: StatusRefused, RequestID: requestID, Error: &ErrorDetail{Code: code, Message: message, Meta: meta}}
}

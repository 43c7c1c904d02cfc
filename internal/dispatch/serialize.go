// File: internal/dispatch/serialize.go
// Project: Coldport
// Description: Envelope (de)serialization for idempotency replay storage
package dispatch

import (
	"encoding/json"

	"github.com/coldport/coldport-server/internal/protocol"
)

func marshalOutbound(out protocol.Outbound) (string, error) {
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalOutbound(s string, out *protocol.Outbound) error {
	return json.Unmarshal([]byte(s), out)
}

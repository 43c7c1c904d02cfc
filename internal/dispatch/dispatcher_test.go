// File: internal/dispatch/dispatcher_test.go
// Project: Coldport
// Description: Tests for idempotency-key replay in the command dispatcher
package dispatch

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/coldport/coldport-server/internal/broadcast"
	"github.com/coldport/coldport-server/internal/database"
	"github.com/coldport/coldport-server/internal/protocol"
	"github.com/coldport/coldport-server/internal/ratelimit"
	"github.com/coldport/coldport-server/internal/session"
	"golang.org/x/time/rate"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	db, err := database.NewDB(&database.Config{
		Path:          filepath.Join(t.TempDir(), "coldport_test.db"),
		BusyTimeoutMS: 5000,
		MaxOpenConns:  4,
	})
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Bootstrap(context.Background()); err != nil {
		t.Fatalf("failed to bootstrap test store: %v", err)
	}

	auth := session.NewAuth(db)
	sessions := session.NewManager(db)
	return New(db, auth, sessions, broadcast.New(), ratelimit.NewLimiter(nil))
}

func newTestClientContext(t *testing.T) *ClientContext {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { serverConn.Close(); clientConn.Close() })
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := clientConn.Read(buf); err != nil {
				return
			}
		}
	}()
	cc := NewClientContext(serverConn, rate.NewLimiter(rate.Inf, 1))
	cc.SetAuth(1, "test-token")
	return cc
}

func TestDispatchIdempotentReplaysStoredResponse(t *testing.T) {
	d := newTestDispatcher(t)
	cc := newTestClientContext(t)

	var calls int32
	d.Register("test.echo", func(ctx context.Context, cc *ClientContext, req protocol.Inbound) protocol.Outbound {
		atomic.AddInt32(&calls, 1)
		return protocol.OK(req.RequestID, "test.echoed_v1", map[string]interface{}{"n": atomic.LoadInt32(&calls)})
	})

	data, _ := json.Marshal(map[string]string{})
	req := protocol.Inbound{Command: "test.echo", RequestID: "r1", IdempotencyKey: "key-1", Data: data}

	first := d.handleFrame(context.Background(), cc, mustMarshalInbound(t, req))
	if first.Status != protocol.StatusOK {
		t.Fatalf("expected first dispatch to succeed, got status=%s", first.Status)
	}

	req2 := req
	req2.RequestID = "r2"
	second := d.handleFrame(context.Background(), cc, mustMarshalInbound(t, req2))
	if second.Status != protocol.StatusOK {
		t.Fatalf("expected replay to succeed, got status=%s", second.Status)
	}
	if second.RequestID != "r2" {
		t.Errorf("replay must carry the replaying request's own request_id, got %q", second.RequestID)
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("handler invoked %d times, want exactly 1 (the second call must replay, not re-run)", got)
	}

	var firstData, secondData map[string]interface{}
	asMap(t, first.Data, &firstData)
	asMap(t, second.Data, &secondData)
	if firstData["n"] != secondData["n"] {
		t.Errorf("replayed response data = %+v, want identical to first response %+v", secondData, firstData)
	}
}

func TestDispatchIdempotentRefusesConcurrentInProgress(t *testing.T) {
	d := newTestDispatcher(t)
	cc := newTestClientContext(t)
	ctx := context.Background()

	if _, err := d.db.ExecContext(ctx,
		`INSERT INTO idempotency (key, cmd, req_fp, status) VALUES ('key-2', 'test.echo', 'fp', 'in_progress')`); err != nil {
		t.Fatalf("failed to seed an in-progress idempotency row: %v", err)
	}

	d.Register("test.echo", func(ctx context.Context, cc *ClientContext, req protocol.Inbound) protocol.Outbound {
		t.Fatal("handler must not run while a same-key request is still in_progress")
		return protocol.Outbound{}
	})

	data, _ := json.Marshal(map[string]string{})
	req := protocol.Inbound{Command: "test.echo", RequestID: "r1", IdempotencyKey: "key-2", Data: data}
	out := d.handleFrame(ctx, cc, mustMarshalInbound(t, req))
	if out.Status != protocol.StatusRefused {
		t.Fatalf("expected a refusal for a concurrent in-progress key, got status=%s", out.Status)
	}
}

func mustMarshalInbound(t *testing.T, req protocol.Inbound) []byte {
	t.Helper()
	out, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("failed to marshal inbound: %v", err)
	}
	return out
}

func asMap(t *testing.T, data interface{}, dst *map[string]interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("failed to marshal data: %v", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("failed to unmarshal data: %v", err)
	}
}

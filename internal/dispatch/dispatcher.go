// File: internal/dispatch/dispatcher.go
// Project: Coldport
// Description: TCP accept loop and the per-connection worker loop:
//              framing, rate limiting, auth gating, idempotency replay,
//              and command dispatch.
package dispatch

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/coldport/coldport-server/internal/broadcast"
	"github.com/coldport/coldport-server/internal/database"
	"github.com/coldport/coldport-server/internal/logger"
	"github.com/coldport/coldport-server/internal/metrics"
	"github.com/coldport/coldport-server/internal/protocol"
	"github.com/coldport/coldport-server/internal/ratelimit"
	"github.com/coldport/coldport-server/internal/session"
	"golang.org/x/time/rate"
	"lukechampine.com/blake3"
)

var log = logger.WithComponent("Dispatch")

// HandlerFunc emits exactly one envelope for one inbound request.
type HandlerFunc func(ctx context.Context, cc *ClientContext, req protocol.Inbound) protocol.Outbound

// Dispatcher owns the accept loop and the command registry.
type Dispatcher struct {
	db          *database.DB
	auth        *session.Auth
	sessions    *session.Manager
	broadcaster *broadcast.Broadcaster
	connLimiter *ratelimit.Limiter

	handlers    map[string]HandlerFunc
	noAuthCmds  map[string]bool
	listener    net.Listener

	perCommandRateLimit rate.Limit
	perCommandBurst     int
}

func New(db *database.DB, auth *session.Auth, sessions *session.Manager, broadcaster *broadcast.Broadcaster, connLimiter *ratelimit.Limiter) *Dispatcher {
	return &Dispatcher{
		db:          db,
		auth:        auth,
		sessions:    sessions,
		broadcaster: broadcaster,
		connLimiter: connLimiter,
		handlers:    make(map[string]HandlerFunc),
		noAuthCmds: map[string]bool{
			"auth.register": true,
			"auth.login":    true,
		},
		perCommandRateLimit: 20, // tokens/sec
		perCommandBurst:     40,
	}
}

func (d *Dispatcher) Register(command string, h HandlerFunc) {
	d.handlers[command] = h
}

func (d *Dispatcher) RegisterMany(handlers map[string]HandlerFunc) {
	for k, v := range handlers {
		d.handlers[k] = v
	}
}

func (d *Dispatcher) Broadcaster() *broadcast.Broadcaster { return d.broadcaster }

func (d *Dispatcher) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	d.listener = listener
	log.Info("Dispatcher listening on %s", addr)

	go d.acceptLoop(ctx)
	<-ctx.Done()

	log.Info("Context cancelled, closing listener")
	return d.listener.Close()
}

func (d *Dispatcher) acceptLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := d.listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
				}
				log.Warn("Accept failed: error=%v", err)
				continue
			}
			go d.handleConnection(ctx, conn)
		}
	}
}

func (d *Dispatcher) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	metrics.Global().IncrementConnections()
	defer metrics.Global().DecrementActiveConnections()

	if d.connLimiter != nil {
		if allowed, reason := d.connLimiter.AllowConnection(conn.RemoteAddr()); !allowed {
			log.Warn("Connection rejected: peer=%s reason=%s", conn.RemoteAddr(), reason)
			return
		}
		defer d.connLimiter.ReleaseConnection(conn.RemoteAddr())
	}

	commandBucket := rate.NewLimiter(d.perCommandRateLimit, d.perCommandBurst)
	cc := NewClientContext(conn, commandBucket)
	reader := protocol.NewReader(conn)

	log.Info("Connection established: peer=%s", cc.Peer)
	defer d.onDisconnect(cc)

	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			if err == io.EOF {
				log.Debug("Connection closed by peer: peer=%s", cc.Peer)
			} else if err == protocol.ErrFrameTooLarge {
				log.Warn("Fatal framing error, closing: peer=%s error=%v", cc.Peer, err)
			} else {
				log.Debug("Read error, closing: peer=%s error=%v", cc.Peer, err)
			}
			return
		}

		env := d.handleFrame(ctx, cc, frame)
		if err := cc.Send(env); err != nil {
			log.Warn("Write error, closing: peer=%s error=%v", cc.Peer, err)
			return
		}
	}
}

func (d *Dispatcher) onDisconnect(cc *ClientContext) {
	d.broadcaster.Unregister(cc)
	if cc.Authenticated() {
		d.sessions.MarkOffline(context.Background(), cc.PlayerID())
	}
}

func (d *Dispatcher) handleFrame(ctx context.Context, cc *ClientContext, frame []byte) protocol.Outbound {
	req, err := protocol.ParseInbound(frame)
	if err != nil {
		metrics.Global().IncrementCommandsErrored()
		return protocol.Error("", protocol.ErrInvalidSchema, "malformed request")
	}

	if !cc.commandRate.Allow() {
		metrics.Global().IncrementCommandsRefused()
		return protocol.Refused(req.RequestID, protocol.ErrServerError, "rate limit exceeded", nil)
	}

	if !d.noAuthCmds[req.Command] && !cc.Authenticated() {
		metrics.Global().IncrementCommandsRefused()
		return protocol.Refused(req.RequestID, protocol.ErrNotAuthenticated, "authentication required", nil)
	}

	if req.Command == "auth.login" && d.connLimiter != nil {
		if locked, remaining := d.connLimiter.IsAuthLocked(cc.Conn.RemoteAddr()); locked {
			metrics.Global().IncrementCommandsRefused()
			return protocol.Refused(req.RequestID, protocol.ErrNotAuthenticated,
				fmt.Sprintf("too many failed login attempts, locked for %s", remaining.Round(time.Second)), nil)
		}
	}

	handler, ok := d.handlers[req.Command]
	if !ok {
		metrics.Global().IncrementCommandsErrored()
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, fmt.Sprintf("unknown command: %s", req.Command))
	}

	var out protocol.Outbound
	if req.IdempotencyKey != "" {
		out = d.dispatchIdempotent(ctx, cc, req, handler)
	} else {
		metrics.Global().IncrementCommands()
		out = handler(ctx, cc, req)
	}

	if req.Command == "auth.login" && d.connLimiter != nil {
		if out.Status == protocol.StatusOK {
			d.connLimiter.RecordAuthSuccess(cc.Conn.RemoteAddr())
		} else {
			d.connLimiter.RecordAuthFailure(cc.Conn.RemoteAddr(), "")
		}
	}

	return out
}

func fingerprint(req protocol.Inbound) string {
	sum := blake3.Sum256([]byte(req.Command + string(req.Data)))
	return hex.EncodeToString(sum[:])
}

// dispatchIdempotent implements the in_progress/done discipline: look the
// key up first; if absent, insert the idempotency row as in_progress in its
// own transaction, run the handler (which opens its own transaction), then
// record the response and mark the row done. A key whose row is already
// done has its stored response replayed with this request's own
// request_id. A key still in_progress, or an insert that loses the
// unique-constraint race to a concurrent retry, is refused rather than
// blocked.
func (d *Dispatcher) dispatchIdempotent(ctx context.Context, cc *ClientContext, req protocol.Inbound, handler HandlerFunc) protocol.Outbound {
	fp := fingerprint(req)

	var existingStatus, existingResponse string
	row := d.db.QueryRowContext(ctx,
		`SELECT status, COALESCE(response, '') FROM idempotency WHERE key = ?`, req.IdempotencyKey)
	err := row.Scan(&existingStatus, &existingResponse)
	if err == nil {
		if existingStatus == "done" {
			var out protocol.Outbound
			if jsonErr := unmarshalOutbound(existingResponse, &out); jsonErr == nil {
				out.RequestID = req.RequestID
				return out
			}
		}
		return protocol.Refused(req.RequestID, protocol.ErrServerError, "request already in progress", nil)
	}
	if err != sql.ErrNoRows {
		metrics.Global().IncrementCommandsErrored()
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}

	insertErr := d.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO idempotency (key, cmd, req_fp, status) VALUES (?, ?, ?, 'in_progress')`,
			req.IdempotencyKey, req.Command, fp)
		return err
	})
	if insertErr != nil {
		return protocol.Refused(req.RequestID, protocol.ErrServerError, "request already in progress", nil)
	}

	metrics.Global().IncrementCommands()
	out := handler(ctx, cc, req)

	respJSON, marshalErr := marshalOutbound(out)
	if marshalErr != nil {
		d.db.ExecContext(ctx, `DELETE FROM idempotency WHERE key = ?`, req.IdempotencyKey)
		return protocol.Error(req.RequestID, protocol.ErrSerialization, "failed to serialize response")
	}

	if _, err := d.db.ExecContext(ctx,
		`UPDATE idempotency SET status = 'done', response = ? WHERE key = ?`, respJSON, req.IdempotencyKey); err != nil {
		log.Error("Failed to persist idempotent response: key=%s error=%v", req.IdempotencyKey, err)
	}

	return out
}

// WaitForShutdown blocks until ctx is cancelled, allowing callers to tie
// dispatcher lifetime to a parent context without duplicating signal
// handling here.
func (d *Dispatcher) WaitForShutdown(ctx context.Context) {
	<-ctx.Done()
	time.Sleep(50 * time.Millisecond)
}

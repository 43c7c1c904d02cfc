// File: internal/s2s/s2s.go
// Project: Coldport
// Description: HMAC-authenticated internal command rail. Contract only:
//              accept (type, payload, idem_key?) into engine_commands and
//              hand back its assigned id. No worker lives here; a separate
//              process is expected to consume engine_commands at its own
//              pace (the cron scheduler's deadletter_retry task is the
//              closest thing to a consumer this repo ships).
package s2s

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"

	"github.com/coldport/coldport-server/internal/database"
	"github.com/coldport/coldport-server/internal/logger"
	"github.com/coldport/coldport-server/internal/protocol"
)

var log = logger.WithComponent("S2S")

// Request is one line of the s2s wire format: a type/payload command
// authenticated by an HMAC-SHA256 signature over key_id+type+payload+idem_key
// keyed by the s2s_keys secret named by key_id.
type Request struct {
	KeyID     string          `json:"key_id"`
	Signature string          `json:"signature"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	IdemKey   string          `json:"idem_key,omitempty"`
}

type acceptedResponse struct {
	CmdID     int64  `json:"cmd_id"`
	DueAt     string `json:"due_at"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server accepts engine commands over its own TCP port, authenticated
// independently of the player-facing dispatcher.
type Server struct {
	db       *database.DB
	listener net.Listener
}

func New(db *database.DB) *Server {
	return &Server{db: db}
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	log.Info("S2S command rail listening on %s", addr)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				conn, err := s.listener.Accept()
				if err != nil {
					select {
					case <-ctx.Done():
						return
					default:
					}
					log.Warn("S2S accept failed: error=%v", err)
					continue
				}
				go s.handleConnection(ctx, conn)
			}
		}
	}()

	<-ctx.Done()
	return s.listener.Close()
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	reader := protocol.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			if err != io.EOF {
				log.Debug("S2S read error, closing: peer=%s error=%v", conn.RemoteAddr(), err)
			}
			return
		}

		resp := s.handleFrame(ctx, frame)
		line, err := json.Marshal(resp)
		if err != nil {
			return
		}
		if _, err := writer.Write(append(line, '\n')); err != nil {
			return
		}
		if err := writer.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) handleFrame(ctx context.Context, frame []byte) interface{} {
	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return errorResponse{Error: "malformed request"}
	}
	if req.Type == "" {
		return errorResponse{Error: "missing type"}
	}

	ok, err := s.verify(ctx, req)
	if err != nil {
		log.Warn("S2S auth lookup failed: error=%v", err)
		return errorResponse{Error: "store error"}
	}
	if !ok {
		return errorResponse{Error: "invalid signature"}
	}

	return s.accept(ctx, req)
}

func (s *Server) verify(ctx context.Context, req Request) (bool, error) {
	var secret string
	row := s.db.QueryRowContext(ctx, `SELECT secret FROM s2s_keys WHERE key_id = ?`, req.KeyID)
	if err := row.Scan(&secret); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(req.KeyID))
	mac.Write([]byte(req.Type))
	mac.Write(req.Payload)
	mac.Write([]byte(req.IdemKey))
	expected := hex.EncodeToString(mac.Sum(nil))

	got, err := hex.DecodeString(req.Signature)
	if err != nil {
		return false, nil
	}
	want, _ := hex.DecodeString(expected)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// accept inserts the command into engine_commands, replaying the existing
// row verbatim on an idem_key conflict per the s2s contract.
func (s *Server) accept(ctx context.Context, req Request) interface{} {
	if req.IdemKey != "" {
		var id int64
		var dueAt string
		row := s.db.QueryRowContext(ctx,
			`SELECT id, due_at FROM engine_commands WHERE idem_key = ?`, req.IdemKey)
		if err := row.Scan(&id, &dueAt); err == nil {
			return acceptedResponse{CmdID: id, DueAt: dueAt, Duplicate: true}
		} else if err != sql.ErrNoRows {
			return errorResponse{Error: "store error"}
		}
	}

	payload := string(req.Payload)
	if payload == "" {
		payload = "{}"
	}

	var idemKey interface{}
	if req.IdemKey != "" {
		idemKey = req.IdemKey
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO engine_commands (type, payload, status, due_at, idem_key)
		 VALUES (?, ?, 'ready', datetime('now'), ?)`, req.Type, payload, idemKey)
	if err != nil {
		// A racing duplicate insert on idem_key loses the unique-conflict
		// race; re-read and return the winner's row rather than erroring.
		if req.IdemKey != "" {
			var id int64
			var dueAt string
			row := s.db.QueryRowContext(ctx,
				`SELECT id, due_at FROM engine_commands WHERE idem_key = ?`, req.IdemKey)
			if scanErr := row.Scan(&id, &dueAt); scanErr == nil {
				return acceptedResponse{CmdID: id, DueAt: dueAt, Duplicate: true}
			}
		}
		return errorResponse{Error: "store error"}
	}

	id, _ := res.LastInsertId()
	var dueAt string
	s.db.QueryRowContext(ctx, `SELECT due_at FROM engine_commands WHERE id = ?`, id).Scan(&dueAt)
	return acceptedResponse{CmdID: id, DueAt: dueAt, Duplicate: false}
}

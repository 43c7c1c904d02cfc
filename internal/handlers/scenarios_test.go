// File: internal/handlers/scenarios_test.go
// Project: Coldport
// Description: Named end-to-end scenarios, each one exercising a chain of
//              handlers the way a single real client session would.
package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"regexp"
	"testing"
	"time"

	"github.com/coldport/coldport-server/internal/broadcast"
	"github.com/coldport/coldport-server/internal/dispatch"
	"github.com/coldport/coldport-server/internal/protocol"
	"github.com/coldport/coldport-server/internal/session"
)

var hex64 = regexp.MustCompile(`^[0-9a-f]{64}$`)

func decodeData(t *testing.T, out protocol.Outbound, dst interface{}) {
	t.Helper()
	raw, err := json.Marshal(out.Data)
	if err != nil {
		t.Fatalf("failed to re-marshal response data: %v", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("failed to decode response data: %v", err)
	}
}

// TestScenarioS1RegisterLoginScan: register a new player, log in with the
// same credentials, and scan FedSpace sector 1.
func TestScenarioS1RegisterLoginScan(t *testing.T) {
	d, auth := newTestDeps(t)
	d.Auth = auth
	d.Broadcaster = broadcast.New()
	d.Sessions = session.NewManager(d.DB)
	t.Cleanup(d.Sessions.Shutdown)
	ctx := context.Background()
	cc := newTestClient(t, 0)

	regData, _ := json.Marshal(map[string]string{"name": "alice", "password": "password1"})
	regOut := d.handleAuthRegister(ctx, cc, protocol.Inbound{Command: "auth.register", RequestID: "r1", Data: regData})
	if regOut.Status != protocol.StatusOK {
		t.Fatalf("expected auth.register to succeed, got status=%s error=%+v", regOut.Status, regOut.Error)
	}
	var reg struct {
		Token    string `json:"token"`
		PlayerID int64  `json:"player_id"`
	}
	decodeData(t, regOut, &reg)
	if reg.PlayerID == 0 {
		t.Fatalf("expected a non-zero player_id from registration")
	}

	loginData, _ := json.Marshal(map[string]string{"name": "alice", "password": "password1"})
	loginOut := d.handleAuthLogin(ctx, cc, protocol.Inbound{Command: "auth.login", RequestID: "r2", Data: loginData})
	if loginOut.Status != protocol.StatusOK {
		t.Fatalf("expected auth.login to succeed, got status=%s error=%+v", loginOut.Status, loginOut.Error)
	}
	var login struct {
		Token    string `json:"token"`
		PlayerID int64  `json:"player_id"`
	}
	decodeData(t, loginOut, &login)
	if login.PlayerID != reg.PlayerID {
		t.Errorf("login player_id = %d, want %d (the registered player)", login.PlayerID, reg.PlayerID)
	}
	if !hex64.MatchString(login.Token) {
		t.Errorf("expected a 64-hex-character session token, got %q", login.Token)
	}

	scanData, _ := json.Marshal(map[string]int64{"sector_id": 1})
	scanOut := d.handleSectorScan(ctx, cc, protocol.Inbound{Command: "sector.scan", RequestID: "r3", Data: scanData})
	if scanOut.Status != protocol.StatusOK {
		t.Fatalf("expected sector.scan to succeed, got status=%s error=%+v", scanOut.Status, scanOut.Error)
	}
	var scan struct {
		Name        string `json:"name"`
		SafeZone    bool   `json:"safe_zone"`
		PortPresent bool   `json:"port_present"`
	}
	decodeData(t, scanOut, &scan)
	if scan.Name != "Sol" {
		t.Errorf("sector 1 name = %q, want %q", scan.Name, "Sol")
	}
	if !scan.SafeZone {
		t.Errorf("sector 1 should be a FedSpace safe zone")
	}
	if !scan.PortPresent {
		t.Errorf("sector 1 should report a port present (the seeded class-1 port)")
	}
}

// TestScenarioS2WarpFedspaceRing: warping along a real ring link succeeds
// and moves the ship; warping to an unconnected sector refuses with
// REF_NO_WARP_LINK.
func TestScenarioS2WarpFedspaceRing(t *testing.T) {
	d, auth := newTestDeps(t)
	ctx := context.Background()
	playerID := registerPlayer(t, auth, "warper")
	cc := newTestClient(t, playerID)

	warpData, _ := json.Marshal(map[string]int64{"to": 2})
	out := d.handleMoveWarp(ctx, cc, protocol.Inbound{Command: "move.warp", RequestID: "r1", Data: warpData})
	if out.Status != protocol.StatusOK {
		t.Fatalf("expected warp 1->2 to succeed, got status=%s error=%+v", out.Status, out.Error)
	}

	var sector int64
	d.DB.QueryRowContext(ctx, `
		SELECT s.sector FROM players p JOIN ships s ON s.id = p.active_ship_id WHERE p.id = ?`, playerID).Scan(&sector)
	if sector != 2 {
		t.Errorf("ship sector after warp = %d, want 2", sector)
	}

	badWarp, _ := json.Marshal(map[string]int64{"to": 100})
	out = d.handleMoveWarp(ctx, cc, protocol.Inbound{Command: "move.warp", RequestID: "r2", Data: badWarp})
	if out.Status != protocol.StatusRefused {
		t.Fatalf("expected a refusal warping to an unconnected sector, got status=%s", out.Status)
	}
	if out.Error.Code != protocol.RefNoWarpLink {
		t.Errorf("expected REF_NO_WARP_LINK, got %v", out.Error.Code)
	}
}

// TestScenarioS3AutopilotPath: pathfinding from sector 9 to 6 over the
// seeded FedSpace ring returns a short path with no avoided sectors.
func TestScenarioS3AutopilotPath(t *testing.T) {
	d, auth := newTestDeps(t)
	ctx := context.Background()
	playerID := registerPlayer(t, auth, "navigator")
	cc := newTestClient(t, playerID)

	reqData, _ := json.Marshal(map[string]interface{}{"from": 9, "to": 6})
	out := d.handleMoveAutopilotStart(ctx, cc, protocol.Inbound{Command: "move.pathfind", RequestID: "r1", Data: reqData})
	if out.Status != protocol.StatusOK {
		t.Fatalf("expected pathfinding from 9 to 6 to succeed, got status=%s error=%+v", out.Status, out.Error)
	}
	var route struct {
		FromSectorID int64   `json:"from_sector_id"`
		ToSectorID   int64   `json:"to_sector_id"`
		Path         []int64 `json:"path"`
		Hops         int     `json:"hops"`
	}
	decodeData(t, out, &route)
	if route.FromSectorID != 9 || route.ToSectorID != 6 {
		t.Fatalf("route endpoints = (%d,%d), want (9,6)", route.FromSectorID, route.ToSectorID)
	}
	if len(route.Path) == 0 || route.Path[0] != 9 || route.Path[len(route.Path)-1] != 6 {
		t.Errorf("path = %v, want to start at 9 and end at 6", route.Path)
	}
	if len(route.Path) > 4 {
		t.Errorf("path length = %d, want <= 4 over the seeded ring", len(route.Path))
	}
}

// wireClient is a minimal test double for a real Coldport client: it speaks
// the newline-delimited JSON protocol directly over a TCP connection, since
// idempotency-key replay is the Dispatcher's job, not any individual
// handler's, and so needs the real frame-handling path to exercise.
type wireClient struct {
	conn net.Conn
	r    *bufio.Reader
}

func (c *wireClient) call(req protocol.Inbound) protocol.Outbound {
	b, _ := json.Marshal(req)
	b = append(b, '\n')
	if _, err := c.conn.Write(b); err != nil {
		panic(err)
	}
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		panic(err)
	}
	var out protocol.Outbound
	if err := json.Unmarshal(line, &out); err != nil {
		panic(err)
	}
	return out
}

// startTestServer boots a real Dispatcher on an ephemeral loopback port and
// returns a connected wireClient.
func startTestServer(t *testing.T, d *Deps, auth *session.Auth) *wireClient {
	t.Helper()
	bcaster := broadcast.New()
	d.Broadcaster = bcaster
	sessions := session.NewManager(d.DB)
	t.Cleanup(sessions.Shutdown)

	disp := dispatch.New(d.DB, auth, sessions, bcaster, nil)
	disp.RegisterMany(All(d))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve a test port: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go disp.ListenAndServe(ctx, addr)

	var conn net.Conn
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if conn == nil {
		t.Fatalf("failed to connect to test server at %s: %v", addr, err)
	}
	t.Cleanup(func() { conn.Close() })

	return &wireClient{conn: conn, r: bufio.NewReader(conn)}
}

// TestScenarioS4IdempotentDeposit: depositing twice with the same
// idempotency_key produces exactly one ledger movement and replays the
// original response rather than running the handler again.
func TestScenarioS4IdempotentDeposit(t *testing.T) {
	d, auth := newTestDeps(t)
	ctx := context.Background()

	regData, _ := json.Marshal(map[string]string{"name": "depositor", "password": "password1"})
	client := startTestServer(t, d, auth)
	regOut := client.call(protocol.Inbound{Command: "auth.register", RequestID: "reg", Data: regData})
	if regOut.Status != protocol.StatusOK {
		t.Fatalf("expected auth.register to succeed, got status=%s error=%+v", regOut.Status, regOut.Error)
	}
	var reg struct {
		Token    string `json:"token"`
		PlayerID int64  `json:"player_id"`
	}
	decodeData(t, regOut, &reg)

	depositData, _ := json.Marshal(map[string]int64{"amount": 100})
	req := protocol.Inbound{Command: "bank.deposit", RequestID: "r1", IdempotencyKey: "k1", Data: depositData}

	first := client.call(req)
	if first.Status != protocol.StatusOK {
		t.Fatalf("expected first deposit to succeed, got status=%s error=%+v", first.Status, first.Error)
	}
	balanceAfterFirst := bankBalance(t, d, reg.PlayerID)

	req.RequestID = "r2"
	second := client.call(req)
	if second.Status != protocol.StatusOK {
		t.Fatalf("expected the replayed deposit call to still report success, got status=%s", second.Status)
	}
	if second.RequestID != req.RequestID {
		t.Errorf("replayed response request_id = %q, want %q (this call's own request_id)", second.RequestID, req.RequestID)
	}

	balanceAfterSecond := bankBalance(t, d, reg.PlayerID)
	if balanceAfterSecond != balanceAfterFirst {
		t.Errorf("balance changed on replay: first=%d second=%d, want identical", balanceAfterFirst, balanceAfterSecond)
	}

	var txCount int
	d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bank_transactions
		WHERE owner_type = 'player' AND owner_id = ? AND reason = 'deposit'`, reg.PlayerID).Scan(&txCount)
	if txCount != 1 {
		t.Errorf("expected exactly one ledger row for the idempotent deposit, got %d", txCount)
	}
}

// TestScenarioS5CitadelUpgradePreconditions: a level-1 citadel upgrade on a
// planet with no ore on hand refuses and reports the missing resource.
func TestScenarioS5CitadelUpgradePreconditions(t *testing.T) {
	d, auth := newTestDeps(t)
	ctx := context.Background()
	playerID := registerPlayer(t, auth, "colonist")
	cc := newTestClient(t, playerID)

	const planetID = 950
	if _, err := d.DB.ExecContext(ctx, `
		INSERT INTO planets (id, sector, owner_type, owner_id, class, ore_on_hand, organics_on_hand, equipment_on_hand)
		VALUES (?, 1, 'player', ?, 'M', 0, 99999, 99999)`, planetID, playerID); err != nil {
		t.Fatalf("failed to seed planet: %v", err)
	}
	if _, err := d.DB.ExecContext(ctx, `
		INSERT INTO citadels (planet_id, level, construction_status, target_level, upgrade_started_at, upgrade_ends_at)
		VALUES (?, 0, 'idle', 0, datetime('now'), datetime('now'))`, planetID); err != nil {
		t.Fatalf("failed to seed citadel: %v", err)
	}

	reqData, _ := json.Marshal(map[string]int64{"planet_id": planetID})
	out := d.handleCitadelUpgrade(ctx, cc, protocol.Inbound{Command: "citadel.upgrade", RequestID: "r1", Data: reqData})
	if out.Status != protocol.StatusRefused {
		t.Fatalf("expected citadel.upgrade to refuse with no ore on hand, got status=%s", out.Status)
	}

	var meta struct {
		Missing map[string]int64 `json:"missing"`
	}
	metaRaw, _ := json.Marshal(out.Error.Meta)
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		t.Fatalf("failed to decode refusal meta: %v", err)
	}
	oreCost, ok := meta.Missing["ore"]
	if !ok {
		t.Fatalf("expected meta.missing.ore to be reported, got %+v", meta.Missing)
	}
	if oreCost <= 0 {
		t.Errorf("expected a positive ore cost in meta.missing.ore, got %d", oreCost)
	}
	if _, hasOrganics := meta.Missing["organics"]; hasOrganics {
		t.Errorf("organics were stocked in full, should not appear in meta.missing")
	}
}

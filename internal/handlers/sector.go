// File: internal/handlers/sector.go
// Project: Coldport
// Description: sector.scan/info/search/set_beacon
package handlers

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/coldport/coldport-server/internal/dispatch"
	"github.com/coldport/coldport-server/internal/protocol"
)

func (d *Deps) sectorHandlers() map[string]dispatch.HandlerFunc {
	return map[string]dispatch.HandlerFunc{
		"sector.scan":        d.handleSectorScan,
		"sector.info":        d.handleSectorScan,
		"sector.search":      d.handleSectorSearch,
		"sector.set_beacon":  d.handleSectorSetBeacon,
	}
}

type sectorRequest struct {
	SectorID int64 `json:"sector_id"`
}

func (d *Deps) currentSectorID(ctx context.Context, playerID int64) (int64, error) {
	var sectorID int64
	row := d.DB.QueryRowContext(ctx, `
		SELECT s.sector FROM players p
		JOIN ships s ON s.id = p.active_ship_id
		WHERE p.id = ?`, playerID)
	if err := row.Scan(&sectorID); err != nil {
		return 0, err
	}
	return sectorID, nil
}

func (d *Deps) handleSectorScan(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in sectorRequest
	_ = json.Unmarshal(req.Data, &in)

	sectorID := in.SectorID
	if sectorID == 0 {
		sid, err := d.currentSectorID(ctx, cc.PlayerID())
		if err != nil {
			return protocol.Error(req.RequestID, protocol.ErrDB, "failed to resolve current sector")
		}
		sectorID = sid
	}
	cc.SetSector(sectorID)

	var name, beacon, nebula sql.NullString
	var safeZone int
	row := d.DB.QueryRowContext(ctx,
		`SELECT name, beacon, nebula, safe_zone FROM sectors WHERE id = ?`, sectorID)
	if err := row.Scan(&name, &beacon, &nebula, &safeZone); err != nil {
		if err == sql.ErrNoRows {
			return protocol.Error(req.RequestID, protocol.ErrSectorNotFound, "sector not found")
		}
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}

	var portCount int
	d.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM ports WHERE sector = ?`, sectorID).Scan(&portCount)

	var warps []int64
	rows, err := d.DB.QueryContext(ctx, `SELECT to_sector FROM sector_warps WHERE from_sector = ?`, sectorID)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var w int64
			if rows.Scan(&w) == nil {
				warps = append(warps, w)
			}
		}
	}

	return protocol.OK(req.RequestID, "sector.scan.v1", map[string]interface{}{
		"sector_id": sectorID,
		"name":      name.String,
		"beacon":    beacon.String,
		"nebula":    nebula.String,
		"safe_zone": safeZone == 1,
		"port_present": portCount > 0,
		"warps":     warps,
	})
}

func (d *Deps) handleSectorSearch(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var filter struct {
		NamePrefix string `json:"name_prefix"`
	}
	_ = json.Unmarshal(req.Data, &filter)

	rows, err := d.DB.QueryContext(ctx,
		`SELECT id, name FROM sectors WHERE name LIKE ? ORDER BY id LIMIT 50`, filter.NamePrefix+"%")
	if err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}
	defer rows.Close()

	type match struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	var matches []match
	for rows.Next() {
		var m match
		if rows.Scan(&m.ID, &m.Name) == nil {
			matches = append(matches, m)
		}
	}

	return protocol.OK(req.RequestID, "sector.search.v1", map[string]interface{}{"matches": matches})
}

func (d *Deps) handleSectorSetBeacon(ctx context.Context, cc *dispatch.ClientContext, req protocol.Inbound) protocol.Outbound {
	var in struct {
		SectorID int64  `json:"sector_id"`
		Text     string `json:"text"`
	}
	if err := json.Unmarshal(req.Data, &in); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrInvalidSchema, "invalid request body")
	}

	if _, err := d.DB.ExecContext(ctx, `UPDATE sectors SET beacon = ? WHERE id = ?`, in.Text, in.SectorID); err != nil {
		return protocol.Error(req.RequestID, protocol.ErrDB, "store error")
	}

	return protocol.OK(req.RequestID, "sector.beacon_set_v1", map[string]interface{}{"sector_id": in.SectorID})
}

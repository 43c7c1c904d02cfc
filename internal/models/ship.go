// File: internal/models/ship.go
// Project: Coldport
// Description: Ship entity, ownership edges, and ship-type templates
package models

// Ship is a mutable game entity; ShipType is its immutable template
// (maxima, purchase requirements, capability flags).
type Ship struct {
	ID         int64
	ShipTypeID int64
	Sector     int64

	// Cargo counters; invariant: sum <= Holds.
	Ore        int
	Organics   int
	Equipment  int
	Colonists  int
	Contraband int

	// Combat loadout.
	Fighters  int
	Shields   int
	Mines     int
	Limpets   int
	Photons   int
	Probes    int
	Detonators int
	Genesis   int

	Hull int

	CanTranswarp bool
	HasCloak     bool
	HasScanners  bool

	Docked    bool
	Landed    bool
	Destroyed bool
}

func (s *Ship) CargoUsed() int {
	return s.Ore + s.Organics + s.Equipment + s.Colonists + s.Contraband
}

// ShipRole distinguishes a ship's ownership relation from who is currently
// flying it; a ship can be co-owned (corp fleet) but only one pilot at a
// time holds IsPrimary on a given (player, ship) edge.
type ShipRole string

const (
	RoleOwner ShipRole = "owner"
	RolePilot ShipRole = "pilot"
	RoleCrew  ShipRole = "crew"
)

type ShipOwnership struct {
	PlayerID  int64
	ShipID    int64
	Role      ShipRole
	IsPrimary bool
}

// ShipType is reference data: the spec fixes its shape, not its rows.
type ShipType struct {
	ID               int64
	Name             string
	Holds            int
	MaxFighters      int
	MaxShields       int
	MaxMines         int
	RequiredAlignMin int64
	RequiredRank     string
	RequiredExp      int64
	CanTranswarp     bool
	HasScanners      bool
	CanCloak         bool
	BasePrice        int64
}

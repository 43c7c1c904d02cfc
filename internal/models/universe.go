// File: internal/models/universe.go
// Project: Coldport
// Description: Sectors, warps, ports, planets, and citadels
package models

// FedSpaceMax is the highest sector id of the FedSpace safe zone (seeded as
// sectors.safe_zone = 1 for 1-10). Nothing reads this constant, and no
// handler refuses an action because its sector is in the safe zone.
const FedSpaceMax = 10

type Sector struct {
	ID       int64
	Name     string
	Beacon   string
	Nebula   string
	SafeZone bool
}

// WarpEdge is a directed (from, to) pair; adjacency may be asymmetric, so
// A->B existing says nothing about B->A.
type WarpEdge struct {
	From int64
	To   int64
}

// TradeCode encodes which side of ore/organics/equipment a port buys vs
// sells, e.g. "BBS" means buys ore, buys organics, sells equipment.
type TradeCode string

type Port struct {
	ID             int64
	Sector         int64
	TradeCode      TradeCode
	Size           int // capacity multiplier driver
	TechLevel      int
	PettyCash      int64
	EconomyCurve   string
}

// PlanetClass is a single letter per the classic TW2002 taxonomy; the
// mapping from letter to habitability/yield rules is data, not design.
type PlanetClass string

const (
	ClassM PlanetClass = "M"
	ClassL PlanetClass = "L"
	ClassO PlanetClass = "O"
	ClassK PlanetClass = "K"
	ClassH PlanetClass = "H"
	ClassU PlanetClass = "U"
	ClassC PlanetClass = "C"
)

type Planet struct {
	ID         int64
	Sector     int64
	Owner      OwnerRef
	Class      PlanetClass
	Population int64

	Ore       int64
	Organics  int64
	Equipment int64

	Colonists int64
	Fighters  int
	Genesis   bool

	TerraformCounter int
}

type CitadelStatus string

const (
	CitadelIdle     CitadelStatus = "idle"
	CitadelUpgrading CitadelStatus = "upgrading"
)

const CitadelMaxLevel = 6

type Citadel struct {
	PlanetID          int64
	Level             int
	Status            CitadelStatus
	TargetLevel       int
	UpgradeStartedAt  int64 // unix seconds
	UpgradeEndsAt     int64 // unix seconds
}

// CitadelLevelCost is seed/reference data: the resource cost and duration
// to reach a given level.
type CitadelLevelCost struct {
	Level        int
	OreCost      int64
	OrganicsCost int64
	EquipCost    int64
	Days         int
}

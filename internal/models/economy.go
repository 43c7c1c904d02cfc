// File: internal/models/economy.go
// Project: Coldport
// Description: Commodities, port stock, bank ledger, and trade history
package models

import "time"

type CommodityCode string

const (
	CommodityOre       CommodityCode = "ore"
	CommodityOrganics  CommodityCode = "organics"
	CommodityEquipment CommodityCode = "equipment"
)

// Commodity is reference data (base price + volatility); rows are seeded,
// not designed here.
type Commodity struct {
	Code       CommodityCode
	BasePrice  int64
	Volatility float64
}

// EntityStock materializes per-commodity stock for any stockholding entity
// (currently only ports, per entity_type='port'), keyed by (entity_type,
// entity_id, commodity_code).
type EntityStock struct {
	EntityType string
	EntityID   int64
	Commodity  CommodityCode
	Quantity   int64
	Price      int64
}

type LedgerDirection string

const (
	Credit LedgerDirection = "CREDIT"
	Debit  LedgerDirection = "DEBIT"
)

// BankAccount balances are derived, never written directly outside of the
// seed path; every mutation goes through a BankTransaction row.
type BankAccount struct {
	Owner    OwnerRef
	Currency string
	Balance  int64
}

type BankTransaction struct {
	ID         int64
	Owner      OwnerRef
	Currency   string
	Direction  LedgerDirection
	Amount     int64
	TxGroupID  string // pairs the two legs of a transfer
	CreatedAt  time.Time
	Reason     string
}

type TradeLog struct {
	ID         int64
	PlayerID   int64
	PortID     int64
	Commodity  CommodityCode
	Quantity   int64
	UnitPrice  int64
	Direction  LedgerDirection // player's side: CREDIT = player sold to port
	CreatedAt  time.Time
}

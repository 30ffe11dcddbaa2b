package domain

// OrderSide defines the direction of an order.
type OrderSide int

const (
	SideBuy OrderSide = iota + 1
	SideSell
)

// String returns the string representation of OrderSide
func (s OrderSide) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the other side of the book.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType defines the execution semantics of an order.
type OrderType int

const (
	OrderTypeMarket OrderType = iota + 1
	OrderTypeLimit
	OrderTypeStopMarket
	OrderTypeStopLimit
	OrderTypeMarketIfTouched
	OrderTypeLimitIfTouched
	OrderTypeTrailingStopMarket
)

// String returns the string representation of OrderType
func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeStopMarket:
		return "STOP_MARKET"
	case OrderTypeStopLimit:
		return "STOP_LIMIT"
	case OrderTypeMarketIfTouched:
		return "MARKET_IF_TOUCHED"
	case OrderTypeLimitIfTouched:
		return "LIMIT_IF_TOUCHED"
	case OrderTypeTrailingStopMarket:
		return "TRAILING_STOP_MARKET"
	default:
		return "UNKNOWN"
	}
}

// IsConditional reports whether the order type rests dormant until a
// trigger price is crossed.
func (t OrderType) IsConditional() bool {
	switch t {
	case OrderTypeStopMarket, OrderTypeStopLimit, OrderTypeMarketIfTouched,
		OrderTypeLimitIfTouched, OrderTypeTrailingStopMarket:
		return true
	default:
		return false
	}
}

// OrderStatus defines the lifecycle state of an order.
// Transitions are monotonic; terminal states never transition further.
type OrderStatus int

const (
	StatusInitialized OrderStatus = iota + 1
	StatusEmulated
	StatusSubmitted
	StatusAccepted
	StatusTriggered
	StatusPartiallyFilled
	StatusFilled
	StatusCanceled
	StatusExpired
	StatusRejected
	StatusDenied
)

// String returns the string representation of OrderStatus
func (s OrderStatus) String() string {
	switch s {
	case StatusInitialized:
		return "INITIALIZED"
	case StatusEmulated:
		return "EMULATED"
	case StatusSubmitted:
		return "SUBMITTED"
	case StatusAccepted:
		return "ACCEPTED"
	case StatusTriggered:
		return "TRIGGERED"
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusFilled:
		return "FILLED"
	case StatusCanceled:
		return "CANCELED"
	case StatusExpired:
		return "EXPIRED"
	case StatusRejected:
		return "REJECTED"
	case StatusDenied:
		return "DENIED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether the status is final.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusExpired, StatusRejected, StatusDenied:
		return true
	default:
		return false
	}
}

// TimeInForce defines how long an order remains in force.
type TimeInForce int

const (
	TIFGTC TimeInForce = iota + 1 // Good till canceled
	TIFIOC                        // Immediate or cancel
	TIFFOK                        // Fill or kill
	TIFGTD                        // Good till date
)

// String returns the string representation of TimeInForce
func (t TimeInForce) String() string {
	switch t {
	case TIFGTC:
		return "GTC"
	case TIFIOC:
		return "IOC"
	case TIFFOK:
		return "FOK"
	case TIFGTD:
		return "GTD"
	default:
		return "UNKNOWN"
	}
}

// TriggerType defines which price series a conditional order triggers on.
type TriggerType int

const (
	TriggerLastPrice TriggerType = iota + 1
	TriggerBidAsk
	TriggerMarkPrice
)

// String returns the string representation of TriggerType
func (t TriggerType) String() string {
	switch t {
	case TriggerLastPrice:
		return "LAST_PRICE"
	case TriggerBidAsk:
		return "BID_ASK"
	case TriggerMarkPrice:
		return "MARK_PRICE"
	default:
		return "UNKNOWN"
	}
}

// ContingencyType defines how linked orders resolve each other.
type ContingencyType int

const (
	ContingencyNone ContingencyType = iota
	ContingencyOTO                  // One triggers the other
	ContingencyOCO                  // One cancels the other
)

// String returns the string representation of ContingencyType
func (c ContingencyType) String() string {
	switch c {
	case ContingencyOTO:
		return "OTO"
	case ContingencyOCO:
		return "OCO"
	default:
		return "NONE"
	}
}

// LiquiditySide tags a fill as passive or aggressive.
type LiquiditySide int

const (
	LiquidityMaker LiquiditySide = iota + 1
	LiquidityTaker
)

// String returns the string representation of LiquiditySide
func (l LiquiditySide) String() string {
	switch l {
	case LiquidityMaker:
		return "MAKER"
	case LiquidityTaker:
		return "TAKER"
	default:
		return "UNKNOWN"
	}
}

// AggressorSide marks which side initiated a trade.
type AggressorSide int

const (
	AggressorBuyer AggressorSide = iota + 1
	AggressorSeller
)

// String returns the string representation of AggressorSide
func (a AggressorSide) String() string {
	switch a {
	case AggressorBuyer:
		return "BUYER"
	case AggressorSeller:
		return "SELLER"
	default:
		return "UNKNOWN"
	}
}

// AccountType defines the margin model of a venue account.
type AccountType int

const (
	AccountCash AccountType = iota + 1
	AccountMargin
)

// String returns the string representation of AccountType
func (a AccountType) String() string {
	switch a {
	case AccountCash:
		return "CASH"
	case AccountMargin:
		return "MARGIN"
	default:
		return "UNKNOWN"
	}
}

// OmsType defines how the venue nets positions.
type OmsType int

const (
	OmsNetting OmsType = iota + 1 // One position per instrument
	OmsHedging                    // Multiple concurrent positions per instrument
)

// String returns the string representation of OmsType
func (o OmsType) String() string {
	switch o {
	case OmsNetting:
		return "NETTING"
	case OmsHedging:
		return "HEDGING"
	default:
		return "UNKNOWN"
	}
}

// PositionSide defines the direction of an open position.
type PositionSide int

const (
	PositionFlat PositionSide = iota
	PositionLong
	PositionShort
)

// String returns the string representation of PositionSide
func (p PositionSide) String() string {
	switch p {
	case PositionLong:
		return "LONG"
	case PositionShort:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// MarketStatus defines whether a venue accepts and matches orders.
type MarketStatus int

const (
	MarketOpen MarketStatus = iota + 1
	MarketPaused
	MarketClosed
)

// String returns the string representation of MarketStatus
func (m MarketStatus) String() string {
	switch m {
	case MarketOpen:
		return "OPEN"
	case MarketPaused:
		return "PAUSED"
	case MarketClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

package ussd

import "github.com/shopspring/decimal"

// State is a position in the top-up dialog. Its value is the gateway's
// sequence number for that step.
type State int

const (
	AwaitingMeterNumber  State = 1
	AwaitingAmount       State = 2
	AwaitingConfirmation State = 3
)

// StateFor maps a sequence number to its state.
func StateFor(sequence int) (State, bool) {
	s := State(sequence)
	switch s {
	case AwaitingMeterNumber, AwaitingAmount, AwaitingConfirmation:
		return s, true
	}
	return 0, false
}

func (s State) String() string {
	switch s {
	case AwaitingMeterNumber:
		return "awaiting_meter_number"
	case AwaitingAmount:
		return "awaiting_amount"
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	}
	return "invalid"
}

// FrameType tells the gateway whether the dialog continues, ends, or
// hands off to checkout.
type FrameType string

const (
	Response  FrameType = "response"
	Release   FrameType = "release"
	AddToCart FrameType = "AddToCart"
)

// DataType says whether the handset shows an input field.
type DataType string

const (
	Input   DataType = "input"
	Display DataType = "display"
)

// FieldType is the keypad hint for an input field.
type FieldType string

const (
	Text    FieldType = "text"
	Decimal FieldType = "decimal"
	Number  FieldType = "number"
)

// CartItem is the order line submitted to the gateway checkout.
type CartItem struct {
	Name  string
	Qty   int
	Price decimal.Decimal
}

// Frame is the menu content returned for one dialog step.
type Frame struct {
	SessionID string
	Type      FrameType
	Message   string
	Label     string
	DataType  DataType
	FieldType FieldType
	Item      *CartItem
}

// Terminal reports whether the frame ends the dialog.
func (f Frame) Terminal() bool { return f.Type != Response }

// Step is one inbound dialog callback.
type Step struct {
	SessionID string
	Sequence  int
	Message   string
	Mobile    string
}

// PaymentEvent is the gateway's out-of-band payment notice for a session.
type PaymentEvent struct {
	SessionID  string
	OrderID    string
	Mobile     string
	Successful bool
	UnitPrices []decimal.Decimal
}

// Fulfilment is the outcome of a handled PaymentEvent.
type Fulfilment struct {
	Paid    bool
	Status  string
	Message string
}

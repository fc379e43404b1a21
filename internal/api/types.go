// Package api defines the JSON shapes exchanged with the Hubtel gateway.
package api

// Response kinds of a CallbackResponse.
const (
	TypeResponse  = "response"
	TypeRelease   = "release"
	TypeAddToCart = "AddToCart"
)

// CallbackRequest is one step of a USSD dialog. Sequence defaults to 1 when
// the gateway omits it.
type CallbackRequest struct {
	Type        string  `json:"Type"`
	Message     string  `json:"Message"`
	ServiceCode string  `json:"ServiceCode"`
	Operator    string  `json:"Operator"`
	ClientState *string `json:"ClientState,omitempty"`
	Mobile      string  `json:"Mobile"`
	SessionID   string  `json:"SessionId" validate:"required"`
	Sequence    int     `json:"Sequence"`
	Platform    string  `json:"Platform"`
}

// CartItem is the checkout line of an AddToCart response.
type CartItem struct {
	ItemName string  `json:"ItemName"`
	Qty      int     `json:"Qty"`
	Price    float64 `json:"Price"`
}

// CallbackResponse is the menu frame returned for a CallbackRequest.
type CallbackResponse struct {
	SessionID string    `json:"SessionId"`
	Type      string    `json:"Type"`
	Message   string    `json:"Message"`
	Item      *CartItem `json:"Item,omitempty"`
	Label     string    `json:"Label"`
	DataType  string    `json:"DataType"`
	FieldType string    `json:"FieldType"`
}

// Item is one line of a paid order.
type Item struct {
	ItemID    string  `json:"ItemId"`
	Name      string  `json:"Name"`
	Quantity  int     `json:"Quantity"`
	UnitPrice float64 `json:"UnitPrice" validate:"gte=0"`
}

// Payment describes how an order was paid.
type Payment struct {
	PaymentType        string  `json:"PaymentType"`
	AmountPaid         float64 `json:"AmountPaid"`
	AmountAfterCharges float64 `json:"AmountAfterCharges"`
	PaymentDate        string  `json:"PaymentDate"`
	PaymentDescription string  `json:"PaymentDescription"`
	IsSuccessful       bool    `json:"IsSuccessful"`
}

// OrderInfo is the order carried by a PaymentRequest.
type OrderInfo struct {
	CustomerMobileNumber string  `json:"CustomerMobileNumber" validate:"required"`
	CustomerEmail        *string `json:"CustomerEmail,omitempty" validate:"omitempty,email"`
	CustomerName         string  `json:"CustomerName"`
	Status               string  `json:"Status"`
	OrderDate            string  `json:"OrderDate"`
	Currency             string  `json:"Currency"`
	BranchName           string  `json:"BranchName"`
	IsRecurring          bool    `json:"IsRecurring"`
	RecurringInvoiceID   *string `json:"RecurringInvoiceId,omitempty"`
	Subtotal             float64 `json:"Subtotal"`
	Items                []Item  `json:"Items" validate:"dive"`
	Payment              Payment `json:"Payment"`
}

// PaymentRequest is the gateway's notice that an order was paid, or not.
type PaymentRequest struct {
	SessionID string         `json:"SessionId" validate:"required"`
	OrderID   string         `json:"OrderId" validate:"required"`
	ExtraData map[string]any `json:"ExtraData"`
	OrderInfo OrderInfo      `json:"OrderInfo"`
}

// PaymentResponse answers a PaymentRequest.
type PaymentResponse struct {
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// ServiceConfirmation reports the fulfilment outcome of an order back to the
// gateway. MetaData is always null.
type ServiceConfirmation struct {
	SessionID     string `json:"SessionId"`
	OrderID       string `json:"OrderId"`
	ServiceStatus string `json:"ServiceStatus"`
	MetaData      any    `json:"MetaData"`
}

// ServiceInfo is the body of the index route.
type ServiceInfo struct {
	Service string `json:"service"`
	Status  string `json:"status"`
}

// EgressCheckResponse relays the answer of an egress probe: the decoded JSON
// body when there is one, else the HTTP status code.
type EgressCheckResponse struct {
	Message any `json:"message"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Package ussd drives the top-up dialog and fulfils paid orders.
package ussd

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rsclarke/numa/internal/failure"
	"github.com/rsclarke/numa/internal/logging"
	"github.com/rsclarke/numa/internal/messages"
	"github.com/rsclarke/numa/internal/metering"
	"github.com/rsclarke/numa/internal/session"
)

// transactionIDLength is the number of order ID characters the metering
// back-end accepts as a transaction ID.
const transactionIDLength = 16

// ErrNoPendingMeter is returned by Fulfil when the session has no meter
// number on record.
var ErrNoPendingMeter = errors.New("no pending meter number for session")

var meterPattern = regexp.MustCompile(`^[0-9]{13,}$`)

// amountPattern accepts plain amounts of at most nine integer digits and two
// decimal places. Exponents are rejected so every accepted amount is a finite
// cedi value.
var amountPattern = regexp.MustCompile(`^-?[0-9]{1,9}(\.[0-9]{1,2})?$`)

// CustomerLookup resolves a meter number to its registered customer.
type CustomerLookup interface {
	LookupCustomer(ctx context.Context, meterNumber string) (*metering.Customer, error)
}

// Purchaser buys credit for a meter.
type Purchaser interface {
	Purchase(ctx context.Context, transactionID, meterNumber string, payment decimal.Decimal) (*metering.Receipt, error)
}

// SMSSender delivers a text to a subscriber.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// PaymentConfirmer reports an order's fulfilment status to the gateway.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, sessionID, orderID, status string) error
}

// Deps are the collaborators of a Machine.
type Deps struct {
	Lookup    CustomerLookup
	Purchaser Purchaser
	SMS       SMSSender
	Confirmer PaymentConfirmer
	Sessions  *session.Cache
	Messages  *messages.Catalog
	Logger    *zap.Logger
}

// Machine is stateless apart from the session cache and safe for concurrent use.
type Machine struct {
	Deps
	minAmount decimal.Decimal
	logger    *zap.Logger
}

// New creates a Machine accepting top-ups of at least minAmount.
func New(deps Deps, minAmount decimal.Decimal) *Machine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		Deps:      deps,
		minAmount: minAmount,
		logger:    logger.Named("ussd"),
	}
}

// Handle computes the frame for one dialog step. Every failure is rendered
// as a release frame.
func (m *Machine) Handle(ctx context.Context, step Step) Frame {
	log := m.logger.With(logging.SessionID(step.SessionID), logging.Sequence(step.Sequence))

	state, ok := StateFor(step.Sequence)
	if !ok {
		log.Warn("unexpected sequence")
		return m.release(step.SessionID, m.Messages.Text(messages.StepInvalid, nil))
	}

	var f Frame
	switch state {
	case AwaitingMeterNumber:
		f = Frame{
			Type:      Response,
			Message:   m.Messages.Text(messages.Welcome, nil),
			Label:     m.Messages.Text(messages.WelcomeLabel, nil),
			DataType:  Input,
			FieldType: Number,
		}
	case AwaitingAmount:
		f = m.meterEntered(ctx, log, step)
	case AwaitingConfirmation:
		f = m.amountEntered(log, step)
	}
	f.SessionID = step.SessionID
	return f
}

func (m *Machine) meterEntered(ctx context.Context, log *zap.Logger, step Step) Frame {
	meter := strings.TrimSpace(step.Message)
	if !meterPattern.MatchString(meter) {
		log.Info("malformed meter number", logging.MeterNumber(meter))
		return m.release(step.SessionID, m.Messages.Text(messages.MeterInvalid, nil))
	}

	customer, err := m.Lookup.LookupCustomer(ctx, meter)
	if err != nil {
		m.Sessions.Remove(step.SessionID)
		log.Warn("customer lookup failed",
			logging.MeterNumber(meter),
			logging.Kind(string(failure.KindOf(err))),
			zap.Error(err))
		return m.release(step.SessionID, m.failureText(err))
	}

	m.Sessions.Put(step.SessionID, meter)
	log.Info("meter number accepted", logging.MeterNumber(meter))

	return Frame{
		Type:      Response,
		Message:   m.Messages.AmountPrompt(meter, strings.ToUpper(customer.Name)),
		Label:     m.Messages.Text(messages.AmountLabel, nil),
		DataType:  Input,
		FieldType: Decimal,
	}
}

func (m *Machine) amountEntered(log *zap.Logger, step Step) Frame {
	input := strings.TrimSpace(step.Message)
	if !amountPattern.MatchString(input) {
		log.Info("amount is not a plain number", zap.String("input", step.Message))
		return m.release(step.SessionID, m.Messages.Text(messages.AmountInvalid, nil))
	}
	amount, err := decimal.NewFromString(input)
	if err != nil {
		log.Info("amount is not a number", zap.String("input", step.Message))
		return m.release(step.SessionID, m.Messages.Text(messages.AmountInvalid, nil))
	}
	if amount.LessThan(m.minAmount) {
		log.Info("amount below minimum", zap.Stringer("amount", amount))
		return m.release(step.SessionID, m.Messages.BelowMinimum(m.minAmount))
	}

	log.Info("amount added to cart", zap.Stringer("amount", amount))
	submitted := m.Messages.Text(messages.CartSubmitted, nil)
	return Frame{
		Type:      AddToCart,
		Message:   submitted,
		Label:     submitted,
		DataType:  Display,
		FieldType: Text,
		Item: &CartItem{
			Name:  m.Messages.Text(messages.CartItemName, nil),
			Qty:   1,
			Price: amount,
		},
	}
}

// Fulfil purchases credit for a paid order and notifies the subscriber and
// the gateway. The session's cache entry is dropped when any step fails.
func (m *Machine) Fulfil(ctx context.Context, ev PaymentEvent) (*Fulfilment, error) {
	log := m.logger.With(logging.SessionID(ev.SessionID), logging.OrderID(ev.OrderID))

	if !ev.Successful {
		log.Info("payment not successful")
		return &Fulfilment{Message: m.Messages.Text(messages.PaymentUnsuccessful, nil)}, nil
	}

	meter, ok := m.Sessions.Get(ev.SessionID)
	if !ok {
		log.Warn("payment for session without pending meter")
		return nil, ErrNoPendingMeter
	}

	status, err := m.fulfil(ctx, log, ev, meter)
	if err != nil {
		m.Sessions.Remove(ev.SessionID)
		log.Error("fulfilment failed",
			logging.MeterNumber(meter),
			logging.Kind(string(failure.KindOf(err))),
			zap.Error(err))
		return nil, fmt.Errorf("fulfil order %s: %w", ev.OrderID, err)
	}

	return &Fulfilment{
		Paid:    true,
		Status:  status,
		Message: m.Messages.Text(messages.PaymentProcessed, nil),
	}, nil
}

func (m *Machine) fulfil(ctx context.Context, log *zap.Logger, ev PaymentEvent, meter string) (string, error) {
	if len(ev.UnitPrices) == 0 {
		return "", failure.Validation("order has no items")
	}
	txn := TransactionID(ev.OrderID)

	receipt, err := m.Purchaser.Purchase(ctx, txn, meter, ev.UnitPrices[0])
	if err != nil {
		return "", fmt.Errorf("purchase: %w", err)
	}
	status := receipt.Class.ServiceStatus()
	log.Info("purchase answered",
		logging.TransactionID(txn), logging.Code(receipt.Code), logging.Status(status))

	if err := m.SMS.SendSMS(ctx, ev.Mobile, receipt.Message); err != nil {
		return "", fmt.Errorf("send sms: %w", err)
	}
	if err := m.Confirmer.ConfirmPayment(ctx, ev.SessionID, ev.OrderID, status); err != nil {
		return "", fmt.Errorf("confirm payment: %w", err)
	}
	return status, nil
}

// TransactionID derives the metering transaction ID from an order ID.
func TransactionID(orderID string) string {
	if len(orderID) > transactionIDLength {
		return orderID[:transactionIDLength]
	}
	return orderID
}

func (m *Machine) release(sessionID, message string) Frame {
	return Frame{
		SessionID: sessionID,
		Type:      Release,
		Message:   message,
		Label:     m.Messages.Text(messages.ReleaseLabel, nil),
		DataType:  Display,
		FieldType: Text,
	}
}

// failureText picks the subscriber-facing text for a failed step. Refusals
// the gateway documents are shown verbatim; anything else gets the
// customer-care notice.
func (m *Machine) failureText(err error) string {
	if fe, ok := failure.As(err); ok {
		switch fe.Kind {
		case failure.KindProtocol, failure.KindValidation:
			return fe.Message
		}
	}
	return m.Messages.Text(messages.UnexpectedError, nil)
}

// Package metering talks to the LAPIS metering back-end.
package metering

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/rsclarke/numa/internal/failure"
	"github.com/rsclarke/numa/internal/logging"
	"github.com/rsclarke/numa/internal/messages"
	"github.com/rsclarke/numa/internal/token"
)

// DefaultPlatformID identifies this service to the metering back-end.
const DefaultPlatformID = "1783072172428754944"

// ErrMalformedResponse is returned when a response carries no error code.
var ErrMalformedResponse = errors.New("response has no errorcode")

// Config configures a Client.
type Config struct {
	BaseURL    string
	Connection string
	PlatformID string
	Timeout    time.Duration

	// BreakerThreshold is the number of consecutive failures that opens the
	// circuit. BreakerCooldown is how long it then stays open.
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

// Customer is a successful lookup.
type Customer struct {
	MeterNumber string
	Name        string
}

// Receipt is the outcome of a purchase the gateway answered.
type Receipt struct {
	TransactionID  string
	Code           string
	Class          Classification
	Reason         string
	RechargeAmount string
	RechargeVolume string
	Token          string
	Message        string
}

// Client is safe for concurrent use.
type Client struct {
	cfg     Config
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	codec   *token.Codec
	msgs    *messages.Catalog
	logger  *zap.Logger
}

// New creates a Client.
func New(cfg Config, codec *token.Codec, msgs *messages.Catalog, logger *zap.Logger) *Client {
	if cfg.PlatformID == "" {
		cfg.PlatformID = DefaultPlatformID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	logger = logger.Named("metering")

	threshold := cfg.BreakerThreshold
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "lapis",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			var abandoned *callerAbandonedError
			return err == nil || errors.As(err, &abandoned)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				logging.Breaker(name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})

	return &Client{
		cfg:     cfg,
		http:    resty.New().SetTimeout(cfg.Timeout),
		breaker: breaker,
		codec:   codec,
		msgs:    msgs,
		logger:  logger,
	}
}

// LookupCustomer resolves the account holder of meterNumber.
func (c *Client) LookupCustomer(ctx context.Context, meterNumber string) (*Customer, error) {
	fields, raw, err := c.exchange(ctx, "lookup customer", func() (*resty.Response, error) {
		return c.request(ctx).
			SetQueryParams(map[string]string{
				"function":    "querycustomerbymeternumber",
				"meternumber": meterNumber,
				"platformid":  c.cfg.PlatformID,
			}).
			Get(c.cfg.BaseURL)
	})
	if err != nil {
		return nil, err
	}

	code := fields["errorcode"]
	if code == CodeSuccess {
		c.logger.Info("customer found", logging.MeterNumber(meterNumber))
		return &Customer{MeterNumber: meterNumber, Name: fields["customername"]}, nil
	}

	if msg, ok := LookupMessage(code); ok {
		c.logger.Warn("customer lookup refused",
			logging.MeterNumber(meterNumber), logging.Code(code), zap.String("reason", msg))
		return nil, failure.Protocol(code, msg)
	}
	c.logger.Error("customer lookup returned unknown code",
		logging.MeterNumber(meterNumber), logging.Code(code), zap.String("raw", raw))
	return nil, failure.Unknown(code, raw)
}

// Purchase buys payment worth of credit for meterNumber. A refusal the
// gateway documents yields a Receipt carrying the failure notice; transport
// failures and undocumented codes yield an error.
func (c *Client) Purchase(ctx context.Context, transactionID, meterNumber string, payment decimal.Decimal) (*Receipt, error) {
	param, err := c.codec.PurchaseParam(transactionID, payment)
	if err != nil {
		return nil, fmt.Errorf("build purchase parameter: %w", err)
	}

	fields, raw, err := c.exchange(ctx, "purchase", func() (*resty.Response, error) {
		return c.request(ctx).
			SetFormData(map[string]string{
				"operatetype":   "purchasebytransid",
				"transid":       transactionID,
				"meternumber":   meterNumber,
				"platformid":    c.cfg.PlatformID,
				"purchaseparam": param,
			}).
			Post(c.cfg.BaseURL)
	})
	if err != nil {
		return nil, err
	}

	code := fields["errorcode"]
	r := &Receipt{TransactionID: transactionID, Code: code, Class: Classify(code)}

	if code == CodeSuccess {
		r.RechargeAmount = fields["rechargeamount"]
		r.RechargeVolume = fields["rechargevolume"]
		r.Token = token.GroupTokens(fields["tokenlist"])
		r.Message = c.msgs.PurchaseSuccess(transactionID, r.RechargeAmount, r.RechargeVolume, r.Token)
		c.logger.Info("purchase completed",
			logging.TransactionID(transactionID), logging.MeterNumber(meterNumber))
		return r, nil
	}

	reason, ok := PurchaseMessage(code)
	if !ok {
		c.logger.Error("purchase returned unknown code",
			logging.TransactionID(transactionID), logging.Code(code), zap.String("raw", raw))
		return nil, failure.Unknown(code, raw)
	}
	r.Reason = reason
	r.Message = c.msgs.PurchaseFailure(transactionID, reason)
	c.logger.Warn("purchase refused",
		logging.TransactionID(transactionID),
		logging.Code(code),
		logging.Status(string(r.Class)),
		zap.String("reason", reason))
	return r, nil
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.http.R().SetContext(ctx)
	if c.cfg.Connection != "" {
		req.SetHeader("Connection", c.cfg.Connection)
	}
	return req
}

// exchange sends one request through the breaker and parses its body. Any
// failure to obtain a body with an error code is a transport failure. A
// request whose own context ended says nothing about the gateway's health and
// is not counted against the breaker.
func (c *Client) exchange(ctx context.Context, op string, send func() (*resty.Response, error)) (map[string]string, string, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := send()
		if err != nil {
			if ctx.Err() != nil {
				return nil, &callerAbandonedError{err: err}
			}
			return nil, err
		}
		if !resp.IsSuccess() {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode())
		}
		raw := resp.String()
		fields := ParseResponse(raw)
		if _, ok := fields["errorcode"]; !ok {
			return nil, ErrMalformedResponse
		}
		return result{fields: fields, raw: raw}, nil
	})
	if err != nil {
		c.logger.Error("gateway call failed", zap.String("op", op), zap.Error(err))
		return nil, "", failure.Transport(op, err)
	}
	res := out.(result)
	return res.fields, res.raw, nil
}

// callerAbandonedError marks a failure caused by the caller's context.
type callerAbandonedError struct {
	err error
}

func (e *callerAbandonedError) Error() string { return e.err.Error() }

func (e *callerAbandonedError) Unwrap() error { return e.err }

type result struct {
	fields map[string]string
	raw    string
}

// ParseResponse splits an &/= delimited body into its fields. Pairs with an
// empty key are skipped; a pair without "=" maps to the empty string.
func ParseResponse(body string) map[string]string {
	fields := make(map[string]string)
	for _, pair := range strings.Split(strings.TrimSpace(body), "&") {
		key, value, _ := strings.Cut(pair, "=")
		if key == "" {
			continue
		}
		fields[key] = value
	}
	return fields
}

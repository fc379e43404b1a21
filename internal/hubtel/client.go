// Package hubtel sends subscriber SMS and payment fulfilment confirmations
// through the Hubtel gateway.
package hubtel

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/rsclarke/numa/internal/api"
	"github.com/rsclarke/numa/internal/failure"
	"github.com/rsclarke/numa/internal/logging"
)

// DefaultSender is the SMS sender ID.
const DefaultSender = "NUMA"

// Config configures a Client.
type Config struct {
	SMSURL       string
	ClientID     string
	ClientSecret string
	Sender       string

	FulfillmentURL string
	// APIKey is the pre-encoded Basic credential for the fulfilment endpoint.
	APIKey string

	Connection string
	Timeout    time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	cfg    Config
	http   *resty.Client
	logger *zap.Logger
}

// New creates a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Sender == "" {
		cfg.Sender = DefaultSender
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   resty.New().SetTimeout(cfg.Timeout),
		logger: logger.Named("hubtel"),
	}
}

// SendSMS delivers body to the subscriber at to.
func (c *Client) SendSMS(ctx context.Context, to, body string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"clientid":     c.cfg.ClientID,
			"clientsecret": c.cfg.ClientSecret,
			"from":         c.cfg.Sender,
			"to":           to,
			"content":      body,
		}).
		Get(c.cfg.SMSURL)
	if err := checkResponse(resp, err); err != nil {
		c.logger.Error("sms failed", logging.Mobile(to), zap.Error(err))
		return failure.Transport("send sms", err)
	}

	c.logger.Info("sms sent", logging.Mobile(to), logging.HTTPStatus(resp.StatusCode()))
	return nil
}

// ConfirmPayment reports the fulfilment status of an order.
func (c *Client) ConfirmPayment(ctx context.Context, sessionID, orderID, status string) error {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Basic "+c.cfg.APIKey).
		SetHeader("Cache-Control", "no-cache").
		SetBody(api.ServiceConfirmation{
			SessionID:     sessionID,
			OrderID:       orderID,
			ServiceStatus: status,
		})
	if c.cfg.Connection != "" {
		req.SetHeader("Connection", c.cfg.Connection)
	}

	resp, err := req.Post(c.cfg.FulfillmentURL)
	if err := checkResponse(resp, err); err != nil {
		c.logger.Error("fulfilment confirmation failed",
			logging.SessionID(sessionID), logging.OrderID(orderID), zap.Error(err))
		return failure.Transport("confirm payment", err)
	}

	c.logger.Info("fulfilment confirmed",
		logging.SessionID(sessionID), logging.OrderID(orderID), logging.Status(status))
	return nil
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

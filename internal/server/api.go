// Package server implements the callback HTTP server.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rsclarke/numa/internal/api"
	"github.com/rsclarke/numa/internal/failure"
	"github.com/rsclarke/numa/internal/logging"
	"github.com/rsclarke/numa/internal/ussd"
)

const maxBodyBytes = 1 << 16 // 64KB

// Flow is the dialog and fulfilment logic behind the callbacks.
type Flow interface {
	Handle(ctx context.Context, step ussd.Step) ussd.Frame
	Fulfil(ctx context.Context, ev ussd.PaymentEvent) (*ussd.Fulfilment, error)
}

// CallbackServer serves the gateway callbacks and operator diagnostics.
type CallbackServer struct {
	Flow   Flow
	Logger *zap.Logger
	// Egress sends the check-server-ip probe.
	Egress *resty.Client

	validate *validator.Validate
}

// NewCallbackServer creates a CallbackServer.
func NewCallbackServer(flow Flow, egress *resty.Client, logger *zap.Logger) *CallbackServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if egress == nil {
		egress = resty.New()
	}
	return &CallbackServer{
		Flow:     flow,
		Logger:   logger,
		Egress:   egress,
		validate: validator.New(),
	}
}

// Handler returns the HTTP handler for the callback server.
func (s *CallbackServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /api/v1/callback", s.handleCallback)
	mux.HandleFunc("POST /api/v1/payment", s.handlePayment)
	mux.HandleFunc("GET /api/v1/check-server-ip", s.handleCheckServerIP)

	return chain(mux,
		RequestID,
		AccessLog(s.Logger),
		Recover(s.Logger),
		CORS,
	)
}

func (s *CallbackServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.ServiceInfo{Service: "numa", Status: "ok"})
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	req := api.CallbackRequest{Sequence: 1}
	if !s.decode(w, r, &req) {
		return
	}

	frame := s.Flow.Handle(r.Context(), ussd.Step{
		SessionID: req.SessionID,
		Sequence:  req.Sequence,
		Message:   req.Message,
		Mobile:    req.Mobile,
	})

	writeJSON(w, http.StatusOK, callbackResponse(frame))
}

func (s *CallbackServer) handlePayment(w http.ResponseWriter, r *http.Request) {
	var req api.PaymentRequest
	if !s.decode(w, r, &req) {
		return
	}

	ev := ussd.PaymentEvent{
		SessionID:  req.SessionID,
		OrderID:    req.OrderID,
		Mobile:     req.OrderInfo.CustomerMobileNumber,
		Successful: req.OrderInfo.Payment.IsSuccessful,
	}
	for _, item := range req.OrderInfo.Items {
		ev.UnitPrices = append(ev.UnitPrices, unitPrice(item.UnitPrice))
	}

	res, err := s.Flow.Fulfil(r.Context(), ev)
	switch {
	case errors.Is(err, ussd.ErrNoPendingMeter):
		writeJSON(w, http.StatusConflict, api.ErrorResponse{Error: err.Error()})
		return
	case err != nil && failure.KindOf(err) == failure.KindValidation:
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	case err != nil:
		s.Logger.Error("payment fulfilment failed",
			logging.RequestID(RequestIDFrom(r.Context())),
			logging.SessionID(req.SessionID),
			logging.OrderID(req.OrderID),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{
			Error: fmt.Sprintf("payment processing failed for order %s", req.OrderID),
		})
		return
	}

	writeJSON(w, http.StatusOK, api.PaymentResponse{Message: res.Message, Status: res.Status})
}

// handleCheckServerIP posts to an operator-supplied URL, typically an echo
// service, so the response reveals the server's egress address.
func (s *CallbackServer) handleCheckServerIP(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	u, err := url.Parse(target)
	if target == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "url must be an absolute http(s) URL"})
		return
	}

	resp, err := s.Egress.R().SetContext(r.Context()).Post(target)
	if err != nil {
		s.Logger.Warn("egress probe failed", zap.String("url", target), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, api.ErrorResponse{Error: "probe request failed"})
		return
	}

	var body any
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		writeJSON(w, http.StatusOK, api.EgressCheckResponse{Message: resp.StatusCode()})
		return
	}
	writeJSON(w, http.StatusOK, api.EgressCheckResponse{Message: body})
}

// decode reads a JSON body into dst and validates it, answering the request
// itself when either step fails.
func (s *CallbackServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			writeJSON(w, http.StatusRequestEntityTooLarge, api.ErrorResponse{Error: "request body too large"})
		case errors.Is(err, io.EOF):
			writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "empty body"})
		default:
			writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "invalid JSON"})
		}
		return false
	}
	if dec.Decode(&struct{}{}) != io.EOF {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "unexpected trailing data"})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return false
	}
	return true
}

// unitPrice rounds a gateway price to cents the way %.2f does, from its
// binary value: 2.675 becomes 2.67.
func unitPrice(f float64) decimal.Decimal {
	return decimal.RequireFromString(strconv.FormatFloat(f, 'f', 2, 64))
}

func callbackResponse(f ussd.Frame) api.CallbackResponse {
	resp := api.CallbackResponse{
		SessionID: f.SessionID,
		Type:      string(f.Type),
		Message:   f.Message,
		Label:     f.Label,
		DataType:  string(f.DataType),
		FieldType: string(f.FieldType),
	}
	if f.Item != nil {
		resp.Item = &api.CartItem{
			ItemName: f.Item.Name,
			Qty:      f.Item.Qty,
			Price:    f.Item.Price.InexactFloat64(),
		}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

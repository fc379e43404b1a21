package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsclarke/numa/internal/api"
	"github.com/rsclarke/numa/internal/failure"
	"github.com/rsclarke/numa/internal/messages"
	"github.com/rsclarke/numa/internal/session"
	"github.com/rsclarke/numa/internal/ussd"
)

type fakeFlow struct {
	steps  []ussd.Step
	events []ussd.PaymentEvent

	frame      ussd.Frame
	fulfilment *ussd.Fulfilment
	fulfilErr  error
	panicOn    int
}

func (f *fakeFlow) Handle(_ context.Context, step ussd.Step) ussd.Frame {
	if f.panicOn != 0 && step.Sequence == f.panicOn {
		panic("boom")
	}
	f.steps = append(f.steps, step)
	frame := f.frame
	frame.SessionID = step.SessionID
	return frame
}

func (f *fakeFlow) Fulfil(_ context.Context, ev ussd.PaymentEvent) (*ussd.Fulfilment, error) {
	f.events = append(f.events, ev)
	return f.fulfilment, f.fulfilErr
}

func setupTestServer(t *testing.T) (*fakeFlow, http.Handler) {
	t.Helper()
	flow := &fakeFlow{
		frame: ussd.Frame{
			Type:      ussd.Response,
			Message:   "Welcome",
			Label:     "Welcome page",
			DataType:  ussd.Input,
			FieldType: ussd.Number,
		},
		fulfilment: &ussd.Fulfilment{Paid: true, Status: "success", Message: "Payment processed successfully"},
	}
	return flow, NewCallbackServer(flow, nil, nil).Handler()
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(dst), "body: %s", w.Body.String())
}

func paymentBody(unitPrice string, successful bool) string {
	return fmt.Sprintf(`{
	"SessionId": "s1",
	"OrderId": "ac3307bcca7445618071e6b0e41b50b5",
	"ExtraData": {},
	"OrderInfo": {
		"CustomerMobileNumber": "233200000000",
		"CustomerName": "Ama",
		"Status": "Paid",
		"OrderDate": "2026-01-01T12:00:00",
		"Currency": "GHS",
		"BranchName": "Main",
		"IsRecurring": false,
		"Subtotal": %[1]s,
		"Items": [{"ItemId": "1", "Name": "Meter Top-Up", "Quantity": 1, "UnitPrice": %[1]s}],
		"Payment": {
			"PaymentType": "mobilemoney",
			"AmountPaid": %[1]s,
			"AmountAfterCharges": 50,
			"PaymentDate": "2026-01-01T12:00:00",
			"PaymentDescription": "paid",
			"IsSuccessful": %[2]t
		}
	}
}`, unitPrice, successful)
}

func TestIndex(t *testing.T) {
	_, h := setupTestServer(t)

	w := do(h, http.MethodGet, "/", "")

	require.Equal(t, http.StatusOK, w.Code)
	var info api.ServiceInfo
	decodeBody(t, w, &info)
	assert.Equal(t, "numa", info.Service)
}

func TestUnknownRoute(t *testing.T) {
	_, h := setupTestServer(t)

	w := do(h, http.MethodGet, "/nope", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCallback(t *testing.T) {
	flow, h := setupTestServer(t)

	w := do(h, http.MethodPost, "/api/v1/callback",
		`{"Type":"Initiation","Message":"*713#","ServiceCode":"713","Operator":"mtn","Mobile":"233200000000","SessionId":"s1","Sequence":1,"Platform":"USSD"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp api.CallbackResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, "response", resp.Type)
	assert.Equal(t, "number", resp.FieldType)
	assert.Nil(t, resp.Item)

	require.Len(t, flow.steps, 1)
	assert.Equal(t, "233200000000", flow.steps[0].Mobile)
}

func TestCallback_DefaultSequence(t *testing.T) {
	flow, h := setupTestServer(t)

	w := do(h, http.MethodPost, "/api/v1/callback", `{"SessionId":"s1","Message":"hi"}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, flow.steps, 1)
	assert.Equal(t, 1, flow.steps[0].Sequence)
}

func TestCallback_AddToCartItem(t *testing.T) {
	flow, h := setupTestServer(t)
	flow.frame = ussd.Frame{
		Type:      ussd.AddToCart,
		Message:   "submitted",
		DataType:  ussd.Display,
		FieldType: ussd.Text,
		Item:      &ussd.CartItem{Name: "Meter Top-Up", Qty: 1, Price: decimal.RequireFromString("25.50")},
	}

	w := do(h, http.MethodPost, "/api/v1/callback", `{"SessionId":"s1","Sequence":3,"Message":"25.50"}`)

	var resp map[string]any
	decodeBody(t, w, &resp)
	item, ok := resp["Item"].(map[string]any)
	require.True(t, ok, "Item = %v", resp["Item"])
	assert.Equal(t, 25.5, item["Price"])
	assert.Equal(t, "AddToCart", resp["Type"])
}

func TestCallback_AmountsThroughMachine(t *testing.T) {
	catalog, err := messages.New("en", "0800-NUMA")
	require.NoError(t, err)
	machine := ussd.New(ussd.Deps{
		Sessions: session.New(session.DefaultCapacity, session.DefaultTTL),
		Messages: catalog,
	}, decimal.NewFromInt(10))
	h := NewCallbackServer(machine, nil, nil).Handler()

	tests := []struct {
		name     string
		amount   string
		wantType string
	}{
		{"plain", "10", "AddToCart"},
		{"exponent overflow", "1e400", "release"},
		{"exponent", "1e5", "release"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(h, http.MethodPost, "/api/v1/callback",
				fmt.Sprintf(`{"SessionId":"s1","Sequence":3,"Message":%q}`, tt.amount))

			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			var resp api.CallbackResponse
			decodeBody(t, w, &resp)
			assert.Equal(t, tt.wantType, resp.Type)
		})
	}
}

func TestCallback_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"SessionId":`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
		{"missing session", `{"Sequence":1}`, http.StatusBadRequest},
		{"trailing data", `{"SessionId":"s1"}{"x":1}`, http.StatusBadRequest},
		{"too large", `{"SessionId":"` + strings.Repeat("a", 1<<17) + `"}`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow, h := setupTestServer(t)

			w := do(h, http.MethodPost, "/api/v1/callback", tt.body)

			assert.Equal(t, tt.want, w.Code)
			assert.Empty(t, flow.steps, "flow must not run for a rejected request")
		})
	}
}

func TestPayment(t *testing.T) {
	flow, h := setupTestServer(t)

	w := do(h, http.MethodPost, "/api/v1/payment", paymentBody("50.5", true))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp api.PaymentResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, "success", resp.Status)

	require.Len(t, flow.events, 1)
	ev := flow.events[0]
	assert.Equal(t, "s1", ev.SessionID)
	assert.Equal(t, "233200000000", ev.Mobile)
	assert.True(t, ev.Successful)
	require.Len(t, ev.UnitPrices, 1)
	assert.True(t, ev.UnitPrices[0].Equal(decimal.RequireFromString("50.5")), "price = %s", ev.UnitPrices[0])
}

func TestPayment_UnitPriceRounding(t *testing.T) {
	tests := []struct {
		price string
		want  string
	}{
		{"50.5", "50.50"},
		{"10", "10.00"},
		{"10.005", "10.00"},
		{"2.675", "2.67"},
		{"1.125", "1.12"},
	}

	for _, tt := range tests {
		t.Run(tt.price, func(t *testing.T) {
			flow, h := setupTestServer(t)

			w := do(h, http.MethodPost, "/api/v1/payment", paymentBody(tt.price, true))

			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			require.Len(t, flow.events, 1)
			assert.Equal(t, tt.want, flow.events[0].UnitPrices[0].StringFixed(2))
		})
	}
}

func TestPayment_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"no pending meter", ussd.ErrNoPendingMeter, http.StatusConflict},
		{"validation", fmt.Errorf("fulfil order x: %w", failure.Validation("order has no items")), http.StatusBadRequest},
		{"transport", fmt.Errorf("fulfil order x: %w", failure.Transport("send sms", errors.New("502"))), http.StatusInternalServerError},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow, h := setupTestServer(t)
			flow.fulfilment = nil
			flow.fulfilErr = tt.err

			w := do(h, http.MethodPost, "/api/v1/payment", paymentBody("50.5", true))

			assert.Equal(t, tt.want, w.Code)
			var resp api.ErrorResponse
			decodeBody(t, w, &resp)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestPayment_NotSuccessful(t *testing.T) {
	flow, h := setupTestServer(t)
	flow.fulfilment = &ussd.Fulfilment{Message: "Payment was not successful."}

	w := do(h, http.MethodPost, "/api/v1/payment", paymentBody("50.5", false))

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	decodeBody(t, w, &resp)
	assert.Equal(t, "Payment was not successful.", resp["message"])
	assert.NotContains(t, resp, "status", "status must be omitted for an unpaid order")
	require.Len(t, flow.events, 1)
	assert.False(t, flow.events[0].Successful)
}

func TestPayment_InvalidBody(t *testing.T) {
	_, h := setupTestServer(t)

	w := do(h, http.MethodPost, "/api/v1/payment", `{"SessionId":"s1"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckServerIP(t *testing.T) {
	echo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ip":"203.0.113.7"}`))
	}))
	defer echo.Close()
	_, h := setupTestServer(t)

	w := do(h, http.MethodGet, "/api/v1/check-server-ip?url="+echo.URL, "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Message map[string]string `json:"message"`
	}
	decodeBody(t, w, &resp)
	assert.Equal(t, "203.0.113.7", resp.Message["ip"])
}

func TestCheckServerIP_NonJSONRelaysStatus(t *testing.T) {
	echo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))
	defer echo.Close()
	_, h := setupTestServer(t)

	w := do(h, http.MethodGet, "/api/v1/check-server-ip?url="+echo.URL, "")

	var resp map[string]any
	decodeBody(t, w, &resp)
	assert.Equal(t, float64(http.StatusTeapot), resp["message"])
}

func TestCheckServerIP_BadURL(t *testing.T) {
	_, h := setupTestServer(t)

	for _, target := range []string{"", "ftp://example.com", "not-a-url", "/relative"} {
		w := do(h, http.MethodGet, "/api/v1/check-server-ip?url="+target, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, "url %q", target)
	}
}

func TestMiddleware_RequestID(t *testing.T) {
	_, h := setupTestServer(t)

	w := do(h, http.MethodGet, "/", "")
	assert.Len(t, w.Header().Get(RequestIDHeader), 36, "expected a generated UUID")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "caller-id")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "caller-id", rec.Header().Get(RequestIDHeader))
}

func TestMiddleware_Recover(t *testing.T) {
	flow, h := setupTestServer(t)
	flow.panicOn = 2

	w := do(h, http.MethodPost, "/api/v1/callback", `{"SessionId":"s1","Sequence":2}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	// The server keeps serving after a panic.
	w = do(h, http.MethodPost, "/api/v1/callback", `{"SessionId":"s2","Sequence":1}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_CORS(t *testing.T) {
	_, h := setupTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/callback", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://dashboard.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "content-type", w.Header().Get("Access-Control-Allow-Headers"))

	w = do(h, http.MethodGet, "/", "")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusTeapot, map[string]string{"a": "b"})

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), `"a":"b"`)
}

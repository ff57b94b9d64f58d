package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/alphacourse/backend/internal/logging"
	"github.com/alphacourse/backend/internal/metrics"
)

const (
	// DefaultBaseURL is the production NOWPayments API root.
	DefaultBaseURL = "https://api.nowpayments.io/v1"
	// DefaultTimeout bounds every gateway call.
	DefaultTimeout = 10 * time.Second

	apiKeyHeader  = "x-api-key"
	priceCurrency = "usd"
)

// SupportedCurrencies lists the accepted pay currencies in gateway notation.
var SupportedCurrencies = []string{"btc", "eth", "usdttrc20", "ltc", "bnbbsc", "usdcbsc"}

// IsSupportedCurrency reports whether currency is in the allow-list,
// ignoring case.
func IsSupportedCurrency(currency string) bool {
	c := strings.ToLower(strings.TrimSpace(currency))
	for _, s := range SupportedCurrencies {
		if s == c {
			return true
		}
	}
	return false
}

// ClientOptions configure a gateway Client.
type ClientOptions struct {
	BaseURL          string
	APIKey           string
	CallbackURL      string
	OrderDescription string
	Timeout          time.Duration
	Metrics          *metrics.Metrics
	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client
}

// Client talks to the NOWPayments REST API.
type Client struct {
	http        *resty.Client
	callbackURL string
	description string
	metrics     *metrics.Metrics
	now         func() time.Time
}

// CreateRequest describes a payment to open for a user.
type CreateRequest struct {
	UserID    int64
	Currency  string
	AmountUSD decimal.Decimal
}

// Payment is the gateway's answer to a creation request.
type Payment struct {
	PaymentID   string
	PayAddress  string
	PayAmount   decimal.Decimal
	PayCurrency string
	OrderID     string
	Status      string
}

// PaymentStatus is the gateway's current view of a payment.
type PaymentStatus struct {
	PaymentID        string
	Status           string
	PayAmount        decimal.Decimal
	ActuallyPaid     decimal.Decimal
	UpdatedAt        string
	OrderID          string
	OrderDescription string
}

type createPaymentBody struct {
	PriceAmount      float64 `json:"price_amount"`
	PriceCurrency    string  `json:"price_currency"`
	PayCurrency      string  `json:"pay_currency"`
	IPNCallbackURL   string  `json:"ipn_callback_url,omitempty"`
	OrderID          string  `json:"order_id"`
	OrderDescription string  `json:"order_description"`
}

type paymentBody struct {
	PaymentID        gatewayID       `json:"payment_id"`
	PaymentStatus    string          `json:"payment_status"`
	PayAddress       string          `json:"pay_address"`
	PayAmount        decimal.Decimal `json:"pay_amount"`
	ActuallyPaid     decimal.Decimal `json:"actually_paid"`
	PayCurrency      string          `json:"pay_currency"`
	OrderID          string          `json:"order_id"`
	OrderDescription string          `json:"order_description"`
	UpdatedAt        string          `json:"updated_at"`
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// NewClient builds a gateway client. An empty BaseURL targets production.
func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var rc *resty.Client
	if opts.HTTPClient != nil {
		rc = resty.NewWithClient(opts.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader(apiKeyHeader, opts.APIKey).
		SetHeader("Accept", "application/json")

	return &Client{
		http:        rc,
		callbackURL: opts.CallbackURL,
		description: opts.OrderDescription,
		metrics:     opts.Metrics,
		now:         time.Now,
	}
}

// CreatePayment opens a payment for req.UserID. Unsupported currencies are
// rejected with ErrInvalidCurrency before any request is made.
func (c *Client) CreatePayment(ctx context.Context, req CreateRequest) (payment Payment, err error) {
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if !IsSupportedCurrency(currency) {
		return Payment{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, req.Currency)
	}

	ctx, span := logging.StartSpan(ctx, "gateway.create_payment", "userId", req.UserID, "currency", currency)
	defer func() {
		span.End(err)
		c.metrics.ObserveGateway("create_payment", err, span.Elapsed())
	}()

	body := createPaymentBody{
		PriceAmount:      req.AmountUSD.InexactFloat64(),
		PriceCurrency:    priceCurrency,
		PayCurrency:      currency,
		IPNCallbackURL:   c.callbackURL,
		OrderID:          OrderID(req.UserID, c.now()),
		OrderDescription: OrderDescription(c.description, req.UserID),
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/payment")
	if err != nil {
		return Payment{}, classifyTransportError(ctx, err)
	}
	if resp.StatusCode() != http.StatusCreated && resp.StatusCode() != http.StatusOK {
		return Payment{}, gatewayError(resp)
	}

	var decoded paymentBody
	if err := json.Unmarshal(resp.Body(), &decoded); err != nil {
		return Payment{}, &GatewayError{StatusCode: resp.StatusCode(), Message: "unreadable payment response"}
	}
	if decoded.PaymentID == "" {
		return Payment{}, &GatewayError{StatusCode: resp.StatusCode(), Message: "payment response without payment_id"}
	}

	orderID := decoded.OrderID
	if orderID == "" {
		orderID = body.OrderID
	}
	status := decoded.PaymentStatus
	if status == "" {
		status = string(StatusWaiting)
	}

	return Payment{
		PaymentID:   string(decoded.PaymentID),
		PayAddress:  decoded.PayAddress,
		PayAmount:   decoded.PayAmount,
		PayCurrency: strings.ToUpper(currency),
		OrderID:     orderID,
		Status:      status,
	}, nil
}

// FetchPaymentStatus asks the gateway for the current state of paymentID.
func (c *Client) FetchPaymentStatus(ctx context.Context, paymentID string) (status PaymentStatus, err error) {
	ctx, span := logging.StartSpan(ctx, "gateway.payment_status", "paymentId", paymentID)
	defer func() {
		span.End(err)
		c.metrics.ObserveGateway("payment_status", err, span.Elapsed())
	}()

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("paymentID", paymentID).
		Get("/payment/{paymentID}")
	if err != nil {
		return PaymentStatus{}, classifyTransportError(ctx, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return PaymentStatus{}, ErrPaymentNotFound
	}
	if !resp.IsSuccess() {
		return PaymentStatus{}, gatewayError(resp)
	}

	var decoded paymentBody
	if err := json.Unmarshal(resp.Body(), &decoded); err != nil {
		return PaymentStatus{}, &GatewayError{StatusCode: resp.StatusCode(), Message: "unreadable status response"}
	}

	id := string(decoded.PaymentID)
	if id == "" {
		id = paymentID
	}
	return PaymentStatus{
		PaymentID:        id,
		Status:           decoded.PaymentStatus,
		PayAmount:        decoded.PayAmount,
		ActuallyPaid:     decoded.ActuallyPaid,
		UpdatedAt:        decoded.UpdatedAt,
		OrderID:          decoded.OrderID,
		OrderDescription: decoded.OrderDescription,
	}, nil
}

func gatewayError(resp *resty.Response) error {
	msg := ""
	var eb errorBody
	if err := json.Unmarshal(resp.Body(), &eb); err == nil {
		msg = eb.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode())
	}
	return &GatewayError{StatusCode: resp.StatusCode(), Message: msg}
}

func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
}

// gatewayID accepts payment ids encoded as JSON numbers or strings.
type gatewayID string

func (id *gatewayID) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	switch {
	case raw == "null":
		*id = ""
		return nil
	case strings.HasPrefix(raw, `"`):
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = gatewayID(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*id = gatewayID(n.String())
		return nil
	}
}

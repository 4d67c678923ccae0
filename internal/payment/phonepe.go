package payment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
)

const (
	defaultPhonePeBaseURL       = "https://api.phonepe.com/apis/hermes"
	phonePePayPath              = "/pg/v1/pay"
	phonePeStatusPath           = "/pg/v1/status"
	phonePeSuccessCode          = "PAYMENT_SUCCESS"
	responseBodyReadLimit int64 = 1024
)

// PhonePeGateway talks to the PhonePe PG pay-page API for one merchant.
type PhonePeGateway struct {
	httpClient *http.Client
	baseURL    string
	merchantID string
	saltKey    string
	saltIndex  int
}

// PhonePeOption configures a PhonePeGateway.
type PhonePeOption func(*PhonePeGateway)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) PhonePeOption {
	return func(g *PhonePeGateway) {
		if client != nil {
			g.httpClient = client
		}
	}
}

// WithBaseURL overrides the PhonePe API base URL.
func WithBaseURL(baseURL string) PhonePeOption {
	return func(g *PhonePeGateway) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			g.baseURL = strings.TrimRight(trimmed, "/")
		}
	}
}

// NewPhonePeGateway builds a gateway for one merchant
func NewPhonePeGateway(merchantID, saltKey string, saltIndex int, opts ...PhonePeOption) *PhonePeGateway {
	g := &PhonePeGateway{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    defaultPhonePeBaseURL,
		merchantID: merchantID,
		saltKey:    saltKey,
		saltIndex:  saltIndex,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.saltIndex <= 0 {
		g.saltIndex = 1
	}
	return g
}

// PhonePeFactoryFor returns a factory usable by Router.
func PhonePeFactoryFor(opts ...PhonePeOption) PhonePeFactory {
	return func(merchantID, saltKey string, saltIndex int) RedirectGateway {
		return NewPhonePeGateway(merchantID, saltKey, saltIndex, opts...)
	}
}

// Name returns the gateway identifier
func (g *PhonePeGateway) Name() string {
	return models.PaymentMethodPhonePe
}

type phonePePayload struct {
	MerchantID            string            `json:"merchantId"`
	MerchantTransactionID string            `json:"merchantTransactionId"`
	MerchantUserID        string            `json:"merchantUserId"`
	Amount                int64             `json:"amount"`
	RedirectURL           string            `json:"redirectUrl"`
	RedirectMode          string            `json:"redirectMode"`
	CallbackURL           string            `json:"callbackUrl"`
	PaymentInstrument     map[string]string `json:"paymentInstrument"`
}

type phonePeResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		MerchantTransactionID string `json:"merchantTransactionId"`
		TransactionID         string `json:"transactionId"`
		Amount                int64  `json:"amount"`
		State                 string `json:"state"`
		InstrumentResponse    struct {
			RedirectInfo struct {
				URL string `json:"url"`
			} `json:"redirectInfo"`
		} `json:"instrumentResponse"`
	} `json:"data"`
}

// Initiate opens a pay-page session and returns where to send the customer.
func (g *PhonePeGateway) Initiate(ctx context.Context, req RedirectRequest) (*Redirect, error) {
	amount := ToMinorUnits(req.Amount)
	if amount <= 0 {
		return nil, apperr.New(apperr.CodePaymentInitiation, "phonepe amount must be positive")
	}

	raw, err := json.Marshal(phonePePayload{
		MerchantID:            g.merchantID,
		MerchantTransactionID: req.MerchantTxID,
		MerchantUserID:        fmt.Sprintf("CUST%d", req.CustomerID),
		Amount:                amount,
		RedirectURL:           req.RedirectURL,
		RedirectMode:          "POST",
		CallbackURL:           req.CallbackURL,
		PaymentInstrument:     map[string]string{"type": "PAY_PAGE"},
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePaymentInitiation, err, "marshal phonepe payload")
	}

	encoded := base64.StdEncoding.EncodeToString(raw)
	body, err := json.Marshal(map[string]string{"request": encoded})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePaymentInitiation, err, "marshal phonepe request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+phonePePayPath, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePaymentInitiation, err, "build phonepe request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-VERIFY", g.checksum(encoded+phonePePayPath))

	resp, err := g.do(httpReq)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePaymentInitiation, err, "phonepe pay request failed")
	}
	if !resp.Success || resp.Data.InstrumentResponse.RedirectInfo.URL == "" {
		return nil, apperr.New(apperr.CodePaymentInitiation, "phonepe rejected payment").
			WithDetails(map[string]any{"code": resp.Code, "message": resp.Message})
	}

	return &Redirect{
		URL:          resp.Data.InstrumentResponse.RedirectInfo.URL,
		MerchantTxID: req.MerchantTxID,
	}, nil
}

// Status asks PhonePe for the authoritative state of a transaction.
func (g *PhonePeGateway) Status(ctx context.Context, merchantTxID string) (*StatusResult, error) {
	path := fmt.Sprintf("%s/%s/%s", phonePeStatusPath, g.merchantID, merchantTxID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePaymentVerification, err, "build phonepe status request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-VERIFY", g.checksum(path))
	httpReq.Header.Set("X-MERCHANT-ID", g.merchantID)

	resp, err := g.do(httpReq)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDependency, err, "phonepe status request failed")
	}

	return &StatusResult{
		MerchantTxID:  merchantTxID,
		TransactionID: resp.Data.TransactionID,
		Code:          resp.Code,
		State:         resp.Data.State,
		AmountMinor:   resp.Data.Amount,
		Success:       resp.Success && resp.Code == phonePeSuccessCode,
	}, nil
}

// VerifyCallback checks the X-VERIFY header PhonePe attaches to its server
// callback against the base64 response body.
func (g *PhonePeGateway) VerifyCallback(encodedResponse, checksum string) error {
	expected := g.checksum(encodedResponse)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.TrimSpace(checksum))) != 1 {
		return apperr.New(apperr.CodePaymentVerification, "phonepe callback checksum mismatch")
	}
	return nil
}

func (g *PhonePeGateway) checksum(data string) string {
	sum := sha256.Sum256([]byte(data + g.saltKey))
	return hex.EncodeToString(sum[:]) + "###" + strconv.Itoa(g.saltIndex)
}

func (g *PhonePeGateway) do(req *http.Request) (*phonePeResponse, error) {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out phonePeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode phonepe response: %w", err)
	}
	return &out, nil
}

// CallbackPayload is the decoded body of a PhonePe server callback.
type CallbackPayload struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Data    struct {
		MerchantID            string `json:"merchantId"`
		MerchantTransactionID string `json:"merchantTransactionId"`
		TransactionID         string `json:"transactionId"`
		Amount                int64  `json:"amount"`
		State                 string `json:"state"`
	} `json:"data"`
}

// DecodeCallback decodes the base64 "response" field of a callback.
func DecodeCallback(encodedResponse string) (*CallbackPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encodedResponse))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, err, "decode phonepe callback")
	}
	var payload CallbackPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, err, "parse phonepe callback")
	}
	if payload.Data.MerchantTransactionID == "" {
		return nil, apperr.New(apperr.CodeValidation, "phonepe callback missing merchant transaction id")
	}
	return &payload, nil
}

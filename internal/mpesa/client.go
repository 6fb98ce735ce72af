package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	ResultSuccess         = "0"
	ResultCancelledByUser = "1032"
	ResultTimeout         = "1037"
)

// errorCodeProcessing means the push prompt is still open on the handset.
const errorCodeProcessing = "500.001.1001"

type Error struct {
	Code      string
	Message   string
	Transient bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("mpesa: %s (%s)", e.Message, e.Code)
}

type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	Timeout        time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time

	now func() time.Time
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

type StkPushRequest struct {
	PhoneNumber      string
	Amount           int64
	AccountReference string
	Description      string
}

type StkPushResponse struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResponseCode      string `json:"ResponseCode"`
	ResponseDesc      string `json:"ResponseDescription"`
	CustomerMessage   string `json:"CustomerMessage"`
}

type StkQueryResponse struct {
	ResponseCode      string `json:"ResponseCode"`
	ResponseDesc      string `json:"ResponseDescription"`
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        string `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
}

func (r StkQueryResponse) Processing() bool {
	return r.ResultCode == ""
}

func (c *Client) StkPush(ctx context.Context, req StkPushRequest) (StkPushResponse, error) {
	token, err := c.accessTokenLocked(ctx)
	if err != nil {
		return StkPushResponse{}, err
	}
	timestamp := c.now().Format("20060102150405")
	payload := map[string]any{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          c.password(timestamp),
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            req.Amount,
		"PartyA":            req.PhoneNumber,
		"PartyB":            c.cfg.ShortCode,
		"PhoneNumber":       req.PhoneNumber,
		"CallBackURL":       c.cfg.CallbackURL,
		"AccountReference":  req.AccountReference,
		"TransactionDesc":   req.Description,
	}
	var out StkPushResponse
	if err := c.postJSON(ctx, "/mpesa/stkpush/v1/processrequest", token, payload, &out); err != nil {
		return StkPushResponse{}, err
	}
	if out.ResponseCode != "0" {
		return StkPushResponse{}, &Error{Code: out.ResponseCode, Message: out.ResponseDesc}
	}
	return out, nil
}

func (c *Client) StkQuery(ctx context.Context, checkoutRequestID string) (StkQueryResponse, error) {
	token, err := c.accessTokenLocked(ctx)
	if err != nil {
		return StkQueryResponse{}, err
	}
	timestamp := c.now().Format("20060102150405")
	payload := map[string]any{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          c.password(timestamp),
		"Timestamp":         timestamp,
		"CheckoutRequestID": checkoutRequestID,
	}
	var out StkQueryResponse
	err = c.postJSON(ctx, "/mpesa/stkpushquery/v1/query", token, payload, &out)
	if err != nil {
		var apiErr *Error
		// The gateway reports "still processing" as an error payload.
		if errors.As(err, &apiErr) && apiErr.Code == errorCodeProcessing {
			return StkQueryResponse{CheckoutRequestID: checkoutRequestID}, nil
		}
		return StkQueryResponse{}, err
	}
	return out, nil
}

func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.Passkey + timestamp))
}

func (c *Client) accessTokenLocked(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && c.now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &Error{Code: "network", Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &Error{Code: fmt.Sprintf("http_%d", resp.StatusCode), Message: "oauth token request rejected", Transient: resp.StatusCode >= 500}
	}
	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &Error{Code: "decode", Message: err.Error(), Transient: true}
	}
	c.accessToken = body.AccessToken
	// Tokens last an hour; refresh early.
	c.tokenExpiry = c.now().Add(50 * time.Minute)
	return c.accessToken, nil
}

func (c *Client) postJSON(ctx context.Context, path, token string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Code: "network", Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var apiErr struct {
			RequestID    string `json:"requestId"`
			ErrorCode    string `json:"errorCode"`
			ErrorMessage string `json:"errorMessage"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.ErrorCode == "" {
			return &Error{Code: fmt.Sprintf("http_%d", resp.StatusCode), Message: "gateway request failed", Transient: resp.StatusCode >= 500}
		}
		return &Error{
			Code:      apiErr.ErrorCode,
			Message:   apiErr.ErrorMessage,
			Transient: resp.StatusCode >= 500 || apiErr.ErrorCode == errorCodeProcessing,
		}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

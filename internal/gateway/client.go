package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"chamapay/internal/model"
)

type Config struct {
	BaseURL            string
	InitiatorName      string
	SecurityCredential string
	ShortCode          string
	ResultURL          string
	TimeoutURL         string
	Timeout            time.Duration
}

// Client submits B2C disbursements. It never retries; a retry is a new
// withdrawal with a new reference.
type Client struct {
	cfg    Config
	tokens *TokenCache
	client *http.Client
}

func NewClient(cfg Config, tokens *TokenCache) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		tokens: tokens,
		client: &http.Client{Timeout: timeout},
	}
}

type paymentRequest struct {
	OriginatorConversationID string `json:"OriginatorConversationID"`
	InitiatorName            string `json:"InitiatorName"`
	SecurityCredential       string `json:"SecurityCredential"`
	CommandID                string `json:"CommandID"`
	Amount                   string `json:"Amount"`
	PartyA                   string `json:"PartyA"`
	PartyB                   string `json:"PartyB"`
	Remarks                  string `json:"Remarks"`
	QueueTimeOutURL          string `json:"QueueTimeOutURL"`
	ResultURL                string `json:"ResultURL"`
	Occasion                 string `json:"Occasion"`
}

// Submission is the gateway's synchronous acknowledgement.
type Submission struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

// SubmitError is a submission that the gateway never accepted.
type SubmitError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *SubmitError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("gateway submit: %v", e.Err)
	case e.Code != "":
		return fmt.Sprintf("gateway rejected request: %s %s", e.Code, e.Message)
	default:
		return fmt.Sprintf("gateway status %d: %s", e.StatusCode, e.Message)
	}
}

func (e *SubmitError) Unwrap() error { return e.Err }

func (c *Client) Submit(ctx context.Context, w model.Withdrawal) (Submission, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return Submission{}, &SubmitError{Err: fmt.Errorf("access token: %w", err)}
	}

	remarks := w.Remarks
	if remarks == "" {
		remarks = string(w.Reason)
	}
	body, err := json.Marshal(paymentRequest{
		OriginatorConversationID: w.Reference,
		InitiatorName:            c.cfg.InitiatorName,
		SecurityCredential:       c.cfg.SecurityCredential,
		CommandID:                string(w.Reason),
		Amount:                   w.Amount.StringFixed(0),
		PartyA:                   c.cfg.ShortCode,
		PartyB:                   w.Phone,
		Remarks:                  truncate(remarks, 100),
		QueueTimeOutURL:          c.cfg.TimeoutURL,
		ResultURL:                c.cfg.ResultURL,
		Occasion:                 w.Reference,
	})
	if err != nil {
		return Submission{}, &SubmitError{Err: fmt.Errorf("encode request: %w", err)}
	}

	url := fmt.Sprintf("%s/mpesa/b2c/v3/paymentrequest", c.cfg.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Submission{}, &SubmitError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Submission{}, &SubmitError{Err: fmt.Errorf("do request: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Submission{}, &SubmitError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.tokens.Invalidate()
		return Submission{}, &SubmitError{StatusCode: resp.StatusCode, Message: string(raw)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		var e struct {
			ErrorCode    string `json:"errorCode"`
			ErrorMessage string `json:"errorMessage"`
		}
		if json.Unmarshal(raw, &e) == nil && e.ErrorCode != "" {
			return Submission{}, &SubmitError{StatusCode: resp.StatusCode, Code: e.ErrorCode, Message: e.ErrorMessage}
		}
		return Submission{}, &SubmitError{StatusCode: resp.StatusCode, Message: string(raw)}
	}

	var sub Submission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return Submission{}, &SubmitError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if sub.ResponseCode != "0" {
		return sub, &SubmitError{StatusCode: resp.StatusCode, Code: sub.ResponseCode, Message: sub.ResponseDescription}
	}
	if sub.ConversationID == "" {
		return sub, &SubmitError{StatusCode: resp.StatusCode, Err: errors.New("missing ConversationID")}
	}
	return sub, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

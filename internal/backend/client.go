// Package backend is the REST client for the invoice service. It owns
// the wire contract: bearer-token auth, payload encoding, and the
// mapping of HTTP outcomes onto the client error taxonomy
// (ErrUnauthorized, NetworkError, RejectedError).
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hydrotreat/invoice-review/internal/capability"
	"github.com/hydrotreat/invoice-review/internal/record"
	"github.com/hydrotreat/invoice-review/internal/session"
)

// HTTPClient interface for testability
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds backend client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the invoice backend.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	logger     *zap.Logger
}

// NewClient creates a new backend client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// SetHTTPClient swaps the underlying transport, for tests.
func (c *Client) SetHTTPClient(hc HTTPClient) {
	c.httpClient = hc
}

// ListQuery narrows an invoice listing the way the backend supports:
// status, free-text search, scanning-date range, pagination.
type ListQuery struct {
	Status    string
	Search    string
	StartDate string // YYYY-MM-DD
	EndDate   string // YYYY-MM-DD
	Page      int
	PerPage   int
}

func (q ListQuery) values() url.Values {
	v := url.Values{}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.StartDate != "" {
		v.Set("start_date", q.StartDate)
	}
	if q.EndDate != "" {
		v.Set("end_date", q.EndDate)
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(q.PerPage))
	}
	return v
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
	Role  string `json:"role"`
}

// Login authenticates and builds the session for subsequent calls.
func (c *Client) Login(ctx context.Context, username, password string) (*session.Session, error) {
	body, err := c.do(ctx, nil, http.MethodPost, "/login", loginRequest{Username: username, Password: password})
	if err != nil {
		return nil, err
	}

	var resp loginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}

	role := capability.ParseRole(resp.Role)
	c.logger.Info("Logged in",
		zap.String("username", username),
		zap.String("role", role.String()))

	return session.New(username, role, resp.Token), nil
}

// ListInvoices fetches one division's invoices. Records that fail
// normalization are skipped with a warning rather than failing the
// listing.
func (c *Client) ListInvoices(ctx context.Context, sess *session.Session, division string, q ListQuery) ([]*record.Invoice, error) {
	path := fmt.Sprintf("/get_invoices/%s", url.PathEscape(division))
	if qs := q.values().Encode(); qs != "" {
		path += "?" + qs
	}

	body, err := c.do(ctx, sess, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	rows, err := decodeInvoiceList(body)
	if err != nil {
		return nil, fmt.Errorf("decode invoice list for %s: %w", division, err)
	}

	invoices := make([]*record.Invoice, 0, len(rows))
	for i, row := range rows {
		inv, warnings, err := record.Normalize(row)
		if err != nil {
			c.logger.Warn("Skipping malformed invoice in listing",
				zap.String("division", division),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		for _, w := range warnings {
			c.logger.Warn("Invoice normalization warning",
				zap.String("division", division),
				zap.Int64("id", inv.ID),
				zap.String("warning", w))
		}
		if inv.Division == "" {
			inv.Division = division
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

// decodeInvoiceList accepts both response shapes the backend has
// served: a bare array, and an envelope with an invoices field plus
// pagination counters.
func decodeInvoiceList(body []byte) ([]json.RawMessage, error) {
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err == nil {
		return rows, nil
	}

	var envelope struct {
		Invoices []json.RawMessage `json:"invoices"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	return envelope.Invoices, nil
}

// GetInvoice fetches and normalizes one invoice. Normalization
// warnings are returned so the caller can surface a degraded view.
func (c *Client) GetInvoice(ctx context.Context, sess *session.Session, division string, id int64) (*record.Invoice, []string, error) {
	path := fmt.Sprintf("/get_invoice/%s/%d", url.PathEscape(division), id)
	body, err := c.do(ctx, sess, http.MethodGet, path, nil)
	if err != nil {
		return nil, nil, err
	}

	inv, warnings, err := record.Normalize(body)
	if err != nil {
		return nil, nil, err
	}
	if inv.Division == "" {
		inv.Division = division
	}
	if inv.ID == 0 {
		inv.ID = id
	}
	return inv, warnings, nil
}

// EditInvoice PUTs the wire-shape payload for the invoice.
func (c *Client) EditInvoice(ctx context.Context, sess *session.Session, division string, id int64, payload map[string]any) error {
	path := fmt.Sprintf("/edit_invoice/%s/%d", url.PathEscape(division), id)
	_, err := c.do(ctx, sess, http.MethodPut, path, payload)
	return err
}

// ApproveInvoice marks the invoice approved on the backend.
func (c *Client) ApproveInvoice(ctx context.Context, sess *session.Session, division string, id int64) error {
	path := fmt.Sprintf("/approve_invoice/%s/%d", url.PathEscape(division), id)
	_, err := c.do(ctx, sess, http.MethodPut, path, nil)
	return err
}

// RejectInvoice marks the invoice rejected on the backend.
func (c *Client) RejectInvoice(ctx context.Context, sess *session.Session, division string, id int64) error {
	path := fmt.Sprintf("/reject_invoice/%s/%d", url.PathEscape(division), id)
	_, err := c.do(ctx, sess, http.MethodPut, path, nil)
	return err
}

// RegisterUser creates a backend user. Admin only; the backend
// enforces the gate, callers should consult the capability table
// before offering the operation.
func (c *Client) RegisterUser(ctx context.Context, sess *session.Session, username, password string, role capability.Role) error {
	payload := map[string]string{
		"username": username,
		"password": password,
		"role":     role.String(),
	}
	_, err := c.do(ctx, sess, http.MethodPost, "/register", payload)
	return err
}

// DownloadPDF streams the invoice PDF into w and returns the byte
// count. The PDF is opaque to the client; no rendering happens here.
func (c *Client) DownloadPDF(ctx context.Context, sess *session.Session, division string, id int64, w io.Writer) (int64, error) {
	path := fmt.Sprintf("/get_pdf/%s/%d", url.PathEscape(division), id)

	resp, err := c.send(ctx, sess, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, path); err != nil {
		return 0, err
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, &NetworkError{Op: "GET " + path, Err: err}
	}
	return n, nil
}

// do sends a JSON request and returns the response body, with HTTP
// outcomes mapped onto the error taxonomy.
func (c *Client) do(ctx context.Context, sess *session.Session, method, path string, payload any) ([]byte, error) {
	resp, err := c.send(ctx, sess, method, path, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, path); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}
	return body, nil
}

func (c *Client) send(ctx context.Context, sess *session.Session, method, path string, payload any) (*http.Response, error) {
	if sess != nil && sess.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: session token expired", ErrUnauthorized)
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sess != nil {
		req.Header.Set("Authorization", "Bearer "+sess.Token())
	}

	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Backend request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.Error(err))
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}

	c.logger.Debug("Backend request",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	return resp, nil
}

func (c *Client) checkStatus(resp *http.Response, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	reason, tokenProblem := readErrorReason(resp.Body)

	// The auth layer answers 401 for missing or expired credentials and
	// 422 for malformed bearer tokens. Both mean re-login, never
	// correct-and-resubmit.
	unauthorized := resp.StatusCode == http.StatusUnauthorized ||
		(resp.StatusCode == http.StatusUnprocessableEntity && tokenProblem)
	if unauthorized {
		if reason != "" {
			return fmt.Errorf("%w: %s", ErrUnauthorized, reason)
		}
		return ErrUnauthorized
	}
	return &RejectedError{StatusCode: resp.StatusCode, Reason: reason}
}

// readErrorReason extracts the backend's failure reason. Application
// errors arrive under error or message; the JWT layer uses msg, so a
// msg-shaped body marks a token problem rather than a domain
// rejection.
func readErrorReason(r io.Reader) (string, bool) {
	body, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return "", false
	}
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error, false
		}
		if parsed.Message != "" {
			return parsed.Message, false
		}
		if parsed.Msg != "" {
			return parsed.Msg, true
		}
	}
	return strings.TrimSpace(string(body)), false
}

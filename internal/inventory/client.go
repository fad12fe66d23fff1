package inventory

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
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultSystemHeader carries the system identifier on every request.
const DefaultSystemHeader = "x-system-id-romaneios"

// ClientConfig configures the HTTP gateway.
type ClientConfig struct {
	BaseURL      string
	SystemID     string
	SystemHeader string
	Timeout      time.Duration
}

// Client talks to the inventory system over HTTP.
type Client struct {
	baseURL   string
	systemID  string
	systemHdr string
	http      *http.Client
}

// NewClient constructs the HTTP gateway.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("inventory: base url is empty")
	}
	header := strings.TrimSpace(cfg.SystemHeader)
	if header == "" {
		header = DefaultSystemHeader
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   baseURL,
		systemID:  cfg.SystemID,
		systemHdr: header,
		http:      &http.Client{Timeout: timeout},
	}, nil
}

// FetchItems returns the first receipt reported for the purchase order.
func (c *Client) FetchItems(ctx context.Context, purchaseOrder string) (*Receipt, error) {
	const op = "fetch items"
	status, body, err := c.do(ctx, op, http.MethodGet, "/items/"+url.PathEscape(purchaseOrder), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err := checkStatus(op, status, body); err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var receipts []Receipt
	if err := json.Unmarshal(body, &receipts); err != nil {
		return nil, &RemoteError{Op: op, StatusCode: status, Err: fmt.Errorf("malformed response: %w", err)}
	}
	if len(receipts) == 0 {
		return nil, nil
	}
	return &receipts[0], nil
}

// Create registers a receiving record. A remote "already exists" message yields ErrAlreadyExists.
func (c *Client) Create(ctx context.Context, input CreateInput) (CreateResult, error) {
	const op = "create"
	payload, err := json.Marshal(input)
	if err != nil {
		return CreateResult{}, err
	}
	status, body, err := c.do(ctx, op, http.MethodPost, "/receive", payload)
	if err != nil {
		return CreateResult{}, err
	}
	var result CreateResult
	if len(bytes.TrimSpace(body)) > 0 {
		if jsonErr := json.Unmarshal(body, &result); jsonErr != nil && status >= 200 && status < 300 {
			return CreateResult{}, &RemoteError{Op: op, StatusCode: status, Err: fmt.Errorf("malformed response: %w", jsonErr)}
		}
	}
	if AlreadyExists(result.Message) {
		return result, fmt.Errorf("%w: %s", ErrAlreadyExists, result.Message)
	}
	if err := checkStatus(op, status, body); err != nil {
		return CreateResult{}, err
	}
	return result, nil
}

// UpdateStatus pushes a single-letter status code.
func (c *Client) UpdateStatus(ctx context.Context, externalID int64, code string) error {
	const op = "update status"
	payload, err := json.Marshal(map[string]string{"status": code})
	if err != nil {
		return err
	}
	status, body, err := c.do(ctx, op, http.MethodPut, "/status/"+strconv.FormatInt(externalID, 10), payload)
	if err != nil {
		return err
	}
	return checkStatus(op, status, body)
}

func (c *Client) do(ctx context.Context, op, method, path string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, &RemoteError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.systemID != "" {
		req.Header.Set(c.systemHdr, c.systemID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &RemoteError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	return resp.StatusCode, body, nil
}

func checkStatus(op string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &RemoteError{Op: op, StatusCode: status, Err: errors.New(msg)}
}

var duplicateMarkers = []string{"already exists", "ja existe", "ja cadastrado"}

// AlreadyExists reports whether a remote message announces a duplicate,
// ignoring case and accents.
func AlreadyExists(message string) bool {
	if message == "" {
		return false
	}
	folded := strings.ToLower(foldAccents(message))
	for _, marker := range duplicateMarkers {
		if strings.Contains(folded, marker) {
			return true
		}
	}
	return false
}

func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Package sheets talks to the remote spreadsheet values API: header
// bootstrap and row appends. It performs no retries of its own — the one
// reauth retry lives in the tracking coordinator.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultBaseURL is the production spreadsheet API endpoint.
const DefaultBaseURL = "https://sheets.googleapis.com/v4/spreadsheets"

// headerRange is the fixed cell range holding the column titles. All appends
// target the same range with insert semantics, so data rows are never
// overwritten.
const headerRange = "A1:H1"

// Row is one spreadsheet row: 8 ordered string cells.
type Row []string

// Header returns the canonical column titles. Order and labels are fixed and
// must match every appended row.
func Header() Row {
	return Row{"Timestamp", "Page", "User ID", "User Name", "Location", "Device OS", "Browser", "Error"}
}

// HTTPError is a non-2xx response from the spreadsheet API.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("sheets: HTTP %d: %s", e.Status, e.Body)
}

// IsAuthError reports whether the response indicates an expired or rejected
// bearer token.
func (e *HTTPError) IsAuthError() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// Client writes to one spreadsheet. The bearer token is supplied per call by
// the coordinator, which owns token lifecycle.
type Client struct {
	baseURL    string
	sheetID    string
	httpClient *http.Client
}

// NewClient creates a Client for the given spreadsheet. An empty baseURL
// selects the production endpoint; a nil httpClient gets a 10 s timeout
// default.
func NewClient(baseURL, sheetID string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		sheetID:    sheetID,
		httpClient: httpClient,
	}
}

// valueRange mirrors the API's ValueRange body.
type valueRange struct {
	Range          string  `json:"range,omitempty"`
	MajorDimension string  `json:"majorDimension,omitempty"`
	Values         [][]any `json:"values"`
}

// EnsureHeader probes the header range and writes the canonical header if it
// is empty. Idempotent: safe to call before every append.
func (c *Client) EnsureHeader(ctx context.Context, token string) error {
	var probe struct {
		Values [][]any `json:"values"`
	}
	if err := c.do(ctx, token, http.MethodGet,
		fmt.Sprintf("%s/%s/values/%s", c.baseURL, c.sheetID, headerRange),
		nil, &probe); err != nil {
		return err
	}
	if len(probe.Values) > 0 {
		return nil
	}

	header := Header()
	cells := make([]any, len(header))
	for i, h := range header {
		cells[i] = h
	}
	return c.do(ctx, token, http.MethodPut,
		fmt.Sprintf("%s/%s/values/%s?valueInputOption=RAW", c.baseURL, c.sheetID, headerRange),
		&valueRange{Values: [][]any{cells}}, nil)
}

// AppendRow appends one row with INSERT_ROWS semantics.
func (c *Client) AppendRow(ctx context.Context, token string, row Row) error {
	cells := make([]any, len(row))
	for i, v := range row {
		cells[i] = v
	}
	return c.do(ctx, token, http.MethodPost,
		fmt.Sprintf("%s/%s/values/%s:append?valueInputOption=RAW&insertDataOption=INSERT_ROWS",
			c.baseURL, c.sheetID, headerRange),
		&valueRange{
			Range:          headerRange,
			MajorDimension: "ROWS",
			Values:         [][]any{cells},
		}, nil)
}

// do issues one authorized API call, decoding the response into out when
// non-nil. Non-2xx responses become *HTTPError.
func (c *Client) do(ctx context.Context, token, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("sheets: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("sheets: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sheets: %s %s: %w", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		limited, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{Status: resp.StatusCode, Body: string(limited)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("sheets: decode response: %w", err)
		}
	}
	return nil
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/brojonat/txview/service/serialize"
	"github.com/brojonat/txview/service/wallet"
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// TransactionList is one page of a sender's transactions.
type TransactionList struct {
	Transactions []*serialize.TransactionInfo `json:"transactions"`
	Total        int64                        `json:"total"`
	Limit        int32                        `json:"limit"`
	Offset       int32                        `json:"offset"`
}

// TransferRequest describes an unsigned Solana transfer to build.
// Amount and SPLTokenMint are used for token transfers, Lamports otherwise.
type TransferRequest struct {
	FeePayer     string                    `json:"feePayer"`
	To           string                    `json:"to"`
	Lamports     uint64                    `json:"lamports,omitempty"`
	SPLTokenMint string                    `json:"splTokenMint,omitempty"`
	Amount       uint64                    `json:"amount,omitempty"`
	SendOptions  *wallet.SolanaSendOptions `json:"sendOptions,omitempty"`
}

// Client is the HTTP client for the txview service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new txview service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// CreateTransaction stores a backend record and returns its serializable form.
func (c *Client) CreateTransaction(ctx context.Context, tx *wallet.TransactionInfo) (*serialize.TransactionInfo, error) {
	var out serialize.TransactionInfo
	if err := c.do(ctx, http.MethodPost, "/api/v1/transactions", tx, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "transaction created", "id", out.ID)
	return &out, nil
}

// GetTransaction fetches one stored record by id.
func (c *Client) GetTransaction(ctx context.Context, id string) (*serialize.TransactionInfo, error) {
	var out serialize.TransactionInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/transactions/"+url.PathEscape(id), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTransactions lists a sender's records, newest first. A zero limit
// uses the server default.
func (c *Client) ListTransactions(ctx context.Context, address string, limit, offset int) (*TransactionList, error) {
	q := url.Values{}
	q.Set("address", address)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	var out TransactionList
	if err := c.do(ctx, http.MethodGet, "/api/v1/transactions?"+q.Encode(), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "transactions listed", "address", address, "count", len(out.Transactions), "total", out.Total)
	return &out, nil
}

// Serialize converts a backend record on the server without storing it.
func (c *Client) Serialize(ctx context.Context, tx *wallet.TransactionInfo) (*serialize.TransactionInfo, error) {
	var out serialize.TransactionInfo
	if err := c.do(ctx, http.MethodPost, "/api/v1/serialize", tx, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BuildSolanaTransfer asks the server for an unsigned transfer payload
// anchored to a fresh blockhash.
func (c *Client) BuildSolanaTransfer(ctx context.Context, req TransferRequest) (*serialize.SolanaTxData, error) {
	var out serialize.SolanaTxData
	if err := c.do(ctx, http.MethodPost, "/api/v1/solana/transfers", req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSolanaTransaction reads the payload of a landed transaction by signature.
func (c *Client) GetSolanaTransaction(ctx context.Context, signature string) (*serialize.SolanaTxData, error) {
	var out serialize.SolanaTxData
	path := "/api/v1/solana/transactions/" + url.PathEscape(signature)
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, http.StatusOK, nil)
}

// do sends body as JSON (when non-nil) and decodes the response into out
// (when non-nil). Any status other than want is an error.
func (c *Client) do(ctx context.Context, method, path string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		err := fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return err
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, errResp.Error)
	}
	return fmt.Errorf("request failed: %s", errResp.Error)
}

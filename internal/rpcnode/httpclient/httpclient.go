// Package httpclient implements rpcnode.NodeClient as a thin JSON-RPC
// client over net/http, grounded on the teacher's own HTTP request/retry
// idiom: p2p/node.go's SendMessage (context.WithTimeout, exponential
// backoff over a fixed attempt count) and internal/zerocash/api.go's
// FetchPeerPubKey/SendTxToPeer (encode request, POST, decode JSON
// response).
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shieldedpool/client/internal/rpcnode"
)

// Client is a JSON-RPC rpcnode.NodeClient.
type Client struct {
	BaseURL    string
	HTTP       *http.Client
	MaxRetries int
}

// New returns a Client with the teacher's timeout/retry defaults
// (5s per-attempt timeout, 3 attempts, exponential backoff).
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTP:       &http.Client{},
		MaxRetries: 3,
	}
}

func (c *Client) call(ctx context.Context, method string, req, resp interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("httpclient: marshaling request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.BaseURL+"/"+method, bytes.NewReader(body))
		if err != nil {
			cancel()
			return fmt.Errorf("httpclient: building request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := c.HTTP.Do(httpReq)
		cancel()
		if err == nil && httpResp.StatusCode == http.StatusOK {
			defer httpResp.Body.Close()
			if resp != nil {
				if err := json.NewDecoder(httpResp.Body).Decode(resp); err != nil {
					return fmt.Errorf("httpclient: decoding %s response: %w", method, err)
				}
			}
			return nil
		}
		if httpResp != nil {
			httpResp.Body.Close()
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		time.Sleep(time.Duration(1<<attempt) * 100 * time.Millisecond)
	}
	return fmt.Errorf("httpclient: %s failed after %d attempts: %w", method, c.MaxRetries, lastErr)
}

func (c *Client) LatestLedger(ctx context.Context) (uint64, error) {
	var resp struct {
		Ledger uint64 `json:"ledger"`
	}
	if err := c.call(ctx, "latest_ledger", struct{}{}, &resp); err != nil {
		return 0, err
	}
	return resp.Ledger, nil
}

func (c *Client) GetEvents(ctx context.Context, req rpcnode.PageRequest) (rpcnode.Page, error) {
	var page rpcnode.Page
	if err := c.call(ctx, "get_events", req, &page); err != nil {
		return rpcnode.Page{}, err
	}
	return page, nil
}

func (c *Client) GetLedgerEntry(ctx context.Context, key string) ([]byte, bool, error) {
	var resp struct {
		Found bool   `json:"found"`
		Value []byte `json:"value"`
	}
	if err := c.call(ctx, "get_ledger_entry", struct {
		Key string `json:"key"`
	}{Key: key}, &resp); err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Found, nil
}

func (c *Client) SimulateFindKey(ctx context.Context, key []byte) (rpcnode.FindKeyResult, error) {
	var resp rpcnode.FindKeyResult
	if err := c.call(ctx, "simulate_find_key", struct {
		Key []byte `json:"key"`
	}{Key: key}, &resp); err != nil {
		return rpcnode.FindKeyResult{}, err
	}
	return resp, nil
}

func (c *Client) SubmitTransaction(ctx context.Context, req rpcnode.SubmitRequest) (rpcnode.SubmitResult, error) {
	var resp rpcnode.SubmitResult
	if err := c.call(ctx, "submit_transaction", req, &resp); err != nil {
		return rpcnode.SubmitResult{}, err
	}
	return resp, nil
}

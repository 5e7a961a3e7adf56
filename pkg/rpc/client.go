package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"metasync/pkg/replication"
)

const (
	// AppendLogEndpoint is where the peer serves the replication RPC.
	AppendLogEndpoint = "/api/internal/appendlog"

	requestTimeout = 15 * time.Second
)

// Client delivers AppendLog requests to the peer over HTTP. The peer
// address can be rebound after takeover.
type Client struct {
	mu         sync.RWMutex
	baseURL    string
	httpClient *http.Client
}

func NewClient(peerAddr string) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
	}
	c.Rebind(peerAddr)
	return c
}

func (c *Client) Rebind(peerAddr string) {
	if !strings.Contains(peerAddr, "://") {
		peerAddr = "http://" + peerAddr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = strings.TrimRight(peerAddr, "/")
}

func (c *Client) AppendLog(ctx context.Context, req replication.AppendLogRequest) (replication.AppendLogResponse, error) {
	var resp replication.AppendLogResponse

	c.mu.RLock()
	url := c.baseURL + AppendLogEndpoint
	c.mu.RUnlock()

	body, err := json.Marshal(req)
	if err != nil {
		return resp, fmt.Errorf("marshal append request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return resp, fmt.Errorf("create append request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return resp, fmt.Errorf("send append request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(httpResp.Body)
		return resp, fmt.Errorf("append request status %d: %s", httpResp.StatusCode, string(b))
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return resp, fmt.Errorf("decode append response: %w", err)
	}
	return resp, nil
}

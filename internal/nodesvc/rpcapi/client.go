// Package rpcapi defines the node RPC surface consumed by the reconciler and the state machine's on_start
// hook. The wire codec itself is an external collaborator (see the module's scope notes); this package
// only specifies the calls the core makes and ships a minimal JSON-over-HTTP transport for local testing.
package rpcapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// defaultConnectTimeout is the independent RPC connection timeout mentioned in the concurrency model;
// the state machine does not add its own timeout layer on top of this.
const defaultConnectTimeout = 300 * time.Second

// NodeInfo mirrors the node process's self-reported identity and resource usage.
type NodeInfo struct {
	PID           int    `json:"pid"`
	PeerID        string `json:"peer_id"`
	DataPath      string `json:"data_path"`
	LogPath       string `json:"log_path"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	WalletBalance string `json:"wallet_balance"`
}

// NetworkInfo mirrors the node's current view of its network neighbourhood.
type NetworkInfo struct {
	ConnectedPeers []string `json:"connected_peers"`
	Listeners      []string `json:"listeners"`
}

// Client is the RPC surface the reconciler and the state machine's on_start hook depend on.
type Client interface {
	NodeInfo(ctx context.Context, addr netip.AddrPort) (*NodeInfo, error)
	NetworkInfo(ctx context.Context, addr netip.AddrPort) (*NetworkInfo, error)
	IsConnectedToNetwork(ctx context.Context, addr netip.AddrPort, timeout time.Duration) (bool, error)
}

// HTTPClient is a minimal JSON-over-HTTP Client implementation. It retries connection-level failures with
// an exponential backoff, following the same retry-on-network-error, don't-retry-on-other-errors split the
// rest of the codebase uses for its own API client.
type HTTPClient struct {
	httpClient *http.Client
	newBackoff func() backoff.BackOff
}

func NewHTTPClient() *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: defaultConnectTimeout},
		newBackoff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(100*time.Millisecond),
				backoff.WithMaxInterval(1*time.Second),
				backoff.WithMaxElapsedTime(10*time.Second),
			)
		},
	}
}

func (c *HTTPClient) NodeInfo(ctx context.Context, addr netip.AddrPort) (*NodeInfo, error) {
	var info NodeInfo
	if err := c.call(ctx, addr, "node_info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *HTTPClient) NetworkInfo(ctx context.Context, addr netip.AddrPort) (*NetworkInfo, error) {
	var info NetworkInfo
	if err := c.call(ctx, addr, "network_info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *HTTPClient) IsConnectedToNetwork(ctx context.Context, addr netip.AddrPort, timeout time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result struct {
		Connected bool `json:"connected"`
	}
	if err := c.call(ctx, addr, "is_connected_to_network", nil, &result); err != nil {
		return false, err
	}
	return result.Connected, nil
}

func (c *HTTPClient) call(ctx context.Context, addr netip.AddrPort, method string, body, out any) error {
	url := fmt.Sprintf("http://%s/%s", addr, method)

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	roundTrip := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return resp, nil
	}

	resp, err := backoff.RetryWithData(roundTrip, backoff.WithContext(c.newBackoff(), ctx))
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("call %s: unexpected status %d", method, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

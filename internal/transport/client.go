package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"chordkv/internal/netaddr"
)

// ClientOptions configures a Client's dial timeout and retry/backoff
// policy: connection timeout, max retries, retry delay, and backoff
// factor.
type ClientOptions struct {
	ConnectTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	BackoffFactor  float64
}

// Client issues RPCs against remote peers, one TCP connection per call,
// retrying transient failures with exponential backoff.
type Client struct {
	self   netaddr.Address
	opts   ClientOptions
	logger *slog.Logger
}

// NewClient builds a Client. self is used to short-circuit calls and
// pings targeting the local peer.
func NewClient(self netaddr.Address, opts ClientOptions, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{self: self, opts: opts, logger: logger}
}

// roundTrip performs a single dial/write/read attempt, returning the raw
// response bytes.
func (c *Client) roundTrip(addr netaddr.Address, req Request) ([]byte, error) {
	conn, err := net.DialTimeout("tcp", addr.String(), c.opts.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	defer conn.Close()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("transport: encode request: %w", err)
	}

	conn.SetDeadline(time.Now().Add(c.opts.ConnectTimeout))
	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("transport: write to %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("transport: read from %s: %w", addr, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("transport: empty response from %s", addr)
	}
	return buf[:n], nil
}

// call applies the MAX_RETRIES/RETRY_DELAY/BACKOFF_FACTOR retry policy
// on top of roundTrip.
func (c *Client) call(ctx context.Context, addr netaddr.Address, req Request) ([]byte, error) {
	req.RequestID = uuid.NewString()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.RetryDelay
	bo.Multiplier = c.opts.BackoffFactor
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	attempt := 0
	var resp []byte
	operation := func() error {
		attempt++
		raw, err := c.roundTrip(addr, req)
		if err != nil {
			c.logger.Debug("rpc attempt failed", "command", req.Command, "target", addr.String(), "attempt", attempt, "request_id", req.RequestID, "error", err)
			return err
		}
		resp = raw
		return nil
	}

	retries := c.opts.MaxRetries - 1
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("transport: %s to %s failed after %d attempt(s): %w", req.Command, addr, attempt, err)
	}
	return resp, nil
}

// FindSuccessor asks addr for the successor of id.
func (c *Client) FindSuccessor(ctx context.Context, addr netaddr.Address, id uint64) (netaddr.Address, error) {
	raw, err := c.call(ctx, addr, Request{Command: CmdFindSuccessor, ID: id})
	if err != nil {
		return netaddr.Address{}, err
	}
	var resp FindSuccessorResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return netaddr.Address{}, fmt.Errorf("transport: decode find_successor response: %w", err)
	}
	return resp.Successor, nil
}

// GetPredecessor asks addr for its predecessor. A nil result means addr
// reports having none.
func (c *Client) GetPredecessor(ctx context.Context, addr netaddr.Address) (*netaddr.Address, error) {
	raw, err := c.call(ctx, addr, Request{Command: CmdGetPredecessor})
	if err != nil {
		return nil, err
	}
	var resp GetPredecessorResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("transport: decode get_predecessor response: %w", err)
	}
	return resp.Predecessor, nil
}

// GetSuccessorList asks addr for its successor list. Every peer
// currently reports this as empty; no successor-list maintenance
// protocol is implemented.
func (c *Client) GetSuccessorList(ctx context.Context, addr netaddr.Address) ([]netaddr.Address, error) {
	raw, err := c.call(ctx, addr, Request{Command: CmdGetSuccessorList})
	if err != nil {
		return nil, err
	}
	var resp GetSuccessorListResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("transport: decode get_successor_list response: %w", err)
	}
	return resp.SuccessorList, nil
}

// Notify informs addr that candidate believes it may be addr's
// predecessor.
func (c *Client) Notify(ctx context.Context, addr, candidate netaddr.Address) (status string, old *netaddr.Address, err error) {
	raw, err := c.call(ctx, addr, Request{Command: CmdNotify, Predecessor: &candidate})
	if err != nil {
		return "", nil, err
	}
	var resp NotifyResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", nil, fmt.Errorf("transport: decode notify response: %w", err)
	}
	return resp.Status, resp.OldPredecessor, nil
}

// StoreKey forwards a store_key request to addr.
func (c *Client) StoreKey(ctx context.Context, addr netaddr.Address, key, value string) (status, message string, err error) {
	raw, err := c.call(ctx, addr, Request{Command: CmdStoreKey, Key: key, Value: value})
	if err != nil {
		return "", "", err
	}
	var resp StoreKeyResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", "", fmt.Errorf("transport: decode store_key response: %w", err)
	}
	return resp.Status, resp.Message, nil
}

// RetrieveKey forwards a retrieve_key request to addr.
func (c *Client) RetrieveKey(ctx context.Context, addr netaddr.Address, key string) (status, value, message string, err error) {
	raw, err := c.call(ctx, addr, Request{Command: CmdRetrieveKey, Key: key})
	if err != nil {
		return "", "", "", err
	}
	var resp RetrieveKeyResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", "", "", fmt.Errorf("transport: decode retrieve_key response: %w", err)
	}
	return resp.Status, resp.Value, resp.Message, nil
}

// DeleteKey forwards a delete_key request to addr.
func (c *Client) DeleteKey(ctx context.Context, addr netaddr.Address, key string) (status, message string, err error) {
	raw, err := c.call(ctx, addr, Request{Command: CmdDeleteKey, Key: key})
	if err != nil {
		return "", "", err
	}
	var resp DeleteKeyResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", "", fmt.Errorf("transport: decode delete_key response: %w", err)
	}
	return resp.Status, resp.Message, nil
}

// Ping is the liveness probe: a single attempt, no retries, bounded by
// ConnectTimeout. The local peer always reports alive without a network
// round trip.
func (c *Client) Ping(addr netaddr.Address) bool {
	if addr.Equal(c.self) {
		return true
	}
	raw, err := c.roundTrip(addr, Request{Command: CmdPing})
	if err != nil {
		return false
	}
	var resp PingResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return false
	}
	return resp.Status == StatusAlive
}

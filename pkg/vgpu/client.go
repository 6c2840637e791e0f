package vgpu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tcontext "github.com/tsgd/tsgd/pkg/context"
	"github.com/tsgd/tsgd/pkg/logger"
	"github.com/tsgd/tsgd/pkg/types"
)

// BindChannelExPath is the host endpoint that accepts remote binds
const BindChannelExPath = "/v1/vgpu/bind_channel_ex"

// UnbindChannelPath is the host endpoint that accepts remote unbinds
const UnbindChannelPath = "/v1/vgpu/unbind_channel"

// RequestIDHeader propagates request ids between guest and host
const RequestIDHeader = "X-Request-ID"

// Client forwards binds to a host scheduler. It satisfies
// interfaces.BindHook.
type Client struct {
	endpoint   string
	guest      string
	httpClient *http.Client
	logger     logger.Logger
}

// NewClient creates a client for the host at endpoint. guest names this
// guest to the host, which keeps a separate id mapping per guest.
func NewClient(endpoint, guest string, timeout time.Duration, log logger.Logger) *Client {
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		guest:      guest,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.WithComponent("vgpu"),
	}
}

// BindChannel sends req to the host and blocks for its status
func (c *Client) BindChannel(ctx context.Context, req types.BindChannelRequest) error {
	return c.call(ctx, BindChannelExPath, req)
}

// UnbindChannel asks the host to drop a binding made by BindChannel
func (c *Client) UnbindChannel(ctx context.Context, req types.BindChannelRequest) error {
	return c.call(ctx, UnbindChannelPath, req)
}

func (c *Client) call(ctx context.Context, path string, req types.BindChannelRequest) error {
	log := logger.WithContext(ctx, c.logger)
	if req.Guest == "" {
		req.Guest = c.guest
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode bind request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build bind request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if id, ok := tcontext.RequestID(ctx); ok {
		httpReq.Header.Set(RequestIDHeader, id)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Error("Host request failed", logger.WithField("path", path), logger.WithError(err))
		return StatusIO.wrap(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return StatusIO.wrap(err)
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return StatusIO.wrap(fmt.Errorf("decode response (HTTP %d): %v", resp.StatusCode, err))
	}

	log.Debug("Host answered",
		logger.WithField("path", path),
		logger.WithField("tsgid", req.GroupID),
		logger.WithField("ch_handle", req.ChannelHandle),
		logger.WithField("ret", int32(out.Ret)))
	return out.Ret.Err()
}

func (s Status) wrap(err error) error {
	return fmt.Errorf("%w: %v", s.Err(), err)
}

// Package bootstrap obtains room credentials from the voice agent API when
// they are not configured directly.
package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"github.com/mossy-p/webrtc-device/internal/logutil"
)

const (
	defaultTimeout = 15 * time.Second
	maxResponse    = 1 << 20
)

var (
	// ErrBadResponse is returned when the API answers without the fields the
	// device needs.
	ErrBadResponse = errors.New("bootstrap: bad response")

	// ErrNotConfigured is returned when no API url or key is set.
	ErrNotConfigured = errors.New("bootstrap: api url and key required")
)

// CallRequest is the body of a call creation request
type CallRequest struct {
	SystemPrompt string `json:"systemPrompt"`
	Voice        string `json:"voice,omitempty"`
}

type callResponse struct {
	JoinURL string `json:"joinUrl"`
}

// RoomInfo is the first message sent on a call's join socket
type RoomInfo struct {
	RoomURL string `json:"roomUrl"`
	Token   string `json:"token"`
}

// Config configures a Client.
type Config struct {
	APIURL string
	APIKey string

	// HTTPClient defaults to a client with a 15s timeout.
	HTTPClient *http.Client
	Dialer     *websocket.Dialer

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Client talks to the voice agent API.
type Client struct {
	config Config
	log    logging.LeveledLogger
}

// New creates a Client.
func New(config Config) (*Client, error) {
	if config.APIURL == "" || config.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if config.Dialer == nil {
		config.Dialer = websocket.DefaultDialer
	}
	config.APIURL = strings.TrimSuffix(config.APIURL, "/")
	return &Client{config: config, log: logutil.Scoped(config.LoggerFactory, "bootstrap")}, nil
}

// CreateCall starts a call and returns the url to join it.
func (c *Client) CreateCall(ctx context.Context, req CallRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode call request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIURL+"/calls", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build call request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.config.APIKey)

	res, err := c.config.HTTPClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("create call: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponse))
	if err != nil {
		return "", fmt.Errorf("read call response: %w", err)
	}
	c.log.Infof("create call status %d", res.StatusCode)
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d", ErrBadResponse, res.StatusCode)
	}

	var call callResponse
	if err := json.Unmarshal(data, &call); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if call.JoinURL == "" {
		return "", fmt.Errorf("%w: missing joinUrl", ErrBadResponse)
	}
	return call.JoinURL, nil
}

// ResolveRoom dials joinURL and reads the room url and token from the first
// text message.
func (c *Client) ResolveRoom(ctx context.Context, joinURL string) (RoomInfo, error) {
	conn, _, err := c.config.Dialer.DialContext(ctx, joinURL, nil)
	if err != nil {
		return RoomInfo{}, fmt.Errorf("dial join url: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(defaultTimeout))
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return RoomInfo{}, fmt.Errorf("read room info: %w", err)
		}
		if messageType != websocket.TextMessage || len(data) == 0 {
			continue
		}

		var info RoomInfo
		if err := json.Unmarshal(data, &info); err != nil {
			return RoomInfo{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		if info.RoomURL == "" || info.Token == "" {
			return RoomInfo{}, fmt.Errorf("%w: missing roomUrl or token", ErrBadResponse)
		}
		c.log.Infof("resolved room %s", info.RoomURL)
		return info, nil
	}
}

// Join creates a call and resolves its room.
func (c *Client) Join(ctx context.Context, req CallRequest) (RoomInfo, error) {
	joinURL, err := c.CreateCall(ctx, req)
	if err != nil {
		return RoomInfo{}, err
	}
	return c.ResolveRoom(ctx, joinURL)
}

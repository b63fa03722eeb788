// Package apiclient calls the HTTP API as one signed-in user. It satisfies
// callclient.Signaling and chatclient.MessageAPI.
package apiclient

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
	"sync"
	"time"

	"link-platform/internal/apperr"
	"link-platform/internal/auth"
	"link-platform/internal/calls"
	"link-platform/internal/conversations"
	"link-platform/internal/messages"
	"link-platform/internal/reporting"
)

type Client struct {
	base string
	http *http.Client

	mu      sync.Mutex
	access  string
	refresh string
}

// New returns a client for the API at baseURL. hc may be nil.
func New(baseURL, accessToken string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), access: accessToken, http: hc}
}

// WithRefreshToken lets the client renew an expired access token once per
// rejected request.
func (c *Client) WithRefreshToken(refreshToken string) *Client {
	c.mu.Lock()
	c.refresh = refreshToken
	c.mu.Unlock()
	return c
}

// Login calls the development login route and returns a client holding the token pair.
func Login(ctx context.Context, baseURL, userID string, hc *http.Client) (*Client, auth.TokenPair, error) {
	c := New(baseURL, "", hc)
	var pair auth.TokenPair
	if err := c.do(ctx, http.MethodPost, "/v1/auth/login", map[string]string{"user_id": userID}, &pair); err != nil {
		return nil, auth.TokenPair{}, err
	}
	c.setTokens(pair)
	return c, pair, nil
}

func (c *Client) tokens() (access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.access, c.refresh
}

func (c *Client) setTokens(pair auth.TokenPair) {
	c.mu.Lock()
	c.access = pair.AccessToken
	if pair.RefreshToken != "" {
		c.refresh = pair.RefreshToken
	}
	c.mu.Unlock()
}

// renew trades the refresh token for a new pair unless another request already
// replaced the access token that was rejected.
func (c *Client) renew(ctx context.Context, rejected string) error {
	access, refresh := c.tokens()
	if access != rejected {
		return nil
	}
	var pair auth.TokenPair
	resp, err := c.send(ctx, http.MethodPost, "/v1/auth/refresh", "", mustJSON(map[string]string{"refresh_token": refresh}))
	if err != nil {
		return err
	}
	if err := readResponse(resp, http.MethodPost, "/v1/auth/refresh", &pair); err != nil {
		return err
	}
	c.setTokens(pair)
	return nil
}

// --- calls ---

func (c *Client) StartCall(ctx context.Context, conversationID string, callType calls.CallType) (calls.Session, error) {
	var out calls.Session
	err := c.do(ctx, http.MethodPost, "/v1/conversations/"+url.PathEscape(conversationID)+"/calls",
		map[string]calls.CallType{"call_type": callType}, &out)
	return out, err
}

func (c *Client) Accept(ctx context.Context, sessionID string) (calls.Session, error) {
	return c.callOp(ctx, http.MethodPost, sessionID, "/accept")
}

func (c *Client) Reject(ctx context.Context, sessionID string) (calls.Session, error) {
	return c.callOp(ctx, http.MethodPost, sessionID, "/reject")
}

func (c *Client) End(ctx context.Context, sessionID string) (calls.Session, error) {
	return c.callOp(ctx, http.MethodPost, sessionID, "/end")
}

func (c *Client) Miss(ctx context.Context, sessionID string) (calls.Session, error) {
	return c.callOp(ctx, http.MethodPost, sessionID, "/miss")
}

func (c *Client) GetCall(ctx context.Context, sessionID string) (calls.Session, error) {
	return c.callOp(ctx, http.MethodGet, sessionID, "")
}

func (c *Client) callOp(ctx context.Context, method, sessionID, suffix string) (calls.Session, error) {
	var out calls.Session
	err := c.do(ctx, method, "/v1/calls/"+url.PathEscape(sessionID)+suffix, nil, &out)
	return out, err
}

// MediaToken returns a token for the call's media room.
func (c *Client) MediaToken(ctx context.Context, sessionID string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/calls/"+url.PathEscape(sessionID)+"/media-token", nil, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *Client) CallHistory(ctx context.Context, conversationID string) (reporting.CallHistorySummary, error) {
	var out reporting.CallHistorySummary
	err := c.do(ctx, http.MethodGet, "/v1/conversations/"+url.PathEscape(conversationID)+"/calls/summary", nil, &out)
	return out, err
}

// --- conversations & messages ---

func (c *Client) ListConversations(ctx context.Context) ([]conversations.Summary, error) {
	var out struct {
		Conversations []conversations.Summary `json:"conversations"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/conversations", nil, &out)
	return out.Conversations, err
}

func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int) ([]messages.Message, error) {
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Messages []messages.Message `json:"messages"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Messages, err
}

func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (messages.Message, error) {
	var out messages.Message
	err := c.do(ctx, http.MethodPost, "/v1/conversations/"+url.PathEscape(conversationID)+"/messages",
		map[string]string{"content": content}, &out)
	return out, err
}

func (c *Client) MarkAsRead(ctx context.Context, conversationID string) (int, error) {
	var out struct {
		Updated int `json:"updated"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/conversations/"+url.PathEscape(conversationID)+"/read", nil, &out)
	return out.Updated, err
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = b
	}

	access, refresh := c.tokens()
	resp, err := c.send(ctx, method, path, access, body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized && refresh != "" && access != "" {
		resp.Body.Close()
		if err := c.renew(ctx, access); err != nil {
			return err
		}
		access, _ = c.tokens()
		if resp, err = c.send(ctx, method, path, access, body); err != nil {
			return err
		}
	}
	return readResponse(resp, method, path, out)
}

func (c *Client) send(ctx context.Context, method, path, token string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Store(fmt.Errorf("%s %s: %w", method, path, err))
	}
	return resp, nil
}

func readResponse(resp *http.Response, method, path string, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func mustJSON(v map[string]string) []byte {
	b, _ := json.Marshal(v)
	return b
}

// decodeError turns an error response back into the taxonomy. Bodies without a
// code fall back to the status.
func decodeError(resp *http.Response) error {
	var eb errorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&eb)
	if eb.Code == "" {
		eb.Code = codeForStatus(resp.StatusCode)
	}
	if eb.Error == "" {
		eb.Error = resp.Status
	}
	return apperr.FromCode(eb.Code, eb.Error)
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.CodeNotAuthorized
	case http.StatusNotFound:
		return apperr.CodeNotFound
	case http.StatusBadRequest:
		return apperr.CodeValidationFailed
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return apperr.CodeStoreUnavailable
	default:
		return apperr.CodeInternal
	}
}

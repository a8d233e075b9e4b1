// Package platform – client.go implements the HTTP client for the
// customer-service platform API: login, account/session discovery,
// sendMsg, and setRead.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ---------- Client ----------

const (
	defaultTimeout = 20 * time.Second
	sendTimeout    = 30 * time.Second
)

// Client talks to the platform's REST API. One Client serves the whole
// process; Authenticate refreshes the Bearer token in place so in-flight
// collaborators pick up the new credential on their next call.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	logger     *slog.Logger

	mu   sync.RWMutex
	auth AuthContext
}

// NewClient creates a platform client. baseURL is the API root, e.g.
// "https://pn3cs.rocketgo.vip/prod-api2".
func NewClient(baseURL, username, password string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		httpClient: &http.Client{},
		logger:     logger.With("component", "platform"),
	}
}

// Auth returns the AuthContext from the most recent successful login.
func (c *Client) Auth() AuthContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.auth
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.auth.Token
}

// ---------- Wire Types ----------

// loginRequest is the login endpoint payload. The captcha fields are sent
// empty: accounts used here have captcha disabled, and a different
// Authenticator can be injected where that does not hold.
type loginRequest struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	Code           string `json:"code"`
	GoogleAuthCode string `json:"googleAuthCode"`
	UUID           string `json:"uuid"`
}

// loginResponse covers both token field spellings the backend uses.
type loginResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
	Msg         string `json:"msg"`
	Message     string `json:"message"`
}

type userInfoResponse struct {
	User struct {
		UserID json.RawMessage `json:"userId"`
	} `json:"user"`
}

type sessionInfoResponse struct {
	CsRow struct {
		TokenID json.RawMessage `json:"tokenId"`
	} `json:"csRow"`
}

// sendRequest is the sendMsg payload. isSend/isRead/chatIndex/isFakePkmsg
// are fixed values the web client always sends.
type sendRequest struct {
	CsID         json.RawMessage `json:"csId"`
	ChatContent  string          `json:"chatContent"`
	CsUsername   string          `json:"csUsername"`
	Username     string          `json:"username"`
	IsSend       int             `json:"isSend"`
	IsRead       int             `json:"isRead"`
	ChatIndex    int             `json:"chatIndex"`
	ChatType     int             `json:"chatType"`
	CsChatUserID json.RawMessage `json:"csChatUserId"`
	IsFakePkmsg  int             `json:"isFakePkmsg"`
}

// apiEnvelope is the body-level status wrapper on most endpoints.
type apiEnvelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// ---------- Public Methods ----------

// Authenticate runs the full login flow: password login, then user-info
// and channel-session lookups. On success the client's Bearer token is
// replaced and the new AuthContext returned.
func (c *Client) Authenticate(ctx context.Context) (AuthContext, error) {
	start := time.Now()

	token, err := c.login(ctx)
	if err != nil {
		return AuthContext{}, err
	}

	userID, err := c.userInfo(ctx, token)
	if err != nil {
		return AuthContext{}, err
	}

	channelToken, err := c.sessionInfo(ctx, token)
	if err != nil {
		return AuthContext{}, err
	}

	auth := AuthContext{
		Token:        token,
		UserID:       userID,
		ChannelToken: channelToken,
	}

	c.mu.Lock()
	c.auth = auth
	c.mu.Unlock()

	c.logger.Info("login ok",
		"user_id", userID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return auth, nil
}

// Send delivers one message segment to a counterpart.
func (c *Client) Send(ctx context.Context, sctx SendContext, text string) error {
	token := c.bearer()
	if token == "" {
		return fmt.Errorf("not authenticated: call Authenticate first")
	}

	chatType := sctx.ChatType
	if chatType == 0 {
		chatType = 1
	}

	payload := sendRequest{
		CsID:         orNullID(sctx.OperatorID),
		ChatContent:  text,
		CsUsername:   sctx.AccountID,
		Username:     sctx.CounterpartID,
		IsSend:       1,
		IsRead:       1,
		ChatIndex:    1,
		ChatType:     chatType,
		CsChatUserID: orNullID(sctx.SessionRef),
		IsFakePkmsg:  0,
	}

	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling send request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/biz/chat/sendMsg", bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("creating send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading send response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("send returned %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	c.logger.Info("message sent",
		"counterpart", sctx.CounterpartID,
		"account", sctx.AccountID,
		"chars", len(text),
	)
	return nil
}

// SetRead marks a conversation as read. The platform reports failure
// through a body-level code, not the HTTP status.
func (c *Client) SetRead(ctx context.Context, ackToken string) error {
	token := c.bearer()
	if token == "" {
		return fmt.Errorf("not authenticated: call Authenticate first")
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/biz/chat/setRead/"+ackToken, nil)
	if err != nil {
		return fmt.Errorf("creating setRead request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("setRead request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading setRead response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("setRead returned %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	var env apiEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("parsing setRead response: %w", err)
	}
	if env.Code != 200 {
		return fmt.Errorf("setRead rejected: code=%d msg=%q", env.Code, env.Msg)
	}

	c.logger.Debug("conversation marked read", "ack_token", ackToken)
	return nil
}

// ---------- Login Flow ----------

func (c *Client) login(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	reqBody := loginRequest{
		Username: c.username,
		Password: c.password,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading login response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login returned %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	var loginResp loginResponse
	if err := json.Unmarshal(respBody, &loginResp); err != nil {
		return "", fmt.Errorf("parsing login response: %w", err)
	}

	token := loginResp.Token
	if token == "" {
		token = loginResp.AccessToken
	}
	if token == "" {
		msg := loginResp.Msg
		if msg == "" {
			msg = loginResp.Message
		}
		return "", fmt.Errorf("login rejected: %s", msg)
	}
	return token, nil
}

func (c *Client) userInfo(ctx context.Context, token string) (string, error) {
	var userResp userInfoResponse
	if err := c.getJSON(ctx, c.baseURL+"/getInfo", token, &userResp); err != nil {
		return "", fmt.Errorf("fetching user info: %w", err)
	}
	userID := idString(userResp.User.UserID)
	if userID == "" {
		return "", fmt.Errorf("user info response missing user.userId")
	}
	return userID, nil
}

func (c *Client) sessionInfo(ctx context.Context, token string) (string, error) {
	var sessResp sessionInfoResponse
	if err := c.getJSON(ctx, c.baseURL+"/biz/chat/getCsList", token, &sessResp); err != nil {
		return "", fmt.Errorf("fetching channel session: %w", err)
	}
	channelToken := idString(sessResp.CsRow.TokenID)
	if channelToken == "" {
		return "", fmt.Errorf("session response missing csRow.tokenId")
	}
	return channelToken, nil
}

func (c *Client) getJSON(ctx context.Context, url, token string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("returned %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// ---------- Helpers ----------

// idString normalizes a wire id that may arrive as a JSON number or
// string.
func idString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

// orNullID keeps json.Marshal happy when a routing id was absent from the
// triggering frame.
func orNullID(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Package dify implements the client for the Dify chat-messages API and
// the session adapter that binds completions to stored conversations.
// Blocking response mode only: replies are short customer-service
// messages, not long generations worth streaming.
package dify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ---------- Client ----------

// Client talks to a Dify application endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	inputs     map[string]any
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Dify client. inputs are the prompt variables sent
// with every completion (register_url, hr_name, language, ...).
func NewClient(baseURL, apiKey string, inputs map[string]any, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		inputs:  inputs,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger.With("component", "dify"),
	}
}

// ---------- Wire Types ----------

// FileRef is a remote media attachment forwarded with a query.
type FileRef struct {
	Type           string `json:"type"`
	TransferMethod string `json:"transfer_method"`
	URL            string `json:"url"`
}

// RemoteFile builds the remote_url attachment form Dify expects.
func RemoteFile(kind, url string) FileRef {
	return FileRef{
		Type:           kind,
		TransferMethod: "remote_url",
		URL:            url,
	}
}

type chatRequest struct {
	Inputs         map[string]any `json:"inputs"`
	Query          string         `json:"query"`
	ResponseMode   string         `json:"response_mode"`
	User           string         `json:"user"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Files          []FileRef      `json:"files,omitempty"`
}

// chatResponse covers the answer field spellings used by chat and
// workflow style Dify apps.
type chatResponse struct {
	Answer     string `json:"answer"`
	OutputText string `json:"output_text"`
	Outputs    struct {
		Text string `json:"text"`
	} `json:"outputs"`
	ConversationID string `json:"conversation_id"`
	ID             string `json:"id"`
}

// ---------- Public Methods ----------

// ChatRequest describes one completion call.
type ChatRequest struct {
	// User is the end-user identity Dify scopes its conversation state by.
	User string

	// Query is the message text; an empty query is sent as a single space
	// because Dify rejects empty queries.
	Query string

	// ConversationID continues an existing Dify conversation when set.
	ConversationID string

	Files []FileRef

	// InputOverrides replaces individual prompt inputs for this call only.
	InputOverrides map[string]any
}

// Completion is the parsed result of a chat-messages call.
type Completion struct {
	Answer         string
	ConversationID string
	MessageID      string
}

// ChatMessage runs one blocking completion.
func (c *Client) ChatMessage(ctx context.Context, req ChatRequest) (*Completion, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("Dify API key not configured. Run 'replygo auth set dify' or set REPLYGO_DIFY_API_KEY")
	}

	query := req.Query
	if query == "" {
		query = " "
	}

	inputs := make(map[string]any, len(c.inputs)+len(req.InputOverrides))
	for k, v := range c.inputs {
		inputs[k] = v
	}
	for k, v := range req.InputOverrides {
		inputs[k] = v
	}

	reqBody := chatRequest{
		Inputs:         inputs,
		Query:          query,
		ResponseMode:   "blocking",
		User:           req.User,
		ConversationID: req.ConversationID,
		Files:          req.Files,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := c.baseURL + "/chat-messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("sending completion",
		"user", req.User,
		"continuing", req.ConversationID != "",
		"files", len(req.Files),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	duration := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("completion error",
			"status", resp.StatusCode,
			"body", truncate(string(respBody), 500),
		)
		return nil, fmt.Errorf("completion returned %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	answer := chatResp.Answer
	if answer == "" {
		answer = chatResp.OutputText
	}
	if answer == "" {
		answer = chatResp.Outputs.Text
	}

	c.logger.Info("completion done",
		"user", req.User,
		"duration_ms", duration.Milliseconds(),
		"answer_chars", len(answer),
	)

	return &Completion{
		Answer:         answer,
		ConversationID: chatResp.ConversationID,
		MessageID:      chatResp.ID,
	}, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

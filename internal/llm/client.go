package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/chatgate/chatgate/internal/errkind"
	. "github.com/chatgate/chatgate/internal/logging"
	"github.com/chatgate/chatgate/internal/types"
)

// Client is the one Backend Client dialect the core speaks: an
// OpenAI-compatible /chat/completions endpoint, extended with an optional
// keep_alive hint the Cache Policy uses to control model residency.
// go-openai's request struct has no room for that field, so the wire request
// is built and sent by hand; go-openai's message/tool/stream-chunk types are
// reused throughout for decoding, since the dialect itself is unchanged.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient builds a Backend Client against baseURL (e.g.
// "http://127.0.0.1:11434/v1"). apiKey may be empty for backends that don't
// require one.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 0}, // turn-level context carries the deadline
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

type chatRequest struct {
	Model     string                         `json:"model"`
	Messages  []openai.ChatCompletionMessage `json:"messages"`
	Tools     []openai.Tool                  `json:"tools,omitempty"`
	KeepAlive string                         `json:"keep_alive,omitempty"`
	Stream    bool                           `json:"stream"`
}

// StreamMessage implements Provider.
func (c *Client) StreamMessage(
	ctx context.Context,
	model string,
	messages []types.Message,
	tools []types.ToolDefinition,
	keepAlive string,
	onDelta func(delta string),
) (*Response, error) {
	req := chatRequest{
		Model:     model,
		Messages:  convertMessages(messages),
		Tools:     convertTools(tools),
		KeepAlive: keepAlive,
		Stream:    true,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &errkind.BackendUnavailable{Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &errkind.BackendUnavailable{Reason: fmt.Sprintf("backend returned %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return nil, &errkind.Validation{Reason: fmt.Sprintf("backend rejected request: %d", resp.StatusCode)}
	}

	contentType := resp.Header.Get("Content-Type")
	var result *Response
	if strings.HasPrefix(contentType, "text/event-stream") {
		result, err = consumeStream(resp, onDelta)
	} else {
		result, err = consumeSingle(resp)
	}
	if err != nil {
		return nil, err
	}

	L_debug("llm: stream complete", "model", model, "elapsed", time.Since(start), "toolCalls", len(result.ToolCalls))
	return result, nil
}

// consumeStream reads Server-Sent-Events chunks in the OpenAI streaming
// dialect and accumulates them into a single Response, merging multi-part
// tool-call argument fragments by their index in each delta (the same
// merge-by-index contract every OpenAI-compatible streaming backend uses).
func consumeStream(resp *http.Response, onDelta func(delta string)) (*Response, error) {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var textBuf strings.Builder
	var toolCalls []openai.ToolCall
	var usage *Usage

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var chunk openai.ChatCompletionStreamResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return nil, &errkind.BackendUnavailable{Reason: "malformed stream chunk: " + err.Error()}
		}

		if chunk.Usage != nil {
			usage = &Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.Content != "" {
			textBuf.WriteString(delta.Content)
			if onDelta != nil {
				onDelta(delta.Content)
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			for len(toolCalls) <= idx {
				toolCalls = append(toolCalls, openai.ToolCall{Type: openai.ToolTypeFunction})
			}
			if tc.ID != "" {
				toolCalls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Function.Name += tc.Function.Name
			}
			toolCalls[idx].Function.Arguments += tc.Function.Arguments
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &errkind.BackendUnavailable{Reason: "stream read: " + err.Error()}
	}

	return &Response{
		Text:      textBuf.String(),
		ToolCalls: toOurToolCalls(toolCalls),
		Usage:     usage,
	}, nil
}

// consumeSingle handles a backend that ignored stream:true and returned one
// JSON body (some OpenAI-compatible servers do this for tool-call turns).
func consumeSingle(resp *http.Response) (*Response, error) {
	var body openai.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &errkind.BackendUnavailable{Reason: "malformed response: " + err.Error()}
	}
	if len(body.Choices) == 0 {
		return nil, &errkind.BackendUnavailable{Reason: "response had no choices"}
	}

	msg := body.Choices[0].Message
	return &Response{
		Text:      msg.Content,
		ToolCalls: toOurToolCalls(msg.ToolCalls),
		Usage: &Usage{
			PromptTokens:     body.Usage.PromptTokens,
			CompletionTokens: body.Usage.CompletionTokens,
			TotalTokens:      body.Usage.TotalTokens,
		},
	}, nil
}

func toOurToolCalls(in []openai.ToolCall) []ToolCall {
	out := make([]ToolCall, 0, len(in))
	for _, tc := range in {
		if tc.ID == "" && tc.Function.Name == "" {
			continue
		}
		out = append(out, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return out
}

func convertMessages(messages []types.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case types.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		default:
			out = append(out, openai.ChatCompletionMessage{
				Role:    string(m.Role),
				Content: m.Content,
			})
		}
	}
	return out
}

func convertTools(defs []types.ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.InputSchema,
			},
		})
	}
	return out
}

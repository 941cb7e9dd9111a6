// Package agentapi 被测 Agent 与评分服务的流式客户端
//
// 两个上游都是 chat-messages 风格的接口：
//   - 请求：Bearer 凭据 + JSON {inputs, query, response_mode: "streaming", conversation_id, user}
//   - 响应：按行分隔的事件流，每行一个 JSON 事件，可带 "data: " 前缀
//
// Client 调用被测 Agent，取 workflow_finished 事件的最终回答；
// Judge 调用评分服务，取第一个 thought 非空的 agent_thought 事件。
package agentapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"agent-eval/internal/config"
)

// 固定的会话上下文（已知限制：所有用例共用同一组号码）
const (
	fixedUserPhone    = "11111111111"
	fixedHotlinePhone = "43001"
)

// AgentInfo Agent 自描述信息（不透明结构）
type AgentInfo map[string]any

// Name 返回 name 字段，缺失或为空时返回 def
func (i AgentInfo) Name(def string) string {
	if v, ok := i["name"].(string); ok && v != "" {
		return v
	}
	return def
}

// chatRequest chat-messages 请求体
type chatRequest struct {
	Inputs         map[string]string `json:"inputs"`
	Query          string            `json:"query"`
	ResponseMode   string            `json:"response_mode"`
	ConversationID string            `json:"conversation_id"`
	User           string            `json:"user"`
}

// Client 被测 Agent 客户端
type Client struct {
	baseURL string
	t       *transport
}

// NewClient 创建 Agent 客户端
func NewClient(cfg config.AgentConfig, opts ...Option) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		t:       newTransport(cfg.Timeout, cfg.MaxRetries, opts),
	}
}

// FetchAgentInfo 获取 Agent 信息（GET {base_url}/info）
func (c *Client) FetchAgentInfo(ctx context.Context, credential string) (AgentInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.t.timeout)
	defer cancel()

	url := c.baseURL + "/info"
	resp, err := c.t.open(ctx, "agent_info", http.MethodGet, url, credential, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var info AgentInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, &RemoteServiceError{Op: "agent_info", URL: url, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("decode body: %w", err)}
	}
	if info == nil {
		info = AgentInfo{}
	}
	return info, nil
}

// Query 发送一条用例并返回 Agent 的最终回答
//
// 读到第一个 workflow_finished 事件即停止；事件流结束仍未出现时返回
// 包装 ErrEventNotFound 的 RemoteServiceError。
func (c *Client) Query(ctx context.Context, credential, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.t.timeout)
	defer cancel()

	url := c.baseURL + "/chat-messages"
	payload := chatRequest{
		Inputs: map[string]string{
			"user_phone":    fixedUserPhone,
			"hotline_phone": fixedHotlinePhone,
		},
		Query:          text,
		ResponseMode:   "streaming",
		ConversationID: "",
		User:           fixedUserPhone,
	}

	resp, err := c.t.open(ctx, "query", http.MethodPost, url, credential, payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var answer string
	found, err := scanEvents(resp.Body, func(ev *streamEvent) bool {
		if ev.Event != eventWorkflowFinished {
			return false
		}
		answer = ev.answer()
		return true
	})
	if err != nil {
		return "", &RemoteServiceError{Op: "query", URL: url, StatusCode: resp.StatusCode, Err: err}
	}
	if !found {
		return "", &RemoteServiceError{Op: "query", URL: url, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("%w: %s", ErrEventNotFound, eventWorkflowFinished)}
	}
	return answer, nil
}

package agentapi

import (
	"context"
	"fmt"
	"net/http"

	"agent-eval/internal/config"
)

const (
	judgeQuery = "给出得分"
	judgeUser  = "AI service"
)

// Judge 评分服务客户端
type Judge struct {
	url    string
	apiKey string
	t      *transport
}

// NewJudge 创建评分客户端，cfg.URL 为完整的 chat-messages 地址
func NewJudge(cfg config.JudgeConfig, opts ...Option) *Judge {
	return &Judge{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		t:      newTransport(cfg.Timeout, cfg.MaxRetries, opts),
	}
}

// Score 对一次回答评分，原样返回评分服务给出的文本
func (j *Judge) Score(ctx context.Context, input, actual, expected string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, j.t.timeout)
	defer cancel()

	payload := chatRequest{
		Inputs: map[string]string{
			"input":            input,
			"output":           actual,
			"reference_output": expected,
		},
		Query:          judgeQuery,
		ResponseMode:   "streaming",
		ConversationID: "",
		User:           judgeUser,
	}

	resp, err := j.t.open(ctx, "score", http.MethodPost, j.url, j.apiKey, payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var thought string
	found, err := scanEvents(resp.Body, func(ev *streamEvent) bool {
		if ev.Event != eventAgentThought || ev.Thought == "" {
			return false
		}
		thought = ev.Thought
		return true
	})
	if err != nil {
		return "", &RemoteServiceError{Op: "score", URL: j.url, StatusCode: resp.StatusCode, Err: err}
	}
	if !found {
		return "", &RemoteServiceError{Op: "score", URL: j.url, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("%w: %s", ErrEventNotFound, eventAgentThought)}
	}
	return thought, nil
}

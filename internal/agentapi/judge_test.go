package agentapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-eval/internal/config"
)

func TestJudgeScore(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat-messages", r.URL.Path)
		assert.Equal(t, "Bearer judge-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		fmt.Fprintln(w, `data: {"event":"agent_thought","thought":""}`)
		fmt.Fprintln(w, `data: {"event":"agent_message","answer":"..."}`)
		fmt.Fprintln(w, `data: {"event":"agent_thought","thought":"得分: 4.5, 满分5"}`)
		fmt.Fprintln(w, `data: {"event":"agent_thought","thought":"later"}`)
	}))
	defer srv.Close()

	j := NewJudge(config.JudgeConfig{URL: srv.URL + "/v1/chat-messages", APIKey: "judge-key", Timeout: 5 * time.Second})
	text, err := j.Score(context.Background(), "问题", "回答", "参考")
	require.NoError(t, err)
	assert.Equal(t, "得分: 4.5, 满分5", text)

	assert.Equal(t, "给出得分", got.Query)
	assert.Equal(t, "AI service", got.User)
	assert.Equal(t, "streaming", got.ResponseMode)
	assert.Equal(t, map[string]string{"input": "问题", "output": "回答", "reference_output": "参考"}, got.Inputs)
}

func TestJudgeScoreNoThought(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `data: {"event":"agent_thought","thought":""}`)
		fmt.Fprintln(w, `data: {"event":"message_end"}`)
	}))
	defer srv.Close()

	j := NewJudge(config.JudgeConfig{URL: srv.URL, Timeout: time.Second})
	_, err := j.Score(context.Background(), "a", "b", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEventNotFound)
	assert.True(t, IsRemoteServiceError(err))
}

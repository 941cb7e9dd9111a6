package objstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-eval/internal/config"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(config.MinIOConfig{})
	require.Error(t, err)

	_, err = NewClient(config.MinIOConfig{Endpoint: "localhost:9000"})
	require.Error(t, err)

	c, err := NewClient(config.MinIOConfig{Endpoint: "localhost:9000", AccessKey: "ak", SecretKey: "sk"})
	require.NoError(t, err)
	assert.Equal(t, "agent-eval", c.Bucket())

	c, err = NewClient(config.MinIOConfig{Endpoint: "localhost:9000", AccessKey: "ak", SecretKey: "sk", Bucket: "custom"})
	require.NoError(t, err)
	assert.Equal(t, "custom", c.Bucket())
}

func TestRunArchiveKey(t *testing.T) {
	assert.Equal(t, "runs/run-1/results.xlsx", RunArchiveKey("run-1"))
}

package storage

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryDefaults(t *testing.T) {
	r, err := NewRegistry(context.Background(), Config{}, func() *http.Client { return http.DefaultClient }, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"http", "https"}, r.Schemes())

	_, ok := r.Uploader("HTTPS")
	assert.True(t, ok)
	_, ok = r.Uploader("gdrive")
	assert.False(t, ok)
	_, ok = r.Fetcher("gdrive")
	assert.False(t, ok)
	assert.NotNil(t, r.Files())
}

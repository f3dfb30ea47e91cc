package coderetrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusUnavailableWhenBinaryMissing(t *testing.T) {
	a := New("/nonexistent/code-search-binary", t.TempDir())
	st, err := a.Status(context.Background())
	require.NoError(t, err, "status must never error, only report unavailability")
	require.False(t, st.Available)
}

func TestSearchReturnsBackendUnavailableWhenBinaryMissing(t *testing.T) {
	a := New("/nonexistent/code-search-binary", t.TempDir())
	_, err := a.Search(context.Background(), "foo", 5)
	require.Error(t, err)
}

func TestSearchWithNoBinaryConfigured(t *testing.T) {
	a := New("", t.TempDir())
	_, err := a.Search(context.Background(), "foo", 5)
	require.Error(t, err)
}

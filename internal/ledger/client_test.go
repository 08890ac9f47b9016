package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paddleserve/broker/internal/logging"
)

func TestArchivePostsBracketRecord(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/tournaments/", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewClient(server.URL, logging.NewTestLogger())
	err := client.Archive(context.Background(),
		[4]string{"alice", "bob", "carol", "dave"}, "3-1", "2-3", "1-3")
	require.NoError(t, err)

	assert.Equal(t, "alice", received["player_id_1"])
	assert.Equal(t, "dave", received["player_id_4"])
	assert.Equal(t, "3-1", received["score_match_1_2"])
	assert.Equal(t, "2-3", received["score_match_3_4"])
	assert.Equal(t, "1-3", received["score_match_final"])
}

func TestArchiveReportsRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(server.URL, logging.NewTestLogger())
	err := client.Archive(context.Background(), [4]string{"a", "b", "c", "d"}, "3-0", "3-0", "3-0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestDisabledClientIsNoOp(t *testing.T) {
	client := NewClient("", logging.NewTestLogger())
	assert.False(t, client.Enabled())
	assert.NoError(t, client.Archive(context.Background(), [4]string{}, "", "", ""))
}

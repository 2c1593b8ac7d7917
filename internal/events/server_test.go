package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestServerDaemonEndpoints(t *testing.T) {
	d, err := New(
		WithID("folders"),
		WithSource(&fakeSource{}),
		WithTarget(&fakeTarget{}),
		WithLogger(zap.NewNop()),
	)
	require.NoError(t, err)

	s := NewServer(zap.NewNop())
	s.RegisterDaemon(d)

	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)

	t.Run("list", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/daemons")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Daemons []DaemonInfo `json:"daemons"`
			Count   int          `json:"count"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, 1, body.Count)
		require.Len(t, body.Daemons, 1)
		assert.Equal(t, "folders", body.Daemons[0].ID)
		assert.Equal(t, StateCreated, body.Daemons[0].State)
	})

	t.Run("get by id", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/daemons/folders")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var info DaemonInfo
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
		assert.Equal(t, "folders", info.ID)
	})

	t.Run("unknown id is 404", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/daemons/nope")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("unregister", func(t *testing.T) {
		s.UnregisterDaemon("folders")

		resp, err := http.Get(srv.URL + "/api/v1/daemons/folders")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

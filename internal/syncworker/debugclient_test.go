package syncworker

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpcomdev/edgevisiond/internal/servicelog"
)

func TestNewDebugClientDelegatesRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	log := servicelog.New(nil, "/dev/null", true)
	client := NewDebugClient(http.DefaultClient, log)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewDebugClientPreservesTimeout(t *testing.T) {
	base := &http.Client{Timeout: 7}
	log := servicelog.New(nil, "/dev/null", false)
	client := NewDebugClient(base, log)
	assert.Equal(t, base.Timeout, client.Timeout)
}

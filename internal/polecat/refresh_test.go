package polecat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPRefresher_ExplicitWindowPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"capacity": 1000, "remaining": 400, "window_start": 1000, "window_end": 2000}`))
	}))
	defer srv.Close()

	refresher := NewHTTPRefresher(srv.URL, "", time.Hour)
	capacity, remaining, start, end, err := refresher.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1000.0, capacity)
	assert.Equal(t, 400.0, remaining)
	assert.Equal(t, time.Unix(1000, 0), start)
	assert.Equal(t, time.Unix(2000, 0), end)
}

func TestHTTPRefresher_SecondsUntilResetDerivesWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"capacity": 1000, "remaining": 250, "seconds_until_reset": 3600}`))
	}))
	defer srv.Close()

	refresher := NewHTTPRefresher(srv.URL, "", 2*time.Hour)
	before := time.Now()
	_, _, start, end, err := refresher.Fetch(context.Background())
	require.NoError(t, err)

	assert.WithinDuration(t, before.Add(time.Hour), end, 2*time.Second)
	assert.Equal(t, 2*time.Hour, end.Sub(start))
}

func TestHTTPRefresher_ServerErrorReturnsErr(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	refresher := NewHTTPRefresher(srv.URL, "", time.Hour)
	_, _, _, _, err := refresher.Fetch(context.Background())
	assert.Error(t, err)
}

package polecat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/rigs/pkg/models"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	a := NewMockAdapter()

	require.NoError(t, r.Register(models.ProviderClaude, a))

	got, ok := r.Get(models.ProviderClaude)
	assert.True(t, ok)
	assert.Same(t, a, got)
}

func TestRegistry_RegisterTwiceFails(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(models.ProviderClaude, NewMockAdapter()))

	err := r.Register(models.ProviderClaude, NewMockAdapter())
	assert.Error(t, err)
}

func TestRegistry_UpsertReplaces(t *testing.T) {
	r := NewRegistry()
	first := NewMockAdapter()
	second := NewMockAdapter()
	r.Upsert(models.ProviderClaude, first)
	r.Upsert(models.ProviderClaude, second)

	got, ok := r.Get(models.ProviderClaude)
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestMockAdapter_EchoesEstimatedTokens(t *testing.T) {
	bead := models.NewBead("title", "desc", models.TaskImplementation, models.PriorityNormal)
	bead.EstimatedTokens = 42

	res, err := NewMockAdapter().Execute(context.Background(), bead)
	require.NoError(t, err)
	assert.EqualValues(t, 42, res.ActualTokens)
}

func TestMockAdapter_ReturnsConfiguredFailure(t *testing.T) {
	a := NewMockAdapter()
	a.FailNext = &Error{Kind: RateLimited, Message: "429"}

	bead := models.NewBead("t", "d", models.TaskImplementation, models.PriorityNormal)
	_, err := a.Execute(context.Background(), bead)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, RateLimited, perr.Kind)
}

func TestHTTPAdapter_SuccessfulCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := chatResponse{}
		resp.Choices = []struct {
			Message chatMessage `json:"message"`
		}{{Message: chatMessage{Role: "assistant", Content: "hello"}}}
		resp.Usage.TotalTokens = 7
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, "key", "test-model")
	bead := models.NewBead("t", "d", models.TaskImplementation, models.PriorityNormal)

	res, err := a.Execute(context.Background(), bead)
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Output)
	assert.EqualValues(t, 7, res.ActualTokens)
}

func TestHTTPAdapter_RateLimitedClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, "key", "test-model")
	bead := models.NewBead("t", "d", models.TaskImplementation, models.PriorityNormal)

	_, err := a.Execute(context.Background(), bead)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, RateLimited, perr.Kind)
}

func TestHTTPAdapter_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, "key", "test-model")
	bead := models.NewBead("t", "d", models.TaskImplementation, models.PriorityNormal)

	_, err := a.Execute(context.Background(), bead)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, Transient, perr.Kind)
}

func TestHTTPAdapter_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, "key", "test-model")
	bead := models.NewBead("t", "d", models.TaskImplementation, models.PriorityNormal)

	_, err := a.Execute(context.Background(), bead)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, Permanent, perr.Kind)
}

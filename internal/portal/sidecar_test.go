package portal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/marx-cli/internal/resilience"
)

var testCreds = []Credential{
	{Username: "agent1", Password: "pw1", Mailbox: "one@example.com"},
	{Username: "agent2", Password: "pw2", Mailbox: "two@example.com"},
}

func fastLookupRetry() Option {
	return WithLookupRetry(resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestOpen_UsesPartitionCredentials(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sessions", r.URL.Path)
		var req openRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "agent2", req.Username)
		assert.Equal(t, "two@example.com", req.Mailbox)
		writeJSON(w, http.StatusCreated, openResponse{SessionID: "s-2"})
	}))
	defer srv.Close()

	sess, err := NewSidecarClient(srv.URL, testCreds).Open(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "s-2", sess.(*sidecarSession).id)
}

func TestOpen_PartitionOutOfRange(t *testing.T) {
	t.Parallel()

	c := NewSidecarClient("http://unused", testCreds)
	_, err := c.Open(context.Background(), 3)
	require.Error(t, err)
	_, err = c.Open(context.Background(), 0)
	require.Error(t, err)
}

func TestOpen_NoVerificationCodeIsFatal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: codeNoVerification, Message: "no mfa email"})
	}))
	defer srv.Close()

	_, err := NewSidecarClient(srv.URL, testCreds).Open(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoVerificationCode))
	assert.True(t, IsFatal(err))
}

func TestLookup_ReturnsRow(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			writeJSON(w, http.StatusOK, openResponse{SessionID: "abc"})
		case http.MethodGet:
			assert.Equal(t, "/sessions/abc/eligibility", r.URL.Path)
			assert.Equal(t, "1EG4TE5MK73", r.URL.Query().Get("mbi"))
			writeJSON(w, http.StatusOK, lookupResponse{Row: []string{"H1234", "1.0", "Gold Plan", "01/01/2024"}})
		case http.MethodDelete:
			assert.Equal(t, "/sessions/abc", r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	sess, err := NewSidecarClient(srv.URL, testCreds).Open(context.Background(), 1)
	require.NoError(t, err)

	row, err := sess.Lookup(context.Background(), "1EG4TE5MK73")
	require.NoError(t, err)
	assert.Equal(t, Row{"H1234", "1.0", "Gold Plan", "01/01/2024"}, row)
	assert.NoError(t, sess.Close(context.Background()))
}

func TestLookup_ClassifiedErrorsNotRetried(t *testing.T) {
	t.Parallel()

	cases := map[string]error{
		codeInvalidMBI: ErrInvalidMBI,
		codeNotFound:   ErrBeneficiaryNotFound,
	}
	for code, want := range cases {
		t.Run(code, func(t *testing.T) {
			var lookups atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodPost {
					writeJSON(w, http.StatusOK, openResponse{SessionID: "abc"})
					return
				}
				lookups.Add(1)
				writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: code})
			}))
			defer srv.Close()

			sess, err := NewSidecarClient(srv.URL, testCreds, fastLookupRetry()).Open(context.Background(), 1)
			require.NoError(t, err)

			_, err = sess.Lookup(context.Background(), "1EG4TE5MK73")
			assert.True(t, errors.Is(err, want))
			assert.False(t, IsFatal(err))
			assert.Equal(t, int32(1), lookups.Load())
		})
	}
}

func TestLookup_TimeoutRetriedThenExhausted(t *testing.T) {
	t.Parallel()

	var lookups atomic.Int32
	var retries atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			writeJSON(w, http.StatusOK, openResponse{SessionID: "abc"})
			return
		}
		lookups.Add(1)
		writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: codeTableLoadTimeout, Message: "eligTable7"})
	}))
	defer srv.Close()

	c := NewSidecarClient(srv.URL, testCreds, fastLookupRetry(), WithOnRetry(func(int, error) { retries.Add(1) }))
	sess, err := c.Open(context.Background(), 1)
	require.NoError(t, err)

	_, err = sess.Lookup(context.Background(), "1EG4TE5MK73")
	require.Error(t, err)
	assert.True(t, errors.Is(err, resilience.ErrRetriesExhausted))
	assert.Equal(t, int32(3), lookups.Load())
	assert.Equal(t, int32(2), retries.Load())
}

func TestLookup_RecoversAfterTimeout(t *testing.T) {
	t.Parallel()

	var lookups atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			writeJSON(w, http.StatusOK, openResponse{SessionID: "abc"})
			return
		}
		if lookups.Add(1) == 1 {
			writeJSON(w, http.StatusServiceUnavailable, nil)
			return
		}
		writeJSON(w, http.StatusOK, lookupResponse{Row: []string{"The beneficiary is not currently enrolled in any plan"}})
	}))
	defer srv.Close()

	sess, err := NewSidecarClient(srv.URL, testCreds, fastLookupRetry()).Open(context.Background(), 1)
	require.NoError(t, err)

	row, err := sess.Lookup(context.Background(), "1EG4TE5MK73")
	require.NoError(t, err)
	assert.Len(t, row, 1)
}

func TestClassify_UnknownStatus(t *testing.T) {
	err := classify(http.StatusForbidden, []byte("nope"))
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "403")
}

package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "waflow/internal/errors"
	"waflow/pkg/whatsapp/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAuth = types.SendAuth{
	AccessToken:   "EAAB-test-token",
	PhoneNumberID: "15550001111",
}

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, server.Client()), server
}

func writeProviderError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{
		Error: types.APIError{Message: message, Type: "OAuthException", Code: code},
	})
}

func TestSendMessage_Success(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v19.0/15550001111/messages", r.URL.Path)
		assert.Equal(t, "Bearer EAAB-test-token", r.Header.Get("Authorization"))

		var req types.SendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "whatsapp", req.MessagingProduct)
		assert.Equal(t, "15550002222", req.To)
		require.NotNil(t, req.Text)
		assert.Equal(t, "hello there", req.Text.Body)

		_ = json.NewEncoder(w).Encode(types.SendResponse{
			Messages: []types.ResponseMessage{{ID: "wamid.test-1"}},
		})
	})

	resp, err := client.SendMessage(context.Background(), testAuth, NewTextRequest("15550002222", "hello there"))
	require.NoError(t, err)
	assert.Equal(t, "wamid.test-1", resp.MessageID())
}

func TestSendMessage_AuthRejection(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeProviderError(w, status, 190, "Error validating access token")
		})

		_, err := client.SendMessage(context.Background(), testAuth, NewTextRequest("15550002222", "hi"))
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeProviderAuthInvalid, apperrors.GetCode(err))
		assert.False(t, apperrors.IsRetryable(err))
	}
}

func TestSendMessage_RateLimited(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		writeProviderError(w, http.StatusTooManyRequests, 4, "Application request limit reached")
	})

	_, err := client.SendMessage(context.Background(), testAuth, NewTextRequest("15550002222", "hi"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeProviderRateLimited, apperrors.GetCode(err))
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, 7*time.Second, apperrors.RetryAfterOf(err))
}

func TestSendMessage_RateLimitedByCode(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeProviderError(w, http.StatusBadRequest, types.ErrCodeRateLimited, "Rate limit hit")
	})

	_, err := client.SendMessage(context.Background(), testAuth, NewTextRequest("15550002222", "hi"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeProviderRateLimited, apperrors.GetCode(err))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestSendMessage_PermanentRejections(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		expected apperrors.ErrorCode
	}{
		{"bad parameter", types.ErrCodeBadParameter, apperrors.ErrCodeProviderBadParameter},
		{"undeliverable", types.ErrCodeUndeliverable, apperrors.ErrCodeProviderUndeliverable},
		{"reengagement window", types.ErrCodeReengagementReq, apperrors.ErrCodeProviderUndeliverable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				writeProviderError(w, http.StatusBadRequest, tt.code, "rejected")
			})

			_, err := client.SendMessage(context.Background(), testAuth, NewTextRequest("15550002222", "hi"))
			require.Error(t, err)
			assert.Equal(t, tt.expected, apperrors.GetCode(err))
			assert.False(t, apperrors.IsRetryable(err))
			assert.True(t, apperrors.IsPermanentRejection(err))
		})
	}
}

func TestSendMessage_ServerErrorIsRetryable(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	})

	_, err := client.SendMessage(context.Background(), testAuth, NewTextRequest("15550002222", "hi"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeTransientInfra, apperrors.GetCode(err))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestSendMessage_TransportErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()
	client := NewClient(server.URL, &http.Client{Timeout: time.Second})

	_, err := client.SendMessage(context.Background(), testAuth, NewTextRequest("15550002222", "hi"))
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestSendMessage_MissingCredentials(t *testing.T) {
	client := NewClient("http://localhost:0", nil)

	_, err := client.SendMessage(context.Background(), types.SendAuth{PhoneNumberID: "1"}, NewTextRequest("x", "y"))
	assert.Equal(t, apperrors.ErrCodeProviderAuthInvalid, apperrors.GetCode(err))

	_, err = client.SendMessage(context.Background(), types.SendAuth{AccessToken: "t"}, NewTextRequest("x", "y"))
	assert.Equal(t, apperrors.ErrCodeProviderBadParameter, apperrors.GetCode(err))
}

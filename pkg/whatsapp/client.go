package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "waflow/internal/errors"
	"waflow/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// Client talks to the provider graph API. One instance serves all tenants;
// credentials arrive per call.
type Client struct {
	baseURL    string
	apiVersion string
	client     *http.Client
	logger     *logrus.Logger
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	return NewClientWithLogger(baseURL, httpClient, nil)
}

func NewClientWithLogger(baseURL string, httpClient *http.Client, logger *logrus.Logger) *Client {
	if baseURL == "" {
		baseURL = types.DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	baseURL = strings.TrimSuffix(baseURL, "/")

	return &Client{
		baseURL:    baseURL,
		apiVersion: types.DefaultAPIVersion,
		client:     httpClient,
		logger:     logger,
	}
}

// SendMessage posts one message to the provider send endpoint. Transport
// failures and 5xx responses come back retryable; provider rejections are
// classified by status and error code.
func (c *Client) SendMessage(ctx context.Context, auth types.SendAuth, req *types.SendRequest) (*types.SendResponse, error) {
	if auth.AccessToken == "" {
		return nil, apperrors.NewAuthInvalidError("empty access token")
	}
	if auth.PhoneNumberID == "" {
		return nil, apperrors.NewBadParameterError("empty phone number id")
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s%s", c.baseURL, c.apiVersion, auth.PhoneNumberID, types.EndpointMessages)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+auth.AccessToken)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewInfraError("provider", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.classifyError(resp)
	}

	var result types.SendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"message_type": req.Type,
		"message_id":   result.MessageID(),
	}).Debug("Provider accepted message")

	return &result, nil
}

// classifyError turns a non-2xx provider answer into a taxonomy error.
// Status decides the broad class, the provider error code refines it.
func (c *Client) classifyError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var envelope types.ErrorResponse
	apiErr := &envelope.Error
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		apiErr = &types.APIError{Message: strings.TrimSpace(string(bodyBytes))}
	}

	detail := apiErr.Detail()
	if detail == "" {
		detail = fmt.Sprintf("provider returned status %d", resp.StatusCode)
	}

	c.logger.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"error_code":  apiErr.Code,
		"error_type":  apiErr.Type,
		"trace_id":    apiErr.TraceID,
	}).Warn("Provider rejected message")

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperrors.NewAuthInvalidError(detail)
	case resp.StatusCode == http.StatusTooManyRequests || apiErr.Code == types.ErrCodeRateLimited:
		return apperrors.NewRateLimitedError(retryAfterHint(resp))
	case apiErr.Code == types.ErrCodeBadParameter:
		return apperrors.NewBadParameterError(detail)
	case apiErr.Code == types.ErrCodeUndeliverable || apiErr.Code == types.ErrCodeReengagementReq:
		return apperrors.NewUndeliverableError(detail)
	case resp.StatusCode >= 500:
		return apperrors.NewInfraError("provider", fmt.Errorf("status %d: %s", resp.StatusCode, detail))
	default:
		return apperrors.NewBadParameterError(detail)
	}
}

// retryAfterHint reads the Retry-After header, zero when absent or
// unparseable. The rate limiter turns zero into its own backoff.
func retryAfterHint(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

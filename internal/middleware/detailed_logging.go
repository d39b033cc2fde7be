package middleware

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"waflow/internal/httputil"
	"waflow/internal/tracing"

	"github.com/sirupsen/logrus"
)

// DetailedLoggingConfig controls what gets logged by the debug middleware.
type DetailedLoggingConfig struct {
	LogRequestHeaders  bool     `json:"log_request_headers"`
	LogResponseHeaders bool     `json:"log_response_headers"`
	LogRequestBody     bool     `json:"log_request_body"`
	LogResponseBody    bool     `json:"log_response_body"`
	MaxBodySize        int      `json:"max_body_size"`
	SensitiveHeaders   []string `json:"sensitive_headers"`
	SkipEndpoints      []string `json:"skip_endpoints"`
}

// DefaultDetailedLoggingConfig returns sensible defaults. Body logging is off
// because webhook payloads carry phone numbers and message text.
func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		LogRequestHeaders:  true,
		LogResponseHeaders: false,
		LogRequestBody:     false,
		LogResponseBody:    false,
		MaxBodySize:        1024,
		SensitiveHeaders: []string{
			"authorization", "x-hub-signature-256", "x-api-key",
			"cookie", "set-cookie", "x-auth-token",
		},
		SkipEndpoints: []string{
			"/metrics", "/healthz", "/ws",
		},
	}
}

// DetailedLogging provides request/response logging for debugging. Everything
// it emits is at Debug level, so it is inert unless the log level asks for it.
func DetailedLogging(logger *logrus.Logger, config DetailedLoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, skip := range config.SkipEndpoints {
				if strings.HasPrefix(r.URL.Path, skip) {
					next.ServeHTTP(w, r)
					return
				}
			}

			info := tracing.GetRequestInfo(r.Context())

			logRequestDetails(logger, r, info, config)

			var capture *responseCaptureWrapper
			wrapped := w
			if config.LogResponseBody || config.LogResponseHeaders {
				capture = &responseCaptureWrapper{
					ResponseWriter: w,
					body:           bytes.NewBuffer(nil),
					headers:        make(http.Header),
					statusCode:     http.StatusOK,
				}
				wrapped = capture
			}

			next.ServeHTTP(wrapped, r)

			if capture != nil {
				logResponseDetails(logger, capture, info, config)
			}
		})
	}
}

func logRequestDetails(logger *logrus.Logger, r *http.Request, info *tracing.RequestInfo, config DetailedLoggingConfig) {
	fields := logrus.Fields{
		"request_id":     info.RequestID,
		"trace_id":       info.TraceID,
		"method":         r.Method,
		"url":            r.URL.String(),
		"remote_ip":      httputil.GetClientIP(r),
		"content_length": r.ContentLength,
		"protocol":       r.Proto,
	}

	if config.LogRequestHeaders {
		headers := make(map[string]string)
		for name, values := range r.Header {
			if isSensitiveHeader(name, config.SensitiveHeaders) {
				headers[name] = "***MASKED***"
			} else {
				headers[name] = strings.Join(values, ", ")
			}
		}
		fields["request_headers"] = headers
	}

	if config.LogRequestBody && shouldLogBody(r) {
		if r.ContentLength > 0 && r.ContentLength <= int64(config.MaxBodySize) {
			body, err := io.ReadAll(r.Body)
			if err == nil {
				// Restore body for the actual handler
				r.Body = io.NopCloser(bytes.NewReader(body))
				fields["request_body"] = string(body)
			}
		}
	}

	logger.WithFields(fields).Debug("Detailed request logging")
}

func logResponseDetails(logger *logrus.Logger, capture *responseCaptureWrapper, info *tracing.RequestInfo, config DetailedLoggingConfig) {
	fields := logrus.Fields{
		"request_id":    info.RequestID,
		"trace_id":      info.TraceID,
		"status_code":   capture.statusCode,
		"response_size": capture.body.Len(),
	}

	if config.LogResponseHeaders {
		headers := make(map[string]string)
		for name, values := range capture.headers {
			if isSensitiveHeader(name, config.SensitiveHeaders) {
				headers[name] = "***MASKED***"
			} else {
				headers[name] = strings.Join(values, ", ")
			}
		}
		fields["response_headers"] = headers
	}

	if config.LogResponseBody && capture.body.Len() > 0 {
		if capture.body.Len() <= config.MaxBodySize {
			fields["response_body"] = capture.body.String()
		} else {
			fields["response_body"] = fmt.Sprintf("***TRUNCATED*** (size: %d bytes)", capture.body.Len())
		}
	}

	logger.WithFields(fields).Debug("Detailed response logging")
}

// responseCaptureWrapper captures response data for logging.
type responseCaptureWrapper struct {
	http.ResponseWriter
	body       *bytes.Buffer
	headers    http.Header
	statusCode int
}

func (rc *responseCaptureWrapper) Write(data []byte) (int, error) {
	n, err := rc.ResponseWriter.Write(data)
	if err == nil {
		rc.body.Write(data[:n])
	}
	return n, err
}

func (rc *responseCaptureWrapper) WriteHeader(statusCode int) {
	rc.statusCode = statusCode
	// Copy headers before they're sent
	for name, values := range rc.ResponseWriter.Header() {
		rc.headers[name] = values
	}
	rc.ResponseWriter.WriteHeader(statusCode)
}

func (rc *responseCaptureWrapper) Header() http.Header {
	return rc.ResponseWriter.Header()
}

func isSensitiveHeader(headerName string, sensitiveHeaders []string) bool {
	headerLower := strings.ToLower(headerName)
	for _, sensitive := range sensitiveHeaders {
		if strings.ToLower(sensitive) == headerLower {
			return true
		}
	}
	return false
}

// shouldLogBody restricts body logging to text-based content types.
func shouldLogBody(r *http.Request) bool {
	contentType := r.Header.Get("Content-Type")

	textTypes := []string{
		"application/json",
		"application/xml",
		"text/",
		"application/x-www-form-urlencoded",
	}

	for _, textType := range textTypes {
		if strings.Contains(contentType, textType) {
			return true
		}
	}

	return false
}

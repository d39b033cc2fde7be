package errors

import (
	"fmt"
	"time"
)

// Constructors for the error kinds the pipeline reasons about.

// NewInfraError wraps an infrastructure failure (storage, queue, bus) as
// retryable.
func NewInfraError(subsystem string, err error) *AppError {
	return WrapRetryable(err, ErrCodeTransientInfra, fmt.Sprintf("%s unavailable", subsystem)).
		WithContext("subsystem", subsystem)
}

// NewDuplicateEventError marks work already performed; callers treat it as a
// successful no-op.
func NewDuplicateEventError(externalID string) *AppError {
	return New(ErrCodeDuplicateEvent, "event already processed").
		WithContext("external_id", externalID)
}

// NewUnresolvedTenantError reports a routing key no tenant claims.
func NewUnresolvedTenantError(routingKey string) *AppError {
	return New(ErrCodeUnresolvedTenant, "no tenant for routing key").
		WithContext("routing_key", routingKey)
}

// NewRateLimitedError is a retryable rejection carrying the earliest time a
// retry can succeed.
func NewRateLimitedError(retryAfter time.Duration) *AppError {
	return New(ErrCodeProviderRateLimited, "rate limit exceeded").
		WithRetryAfter(retryAfter)
}

// NewAuthInvalidError reports rejected credentials; permanent until the
// credential is replaced.
func NewAuthInvalidError(reason string) *AppError {
	return New(ErrCodeProviderAuthInvalid, "provider rejected credentials").
		WithContext("reason", reason)
}

// NewBadParameterError reports a request the provider will never accept.
func NewBadParameterError(detail string) *AppError {
	return New(ErrCodeProviderBadParameter, "provider rejected request parameters").
		WithContext("detail", detail)
}

// NewUndeliverableError reports a recipient the provider cannot reach.
func NewUndeliverableError(detail string) *AppError {
	return New(ErrCodeProviderUndeliverable, "recipient unreachable").
		WithContext("detail", detail)
}

// NewFlowDefinitionError reports a malformed flow graph; the execution fails
// without retry since the definition will not fix itself.
func NewFlowDefinitionError(flowID, detail string) *AppError {
	return New(ErrCodeFlowDefinition, detail).
		WithContext("flow_id", flowID)
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key)
}

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    MessageStatus
		to      MessageStatus
		allowed bool
	}{
		{"pending to sent", MessageStatusPending, MessageStatusSent, true},
		{"sent to delivered", MessageStatusSent, MessageStatusDelivered, true},
		{"delivered to read", MessageStatusDelivered, MessageStatusRead, true},
		{"pending straight to read", MessageStatusPending, MessageStatusRead, true},
		{"read does not regress to delivered", MessageStatusRead, MessageStatusDelivered, false},
		{"delivered does not regress to sent", MessageStatusDelivered, MessageStatusSent, false},
		{"no self transition", MessageStatusSent, MessageStatusSent, false},
		{"anything can fail", MessageStatusDelivered, MessageStatusFailed, true},
		{"failed is terminal", MessageStatusFailed, MessageStatusSent, false},
		{"failed stays failed", MessageStatusFailed, MessageStatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+1 555 000 1111", "15550001111"},
		{"15550001111", "15550001111"},
		{" +49 (171) 123-4567 ", "491711234567"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePhone(tt.in))
	}
}

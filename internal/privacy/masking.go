package privacy

import (
	"strings"
)

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+1234567890" -> "+******7890"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	// Handle + prefix numbers specially
	if strings.HasPrefix(phone, "+") {
		if len(phone) == 1 { // Just "+"
			return phone
		}
		if len(phone) <= 5 { // "+1234" or shorter
			return "+" + strings.Repeat("*", len(phone)-1)
		}
		return "+" + strings.Repeat("*", len(phone)-5) + phone[len(phone)-4:]
	}

	// For numbers without + prefix
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

// MaskMessageID masks a provider message id while keeping enough for log
// correlation. Example: "wamid.HBgLMTU1NTAwMDExMTE=" -> "wamid.**********MDExMTE="
func MaskMessageID(messageID string) string {
	if messageID == "" {
		return ""
	}

	if rest, ok := strings.CutPrefix(messageID, "wamid."); ok {
		return "wamid." + maskString(rest, 8)
	}

	return maskString(messageID, 8)
}

// MaskRoutingKey masks a tenant routing key (a provider phone number id).
func MaskRoutingKey(key string) string {
	if key == "" {
		return ""
	}
	return maskString(key, 4)
}

// MaskToken fully hides credential material; tokens never reach logs even
// partially.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	return "[redacted]"
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, isString := v.(string)
		if !isString {
			masked[k] = v
			continue
		}
		switch k {
		case "phone", "phone_number", "contact_phone", "from", "to", "recipient":
			masked[k] = MaskPhoneNumber(s)
		case "message_id", "external_id", "provider_message_id":
			masked[k] = MaskMessageID(s)
		case "routing_key", "phone_number_id":
			masked[k] = MaskRoutingKey(s)
		case "access_token", "token", "secret":
			masked[k] = MaskToken(s)
		default:
			masked[k] = v
		}
	}

	return masked
}

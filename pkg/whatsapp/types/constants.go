package types

// Message types accepted by the send endpoint.
const (
	TypeText        = "text"
	TypeImage       = "image"
	TypeVideo       = "video"
	TypeAudio       = "audio"
	TypeDocument    = "document"
	TypeTemplate    = "template"
	TypeInteractive = "interactive"
)

const (
	MessagingProduct        = "whatsapp"
	RecipientTypeIndividual = "individual"

	InteractiveTypeButton = "button"
	ButtonTypeReply       = "reply"
)

// MaxReplyButtons is the provider's cap on reply buttons per interactive
// message.
const MaxReplyButtons = 3

const (
	DefaultBaseURL    = "https://graph.facebook.com"
	DefaultAPIVersion = "v19.0"
	EndpointMessages  = "/messages"
)

// Provider error codes that decide retryability. Everything else falls back
// to the HTTP status class.
const (
	ErrCodeBadParameter    = 100
	ErrCodeRateLimited     = 130429
	ErrCodeUndeliverable   = 131026
	ErrCodeReengagementReq = 131047
)

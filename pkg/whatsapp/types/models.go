package types

// SendAuth carries the per-call credentials for the provider API. waflow is
// multi-tenant, so one client instance serves every tenant and the token
// travels with the request instead of living on the client.
type SendAuth struct {
	AccessToken   string
	PhoneNumberID string
}

// SendRequest is the body of a provider send-message call. Type selects
// which payload pointer is set; the others stay nil and are omitted on the
// wire.
type SendRequest struct {
	MessagingProduct string              `json:"messaging_product"`
	RecipientType    string              `json:"recipient_type,omitempty"`
	To               string              `json:"to"`
	Type             string              `json:"type"`
	Text             *TextPayload        `json:"text,omitempty"`
	Image            *MediaPayload       `json:"image,omitempty"`
	Video            *MediaPayload       `json:"video,omitempty"`
	Audio            *MediaPayload       `json:"audio,omitempty"`
	Document         *MediaPayload       `json:"document,omitempty"`
	Template         *TemplatePayload    `json:"template,omitempty"`
	Interactive      *InteractivePayload `json:"interactive,omitempty"`
}

// TextPayload is the body of a plain text message.
type TextPayload struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

// MediaPayload references media by public link. Caption applies to image,
// video and document; Filename only to document.
type MediaPayload struct {
	Link     string `json:"link"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// TemplatePayload sends a pre-approved template by name and language.
type TemplatePayload struct {
	Name       string              `json:"name"`
	Language   TemplateLanguage    `json:"language"`
	Components []TemplateComponent `json:"components,omitempty"`
}

type TemplateLanguage struct {
	Code string `json:"code"`
}

type TemplateComponent struct {
	Type       string              `json:"type"`
	Parameters []TemplateParameter `json:"parameters,omitempty"`
}

type TemplateParameter struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// InteractivePayload sends a message with up to three reply buttons.
type InteractivePayload struct {
	Type   string            `json:"type"`
	Body   InteractiveBody   `json:"body"`
	Action InteractiveAction `json:"action"`
}

type InteractiveBody struct {
	Text string `json:"text"`
}

type InteractiveAction struct {
	Buttons []InteractiveButton `json:"buttons"`
}

type InteractiveButton struct {
	Type  string      `json:"type"`
	Reply ButtonReply `json:"reply"`
}

// ButtonReply is one reply button. The provider echoes ID back verbatim in
// the button click webhook, which is how flow resumption finds its node.
type ButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// SendResponse is the provider's acknowledgement of an accepted message.
type SendResponse struct {
	MessagingProduct string            `json:"messaging_product,omitempty"`
	Contacts         []ResponseContact `json:"contacts,omitempty"`
	Messages         []ResponseMessage `json:"messages,omitempty"`
}

type ResponseContact struct {
	Input string `json:"input"`
	WaID  string `json:"wa_id"`
}

type ResponseMessage struct {
	ID string `json:"id"`
}

// MessageID returns the provider message id of the accepted message, empty
// when the response carried none.
func (r *SendResponse) MessageID() string {
	if r == nil || len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[0].ID
}

// ErrorResponse is the provider's error envelope on non-2xx answers.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// APIError is the provider-side error detail. Code drives the rejection
// classification; Subcode and Details refine the message for logs.
type APIError struct {
	Message string        `json:"message"`
	Type    string        `json:"type"`
	Code    int           `json:"code"`
	Subcode int           `json:"error_subcode,omitempty"`
	Data    *APIErrorData `json:"error_data,omitempty"`
	TraceID string        `json:"fbtrace_id,omitempty"`
}

type APIErrorData struct {
	Details string `json:"details,omitempty"`
}

// Detail returns the most specific human-readable description available.
func (e *APIError) Detail() string {
	if e.Data != nil && e.Data.Details != "" {
		return e.Data.Details
	}
	return e.Message
}

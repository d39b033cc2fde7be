package whatsapp

import (
	"fmt"

	"waflow/pkg/whatsapp/types"
)

// NewTextRequest builds a plain text send request.
func NewTextRequest(to, body string) *types.SendRequest {
	return &types.SendRequest{
		MessagingProduct: types.MessagingProduct,
		RecipientType:    types.RecipientTypeIndividual,
		To:               to,
		Type:             types.TypeText,
		Text:             &types.TextPayload{Body: body},
	}
}

// NewMediaRequest builds an image, video, audio or document request with
// media referenced by link. Caption is ignored for audio; filename only
// applies to documents.
func NewMediaRequest(to, mediaType, link, caption, filename string) (*types.SendRequest, error) {
	if link == "" {
		return nil, fmt.Errorf("media request needs a link")
	}

	req := &types.SendRequest{
		MessagingProduct: types.MessagingProduct,
		RecipientType:    types.RecipientTypeIndividual,
		To:               to,
		Type:             mediaType,
	}

	switch mediaType {
	case types.TypeImage:
		req.Image = &types.MediaPayload{Link: link, Caption: caption}
	case types.TypeVideo:
		req.Video = &types.MediaPayload{Link: link, Caption: caption}
	case types.TypeAudio:
		req.Audio = &types.MediaPayload{Link: link}
	case types.TypeDocument:
		req.Document = &types.MediaPayload{Link: link, Caption: caption, Filename: filename}
	default:
		return nil, fmt.Errorf("unsupported media type: %s", mediaType)
	}

	return req, nil
}

// NewTemplateRequest builds a template send request. Language defaults to
// "en" when empty; body text values become body component parameters.
func NewTemplateRequest(to, name, language string, bodyParams []string) *types.SendRequest {
	if language == "" {
		language = "en"
	}

	tpl := &types.TemplatePayload{
		Name:     name,
		Language: types.TemplateLanguage{Code: language},
	}

	if len(bodyParams) > 0 {
		params := make([]types.TemplateParameter, 0, len(bodyParams))
		for _, p := range bodyParams {
			params = append(params, types.TemplateParameter{Type: "text", Text: p})
		}
		tpl.Components = []types.TemplateComponent{{Type: "body", Parameters: params}}
	}

	return &types.SendRequest{
		MessagingProduct: types.MessagingProduct,
		RecipientType:    types.RecipientTypeIndividual,
		To:               to,
		Type:             types.TypeTemplate,
		Template:         tpl,
	}
}

// NewButtonsRequest builds an interactive message with reply buttons. The
// provider caps buttons at three and rejects empty sets, so both are errors
// here rather than surprises on the wire.
func NewButtonsRequest(to, body string, buttons []types.ButtonReply) (*types.SendRequest, error) {
	if len(buttons) == 0 {
		return nil, fmt.Errorf("interactive request needs at least one button")
	}
	if len(buttons) > types.MaxReplyButtons {
		return nil, fmt.Errorf("interactive request has %d buttons, provider limit is %d", len(buttons), types.MaxReplyButtons)
	}

	action := types.InteractiveAction{Buttons: make([]types.InteractiveButton, 0, len(buttons))}
	for _, b := range buttons {
		action.Buttons = append(action.Buttons, types.InteractiveButton{
			Type:  types.ButtonTypeReply,
			Reply: b,
		})
	}

	return &types.SendRequest{
		MessagingProduct: types.MessagingProduct,
		RecipientType:    types.RecipientTypeIndividual,
		To:               to,
		Type:             types.TypeInteractive,
		Interactive: &types.InteractivePayload{
			Type:   types.InteractiveTypeButton,
			Body:   types.InteractiveBody{Text: body},
			Action: action,
		},
	}, nil
}

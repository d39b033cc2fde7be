package types

import (
	"context"
)

// WAClient sends messages through the provider API. Implementations classify
// provider rejections into the application error taxonomy so callers can
// decide retry versus abandon without parsing provider payloads themselves.
type WAClient interface {
	SendMessage(ctx context.Context, auth SendAuth, req *SendRequest) (*SendResponse, error)
}

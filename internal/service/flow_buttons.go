package service

import (
	"fmt"
	"strings"
)

// Reply button ids carry flow coordinates through the provider round trip:
// the id is set on the outbound interactive message and echoed back verbatim
// in the contact's button reply, so an inbound reply can be routed straight
// to the node that asked the question.
//
// Format: flow-{flowID}-node-{nodeID}-btn-{buttonID}. Flow ids are UUIDs and
// never contain the "-node-" marker; node ids picked in the builder may, so
// the decoder splits on the first "-node-" and the last "-btn-".
const (
	buttonIDPrefix     = "flow-"
	buttonIDNodeMarker = "-node-"
	buttonIDBtnMarker  = "-btn-"
)

// ButtonRef is a decoded reply button id.
type ButtonRef struct {
	FlowID   string
	NodeID   string
	ButtonID string
}

// EncodeButtonID packs flow, node and button ids into a reply button id.
func EncodeButtonID(flowID, nodeID, buttonID string) string {
	return fmt.Sprintf("%s%s%s%s%s%s", buttonIDPrefix, flowID, buttonIDNodeMarker, nodeID, buttonIDBtnMarker, buttonID)
}

// DecodeButtonID parses a provider button reply id. The second return is
// false for ids not produced by EncodeButtonID; callers treat those replies
// as ordinary inbound text.
func DecodeButtonID(id string) (ButtonRef, bool) {
	if !strings.HasPrefix(id, buttonIDPrefix) {
		return ButtonRef{}, false
	}
	rest := strings.TrimPrefix(id, buttonIDPrefix)

	nodeAt := strings.Index(rest, buttonIDNodeMarker)
	if nodeAt <= 0 {
		return ButtonRef{}, false
	}
	ref := ButtonRef{FlowID: rest[:nodeAt]}
	rest = rest[nodeAt+len(buttonIDNodeMarker):]

	btnAt := strings.LastIndex(rest, buttonIDBtnMarker)
	if btnAt <= 0 {
		return ButtonRef{}, false
	}
	ref.NodeID = rest[:btnAt]
	ref.ButtonID = rest[btnAt+len(buttonIDBtnMarker):]
	if ref.ButtonID == "" {
		return ButtonRef{}, false
	}
	return ref, true
}

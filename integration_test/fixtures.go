package integration_test

import (
	"fmt"

	"waflow/internal/models"
)

// Webhook payload builders. These echo the provider's delivery format; the
// routing key in metadata is what maps a value to a tenant.

func inboundTextPayload(routingKey, from, wamid, text string) []byte {
	return []byte(fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "entry-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"metadata": {"display_phone_number": "15550001111", "routing_key": %q},
					"contacts": [{"wa_id": %q, "profile": {"name": "Ada"}}],
					"messages": [{"from": %q, "id": %q, "timestamp": "1700000000", "type": "text", "text": {"body": %q}}]
				}
			}]
		}]
	}`, routingKey, from, from, wamid, text))
}

func buttonReplyPayload(routingKey, from, wamid, buttonID, title string) []byte {
	return []byte(fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "entry-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"metadata": {"display_phone_number": "15550001111", "routing_key": %q},
					"contacts": [{"wa_id": %q, "profile": {"name": "Ada"}}],
					"messages": [{
						"from": %q, "id": %q, "timestamp": "1700000100", "type": "interactive",
						"interactive": {"type": "button_reply", "button_reply": {"id": %q, "title": %q}}
					}]
				}
			}]
		}]
	}`, routingKey, from, from, wamid, buttonID, title))
}

func statusUpdatePayload(routingKey, wamid, status string) []byte {
	return []byte(fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "entry-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"metadata": {"display_phone_number": "15550001111", "routing_key": %q},
					"statuses": [{"id": %q, "status": %q, "timestamp": "1700000200", "recipient_id": "15557654321"}]
				}
			}]
		}]
	}`, routingKey, wamid, status))
}

// Flow definition builders.

func singleMessageFlow(text string) *models.FlowDefinition {
	return &models.FlowDefinition{
		Nodes: []models.FlowNode{
			{ID: "start-1", Type: models.NodeTypeStart},
			{ID: "msg-1", Type: models.NodeTypeMessage, Data: models.FlowNodeData{Text: text}},
		},
		Edges: []models.FlowEdge{
			{ID: "e1", Source: "start-1", Target: "msg-1"},
		},
	}
}

// fanOutFlow: start -> A, then A -> C and A -> D in one step.
func fanOutFlow() *models.FlowDefinition {
	return &models.FlowDefinition{
		Nodes: []models.FlowNode{
			{ID: "start-1", Type: models.NodeTypeStart},
			{ID: "node-a", Type: models.NodeTypeMessage, Data: models.FlowNodeData{Text: "message A"}},
			{ID: "node-c", Type: models.NodeTypeMessage, Data: models.FlowNodeData{Text: "message C"}},
			{ID: "node-d", Type: models.NodeTypeMessage, Data: models.FlowNodeData{Text: "message D"}},
		},
		Edges: []models.FlowEdge{
			{ID: "e1", Source: "start-1", Target: "node-a"},
			{ID: "e2", Source: "node-a", Target: "node-c"},
			{ID: "e3", Source: "node-a", Target: "node-d"},
		},
	}
}

// conditionFlow branches on the triggering message text.
func conditionFlow(contains string) *models.FlowDefinition {
	return &models.FlowDefinition{
		Nodes: []models.FlowNode{
			{ID: "start-1", Type: models.NodeTypeStart},
			{ID: "cond-1", Type: models.NodeTypeCondition, Data: models.FlowNodeData{
				Field:    models.StateKeyMessage,
				Operator: models.OperatorContains,
				Value:    contains,
			}},
			{ID: "node-c", Type: models.NodeTypeMessage, Data: models.FlowNodeData{Text: "matched branch"}},
			{ID: "node-d", Type: models.NodeTypeMessage, Data: models.FlowNodeData{Text: "fallback branch"}},
		},
		Edges: []models.FlowEdge{
			{ID: "e1", Source: "start-1", Target: "cond-1"},
			{ID: "e2", Source: "cond-1", Target: "node-c", SourceHandle: models.EdgeHandleTrue},
			{ID: "e3", Source: "cond-1", Target: "node-d", SourceHandle: models.EdgeHandleFalse},
		},
	}
}

func delayFlow(seconds int) *models.FlowDefinition {
	return &models.FlowDefinition{
		Nodes: []models.FlowNode{
			{ID: "start-1", Type: models.NodeTypeStart},
			{ID: "msg-1", Type: models.NodeTypeMessage, Data: models.FlowNodeData{Text: "before the delay"}},
			{ID: "delay-1", Type: models.NodeTypeDelay, Data: models.FlowNodeData{DelaySeconds: seconds}},
			{ID: "msg-2", Type: models.NodeTypeMessage, Data: models.FlowNodeData{Text: "after the delay"}},
		},
		Edges: []models.FlowEdge{
			{ID: "e1", Source: "start-1", Target: "msg-1"},
			{ID: "e2", Source: "msg-1", Target: "delay-1"},
			{ID: "e3", Source: "delay-1", Target: "msg-2"},
		},
	}
}

// buttonsFlow greets with two reply buttons; each button resumes the flow
// through a condition on lastButtonClick, so the first pass sends only the
// greeting.
func buttonsFlow() *models.FlowDefinition {
	return &models.FlowDefinition{
		Nodes: []models.FlowNode{
			{ID: "start-1", Type: models.NodeTypeStart},
			{ID: "welcome-1", Type: models.NodeTypeMessage, Data: models.FlowNodeData{
				Text: "pick one",
				Buttons: []models.FlowButton{
					{ID: "btn-a", Title: "Option A"},
					{ID: "btn-b", Title: "Option B"},
				},
			}},
			{ID: "check-a", Type: models.NodeTypeCondition, Data: models.FlowNodeData{
				Field:    models.StateKeyLastButtonClick,
				Operator: models.OperatorEquals,
				Value:    "btn-a",
			}},
			{ID: "check-b", Type: models.NodeTypeCondition, Data: models.FlowNodeData{
				Field:    models.StateKeyLastButtonClick,
				Operator: models.OperatorEquals,
				Value:    "btn-b",
			}},
			{ID: "reply-a", Type: models.NodeTypeMessage, Data: models.FlowNodeData{Text: "you picked A"}},
			{ID: "reply-b", Type: models.NodeTypeMessage, Data: models.FlowNodeData{Text: "you picked B"}},
		},
		Edges: []models.FlowEdge{
			{ID: "e1", Source: "start-1", Target: "welcome-1"},
			{ID: "e2", Source: "welcome-1", Target: "check-a"},
			{ID: "e3", Source: "welcome-1", Target: "check-b"},
			{ID: "e4", Source: "check-a", Target: "reply-a", SourceHandle: models.EdgeHandleTrue},
			{ID: "e5", Source: "check-b", Target: "reply-b", SourceHandle: models.EdgeHandleTrue},
		},
	}
}

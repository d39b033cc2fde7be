package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlow_Keywords(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected []string
	}{
		{
			name:     "comma separated with whitespace",
			raw:      "help, Support ,PRICING",
			expected: []string{"help", "support", "pricing"},
		},
		{
			name:     "single keyword",
			raw:      "hello",
			expected: []string{"hello"},
		},
		{
			name:     "empty entries dropped",
			raw:      "a,,b, ,c",
			expected: []string{"a", "b", "c"},
		},
		{
			name:     "empty list",
			raw:      "   ",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &Flow{TriggerKeywords: tt.raw}
			assert.Equal(t, tt.expected, f.Keywords())
		})
	}
}

func validDefinition() json.RawMessage {
	return json.RawMessage(`{
		"nodes": [
			{"id": "n1", "type": "start"},
			{"id": "n2", "type": "message", "data": {"text": "Hi {{contactName}}!", "buttons": [{"id": "yes", "title": "Yes"}, {"id": "no", "title": "No"}]}},
			{"id": "n3", "type": "condition", "data": {"field": "lastButtonClick", "operator": "equals", "value": "yes"}},
			{"id": "n4", "type": "delay", "data": {"delay_seconds": 30}},
			{"id": "n5", "type": "action", "data": {"action": "tag_contact"}}
		],
		"edges": [
			{"id": "e1", "source": "n1", "target": "n2"},
			{"id": "e2", "source": "n2", "target": "n3"},
			{"id": "e3", "source": "n3", "target": "n4", "sourceHandle": "true"},
			{"id": "e4", "source": "n3", "target": "n5", "sourceHandle": "false"}
		]
	}`)
}

func TestParseFlowDefinition_Valid(t *testing.T) {
	def, err := ParseFlowDefinition(validDefinition())
	require.NoError(t, err)

	require.NotNil(t, def.StartNode())
	assert.Equal(t, "n1", def.StartNode().ID)

	msg := def.NodeByID("n2")
	require.NotNil(t, msg)
	assert.Equal(t, NodeTypeMessage, msg.Type)
	assert.Equal(t, "Hi {{contactName}}!", msg.Data.Text)
	require.Len(t, msg.Data.Buttons, 2)
	assert.Equal(t, "yes", msg.Data.Buttons[0].ID)

	cond := def.NodeByID("n3")
	require.NotNil(t, cond)
	assert.Equal(t, OperatorEquals, cond.Data.Operator)

	edges := def.EdgesFrom("n3")
	require.Len(t, edges, 2)
	assert.Equal(t, EdgeHandleTrue, edges[0].SourceHandle)
	assert.Equal(t, EdgeHandleFalse, edges[1].SourceHandle)
}

func TestParseFlowDefinition_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "not json",
			raw:  `{nodes:}`,
			want: "invalid definition document",
		},
		{
			name: "no nodes",
			raw:  `{"nodes": [], "edges": []}`,
			want: "no nodes",
		},
		{
			name: "missing start",
			raw:  `{"nodes": [{"id": "a", "type": "message", "data": {"text": "hi"}}], "edges": []}`,
			want: "exactly one start node",
		},
		{
			name: "two starts",
			raw:  `{"nodes": [{"id": "a", "type": "start"}, {"id": "b", "type": "start"}], "edges": []}`,
			want: "exactly one start node",
		},
		{
			name: "duplicate node id",
			raw:  `{"nodes": [{"id": "a", "type": "start"}, {"id": "a", "type": "action"}], "edges": []}`,
			want: "duplicate node id",
		},
		{
			name: "message without text",
			raw:  `{"nodes": [{"id": "a", "type": "start"}, {"id": "b", "type": "message", "data": {"text": "  "}}], "edges": []}`,
			want: "has no text",
		},
		{
			name: "too many buttons",
			raw: `{"nodes": [{"id": "a", "type": "start"}, {"id": "b", "type": "message", "data": {"text": "x", "buttons": [
				{"id": "1", "title": "1"}, {"id": "2", "title": "2"}, {"id": "3", "title": "3"}, {"id": "4", "title": "4"}
			]}}], "edges": []}`,
			want: "provider limit",
		},
		{
			name: "unknown operator",
			raw:  `{"nodes": [{"id": "a", "type": "start"}, {"id": "b", "type": "condition", "data": {"field": "message", "operator": "matches"}}], "edges": []}`,
			want: "unknown operator",
		},
		{
			name: "condition without field",
			raw:  `{"nodes": [{"id": "a", "type": "start"}, {"id": "b", "type": "condition", "data": {"operator": "equals"}}], "edges": []}`,
			want: "has no field",
		},
		{
			name: "delay out of bounds",
			raw:  `{"nodes": [{"id": "a", "type": "start"}, {"id": "b", "type": "delay", "data": {"delay_seconds": 301}}], "edges": []}`,
			want: "outside",
		},
		{
			name: "delay missing duration",
			raw:  `{"nodes": [{"id": "a", "type": "start"}, {"id": "b", "type": "delay"}], "edges": []}`,
			want: "outside",
		},
		{
			name: "unknown node type",
			raw:  `{"nodes": [{"id": "a", "type": "start"}, {"id": "b", "type": "webhook"}], "edges": []}`,
			want: "unknown type",
		},
		{
			name: "condition edge without handle",
			raw: `{"nodes": [{"id": "a", "type": "start"}, {"id": "b", "type": "condition", "data": {"field": "message", "operator": "equals", "value": "x"}}],
				"edges": [{"id": "e1", "source": "a", "target": "b"}, {"id": "e2", "source": "b", "target": "a"}]}`,
			want: "handle",
		},
		{
			name: "condition without branch edges",
			raw: `{"nodes": [{"id": "a", "type": "start"}, {"id": "b", "type": "condition", "data": {"field": "message", "operator": "equals", "value": "x"}}],
				"edges": [{"id": "e1", "source": "a", "target": "b"}]}`,
			want: "no branch edges",
		},
		{
			name: "edge to unknown node",
			raw:  `{"nodes": [{"id": "a", "type": "start"}], "edges": [{"id": "e", "source": "a", "target": "ghost"}]}`,
			want: "unknown target",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFlowDefinition(json.RawMessage(tt.raw))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFlowExecution_StateValue(t *testing.T) {
	exec := &FlowExecution{
		State: map[string]string{
			StateKeyMessage:         "i need help",
			StateKeyLastButtonClick: "yes",
		},
	}

	assert.Equal(t, "i need help", exec.StateValue(StateKeyMessage))
	assert.Equal(t, "yes", exec.StateValue(StateKeyLastButtonClick))
	assert.Equal(t, "", exec.StateValue("missing"))

	var empty FlowExecution
	assert.Equal(t, "", empty.StateValue(StateKeyMessage))
}

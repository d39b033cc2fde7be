package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type FlowTriggerType string

const (
	FlowTriggerKeyword         FlowTriggerType = "KEYWORD"
	FlowTriggerNewConversation FlowTriggerType = "NEW_CONVERSATION"
	FlowTriggerButtonClick     FlowTriggerType = "BUTTON_CLICK"
)

// Flow is an automation graph a tenant draws in the builder. The definition
// is stored as the builder's JSON document and parsed on execution.
type Flow struct {
	ID              string          `json:"id" db:"id"`
	TenantID        string          `json:"tenant_id" db:"tenant_id"`
	Name            string          `json:"name" db:"name"`
	TriggerType     FlowTriggerType `json:"trigger_type" db:"trigger_type"`
	TriggerKeywords string          `json:"trigger_keywords" db:"trigger_keywords"`
	Definition      json.RawMessage `json:"definition" db:"definition"`
	IsActive        bool            `json:"is_active" db:"is_active"`
	RunsCount       int64           `json:"runs_count" db:"runs_count"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// Keywords splits the comma-separated trigger keyword list, trimmed and
// lowercased, empties dropped.
func (f *Flow) Keywords() []string {
	if strings.TrimSpace(f.TriggerKeywords) == "" {
		return nil
	}
	parts := strings.Split(f.TriggerKeywords, ",")
	keywords := make([]string, 0, len(parts))
	for _, p := range parts {
		k := strings.ToLower(strings.TrimSpace(p))
		if k != "" {
			keywords = append(keywords, k)
		}
	}
	return keywords
}

type FlowNodeType string

const (
	NodeTypeStart     FlowNodeType = "start"
	NodeTypeMessage   FlowNodeType = "message"
	NodeTypeCondition FlowNodeType = "condition"
	NodeTypeDelay     FlowNodeType = "delay"
	NodeTypeAction    FlowNodeType = "action"
)

type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorContains    ConditionOperator = "contains"
	OperatorStartsWith  ConditionOperator = "starts_with"
	OperatorEndsWith    ConditionOperator = "ends_with"
	OperatorGreaterThan ConditionOperator = "greater_than"
	OperatorLessThan    ConditionOperator = "less_than"
)

// FlowNode is one vertex of the graph. Data carries the fields of the node's
// type; the builder emits a single JSON object so the union is flattened here
// and checked per type by Validate.
type FlowNode struct {
	ID   string       `json:"id"`
	Type FlowNodeType `json:"type"`
	Data FlowNodeData `json:"data"`
}

type FlowNodeData struct {
	Label string `json:"label,omitempty"`

	// message
	Text    string       `json:"text,omitempty"`
	Buttons []FlowButton `json:"buttons,omitempty"`

	// condition
	Field    string            `json:"field,omitempty"`
	Operator ConditionOperator `json:"operator,omitempty"`
	Value    string            `json:"value,omitempty"`

	// delay
	DelaySeconds int `json:"delay_seconds,omitempty"`

	// action
	Action string `json:"action,omitempty"`
}

type FlowButton struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// FlowEdge connects two nodes. SourceHandle distinguishes the branch on
// condition nodes ("true" / "false"); other node types leave it empty.
type FlowEdge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

const (
	EdgeHandleTrue  = "true"
	EdgeHandleFalse = "false"
)

// MaxMessageButtons is the provider's cap on reply buttons per message.
const MaxMessageButtons = 3

const (
	DelayMinSeconds = 1
	DelayMaxSeconds = 300
)

// FlowDefinition is the parsed graph.
type FlowDefinition struct {
	Nodes []FlowNode `json:"nodes"`
	Edges []FlowEdge `json:"edges"`

	nodesByID map[string]*FlowNode
	edgesFrom map[string][]FlowEdge
}

// ParseFlowDefinition unmarshals and validates a stored definition document.
func ParseFlowDefinition(raw json.RawMessage) (*FlowDefinition, error) {
	var def FlowDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("invalid definition document: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	def.index()
	return &def, nil
}

func (d *FlowDefinition) index() {
	d.nodesByID = make(map[string]*FlowNode, len(d.Nodes))
	for i := range d.Nodes {
		d.nodesByID[d.Nodes[i].ID] = &d.Nodes[i]
	}
	d.edgesFrom = make(map[string][]FlowEdge)
	for _, e := range d.Edges {
		d.edgesFrom[e.Source] = append(d.edgesFrom[e.Source], e)
	}
}

// Validate checks the structural rules the engine relies on.
func (d *FlowDefinition) Validate() error {
	if len(d.Nodes) == 0 {
		return fmt.Errorf("definition has no nodes")
	}

	seen := make(map[string]bool, len(d.Nodes))
	startCount := 0
	for _, n := range d.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node with empty id")
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		seen[n.ID] = true

		switch n.Type {
		case NodeTypeStart:
			startCount++
		case NodeTypeMessage:
			if strings.TrimSpace(n.Data.Text) == "" {
				return fmt.Errorf("message node %q has no text", n.ID)
			}
			if len(n.Data.Buttons) > MaxMessageButtons {
				return fmt.Errorf("message node %q has %d buttons, provider limit is %d", n.ID, len(n.Data.Buttons), MaxMessageButtons)
			}
			for _, b := range n.Data.Buttons {
				if b.ID == "" || b.Title == "" {
					return fmt.Errorf("message node %q has a button without id or title", n.ID)
				}
			}
		case NodeTypeCondition:
			if n.Data.Field == "" {
				return fmt.Errorf("condition node %q has no field", n.ID)
			}
			switch n.Data.Operator {
			case OperatorEquals, OperatorContains, OperatorStartsWith, OperatorEndsWith, OperatorGreaterThan, OperatorLessThan:
			default:
				return fmt.Errorf("condition node %q has unknown operator %q", n.ID, n.Data.Operator)
			}
		case NodeTypeDelay:
			if n.Data.DelaySeconds < DelayMinSeconds || n.Data.DelaySeconds > DelayMaxSeconds {
				return fmt.Errorf("delay node %q duration %ds outside [%d, %d]", n.ID, n.Data.DelaySeconds, DelayMinSeconds, DelayMaxSeconds)
			}
		case NodeTypeAction:
		default:
			return fmt.Errorf("node %q has unknown type %q", n.ID, n.Type)
		}
	}
	if startCount != 1 {
		return fmt.Errorf("definition needs exactly one start node, found %d", startCount)
	}

	conditions := make(map[string]bool)
	for _, n := range d.Nodes {
		if n.Type == NodeTypeCondition {
			conditions[n.ID] = false
		}
	}
	for _, e := range d.Edges {
		if !seen[e.Source] {
			return fmt.Errorf("edge %q references unknown source %q", e.ID, e.Source)
		}
		if !seen[e.Target] {
			return fmt.Errorf("edge %q references unknown target %q", e.ID, e.Target)
		}
		if _, isCondition := conditions[e.Source]; isCondition {
			if e.SourceHandle != EdgeHandleTrue && e.SourceHandle != EdgeHandleFalse {
				return fmt.Errorf("edge %q from condition %q needs a %q or %q handle", e.ID, e.Source, EdgeHandleTrue, EdgeHandleFalse)
			}
			conditions[e.Source] = true
		}
	}
	for id, handled := range conditions {
		if !handled {
			return fmt.Errorf("condition node %q has no branch edges", id)
		}
	}
	return nil
}

// NodeByID returns the node or nil.
func (d *FlowDefinition) NodeByID(id string) *FlowNode {
	if d.nodesByID == nil {
		d.index()
	}
	return d.nodesByID[id]
}

// EdgesFrom returns the outgoing edges of a node, definition order.
func (d *FlowDefinition) EdgesFrom(nodeID string) []FlowEdge {
	if d.edgesFrom == nil {
		d.index()
	}
	return d.edgesFrom[nodeID]
}

// StartNode returns the unique entry node.
func (d *FlowDefinition) StartNode() *FlowNode {
	for i := range d.Nodes {
		if d.Nodes[i].Type == NodeTypeStart {
			return &d.Nodes[i]
		}
	}
	return nil
}

type FlowExecutionStatus string

const (
	FlowExecutionStatusPending   FlowExecutionStatus = "PENDING"
	FlowExecutionStatusRunning   FlowExecutionStatus = "RUNNING"
	FlowExecutionStatusCompleted FlowExecutionStatus = "COMPLETED"
	FlowExecutionStatusFailed    FlowExecutionStatus = "FAILED"
)

// Well-known execution state keys. Conditions may reference any key; these
// are the ones the pipeline itself writes.
const (
	StateKeyMessage         = "message"
	StateKeyPhone           = "phone"
	StateKeyContactName     = "contactName"
	StateKeyLastButtonClick = "lastButtonClick"
	StateKeyLastAction      = "lastAction"
)

// FlowExecution is one run of a flow for one contact, created as an outbox
// row and claimed by the engine poller. CurrentNodeID set means the run is a
// resume: traversal continues along that node's outgoing edges instead of
// starting at the entry node.
type FlowExecution struct {
	ID            string              `json:"id" db:"id"`
	FlowID        string              `json:"flow_id" db:"flow_id"`
	TenantID      string              `json:"tenant_id" db:"tenant_id"`
	ContactPhone  string              `json:"contact_phone" db:"contact_phone"`
	TriggeredBy   FlowTriggerType     `json:"triggered_by" db:"triggered_by"`
	Status        FlowExecutionStatus `json:"status" db:"status"`
	CurrentNodeID *string             `json:"current_node_id,omitempty" db:"current_node_id"`
	State         map[string]string   `json:"state" db:"-"`
	WakeAt        *time.Time          `json:"wake_at,omitempty" db:"wake_at"`
	RetryCount    int                 `json:"retry_count" db:"retry_count"`
	MaxRetries    int                 `json:"max_retries" db:"max_retries"`
	ErrorMessage  *string             `json:"error_message,omitempty" db:"error_message"`
	CreatedAt     time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at" db:"updated_at"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty" db:"completed_at"`
}

// StateValue looks a key up in the execution state, empty when absent.
func (e *FlowExecution) StateValue(key string) string {
	if e.State == nil {
		return ""
	}
	return e.State[key]
}

package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	apperrors "waflow/internal/errors"
	"waflow/internal/events"
	"waflow/internal/metrics"
	"waflow/internal/models"
	"waflow/internal/queue"
	"waflow/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// FlowEngineStore is the database surface the engine needs.
type FlowEngineStore interface {
	GetFlow(ctx context.Context, id string) (*models.Flow, error)
	IncrementFlowRuns(ctx context.Context, flowID string) error
	CreateFlowExecution(ctx context.Context, exec *models.FlowExecution) error
	CompleteFlowExecution(ctx context.Context, id string, status models.FlowExecutionStatus, errorMessage *string) error
	RequeueFlowExecution(ctx context.Context, exec *models.FlowExecution, resumeNodeID *string, errorMessage string) error
	GetConversationByPhone(ctx context.Context, tenantID, contactPhone string) (*models.Conversation, error)
	InsertMessage(ctx context.Context, msg *models.Message) error
}

// FlowEngine walks a claimed execution through its flow graph. Message nodes
// only persist PENDING outbound rows and enqueue dispatch jobs; the engine
// itself never talks to the provider, so a slow send cannot stall traversal.
type FlowEngine struct {
	db     FlowEngineStore
	queue  JobEnqueuer
	bus    events.Publisher
	logger *logrus.Logger
	now    func() time.Time
}

func NewFlowEngine(db FlowEngineStore, q JobEnqueuer, bus events.Publisher, logger *logrus.Logger) *FlowEngine {
	if logger == nil {
		logger = logrus.New()
	}
	return &FlowEngine{
		db:     db,
		queue:  q,
		bus:    bus,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// nodeVisit is one worklist entry. skipEffect marks the resume entry node,
// whose side effect already ran before the execution was parked.
type nodeVisit struct {
	nodeID     string
	skipEffect bool
}

// ExecuteClaimed runs one RUNNING execution to rest: COMPLETED when the
// traversal exhausts, PENDING again on a retryable failure, FAILED once
// retries are spent. The returned error mirrors what was recorded on the row.
func (e *FlowEngine) ExecuteClaimed(ctx context.Context, exec *models.FlowExecution) error {
	ctx, span := tracing.StartSpan(ctx, "execute_flow",
		attribute.String("execution_id", exec.ID),
		attribute.String("flow_id", exec.FlowID),
	)
	defer span.End()

	log := e.logger.WithFields(logrus.Fields{
		"execution_id": exec.ID,
		"flow_id":      exec.FlowID,
		"tenant_id":    exec.TenantID,
	})

	if err := e.run(ctx, exec); err != nil {
		tracing.RecordError(ctx, err)
		attempt := exec.RetryCount + 1
		if requeueErr := e.db.RequeueFlowExecution(ctx, exec, exec.CurrentNodeID, err.Error()); requeueErr != nil {
			log.WithError(requeueErr).Error("Failed to requeue flow execution")
			return requeueErr
		}
		if attempt < exec.MaxRetries {
			metrics.FlowExecutions.WithLabelValues("requeued").Inc()
			log.WithError(err).WithField("attempt", attempt).Warn("Flow execution failed, requeued")
		} else {
			metrics.FlowExecutions.WithLabelValues("failed").Inc()
			log.WithError(err).WithField("attempt", attempt).Error("Flow execution failed permanently")
		}
		return err
	}

	if err := e.db.CompleteFlowExecution(ctx, exec.ID, models.FlowExecutionStatusCompleted, nil); err != nil {
		log.WithError(err).Error("Failed to mark flow execution completed")
		return err
	}
	metrics.FlowExecutions.WithLabelValues("completed").Inc()
	log.Debug("Flow execution completed")
	return nil
}

func (e *FlowEngine) run(ctx context.Context, exec *models.FlowExecution) error {
	flow, err := e.db.GetFlow(ctx, exec.FlowID)
	if err != nil {
		return fmt.Errorf("failed to load flow: %w", err)
	}
	if flow == nil {
		return apperrors.NewFlowDefinitionError(exec.FlowID, "flow no longer exists")
	}

	def, err := models.ParseFlowDefinition(flow.Definition)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeFlowDefinition, "invalid flow definition")
	}

	var worklist []nodeVisit
	if exec.CurrentNodeID != nil {
		resume := def.NodeByID(*exec.CurrentNodeID)
		if resume == nil {
			return apperrors.NewFlowDefinitionError(flow.ID, fmt.Sprintf("resume node %q not in definition", *exec.CurrentNodeID))
		}
		worklist = append(worklist, nodeVisit{nodeID: resume.ID, skipEffect: true})
	} else {
		worklist = append(worklist, nodeVisit{nodeID: def.StartNode().ID})
		// Counted on the first attempt only, so a retried run does not
		// inflate the flow's run counter.
		if exec.RetryCount == 0 {
			if err := e.db.IncrementFlowRuns(ctx, flow.ID); err != nil {
				e.logger.WithField("flow_id", flow.ID).WithError(err).Warn("Failed to increment flow runs")
			}
		}
	}

	visited := make(map[string]bool, len(def.Nodes))
	for len(worklist) > 0 {
		visit := worklist[0]
		worklist = worklist[1:]
		if visited[visit.nodeID] {
			continue
		}
		visited[visit.nodeID] = true

		node := def.NodeByID(visit.nodeID)
		if node == nil {
			return apperrors.NewFlowDefinitionError(flow.ID, fmt.Sprintf("node %q not in definition", visit.nodeID))
		}
		next, err := e.visitNode(ctx, flow, def, exec, node, visit.skipEffect)
		if err != nil {
			return err
		}
		worklist = append(worklist, next...)
	}
	return nil
}

// visitNode applies one node and returns the worklist entries it opens.
// skipEffect keeps the node's side effect from re-running on a resume: a
// resumed message node does not re-send, a woken delay does not re-wait.
func (e *FlowEngine) visitNode(ctx context.Context, flow *models.Flow, def *models.FlowDefinition, exec *models.FlowExecution, node *models.FlowNode, skipEffect bool) ([]nodeVisit, error) {
	metrics.FlowNodeVisits.WithLabelValues(string(node.Type)).Inc()
	switch node.Type {
	case models.NodeTypeStart:
		return allTargets(def, node), nil

	case models.NodeTypeMessage:
		if !skipEffect {
			if err := e.sendFlowMessage(ctx, flow, exec, node); err != nil {
				return nil, err
			}
		}
		return allTargets(def, node), nil

	case models.NodeTypeCondition:
		handle := models.EdgeHandleFalse
		if evalCondition(node, exec) {
			handle = models.EdgeHandleTrue
		}
		var next []nodeVisit
		for _, edge := range def.EdgesFrom(node.ID) {
			if edge.SourceHandle == handle {
				next = append(next, nodeVisit{nodeID: edge.Target})
			}
		}
		e.logger.WithFields(logrus.Fields{
			"execution_id": exec.ID,
			"node_id":      node.ID,
			"branch":       handle,
		}).Debug("Condition evaluated")
		return next, nil

	case models.NodeTypeDelay:
		if skipEffect {
			return allTargets(def, node), nil
		}
		if err := e.scheduleDelay(ctx, exec, node); err != nil {
			return nil, err
		}
		// This branch parks here; the continuation resumes past the delay.
		return nil, nil

	case models.NodeTypeAction:
		if !skipEffect {
			if exec.State == nil {
				exec.State = make(map[string]string)
			}
			exec.State[models.StateKeyLastAction] = node.Data.Action
			e.logger.WithFields(logrus.Fields{
				"execution_id": exec.ID,
				"node_id":      node.ID,
				"action":       node.Data.Action,
			}).Info("Flow action executed")
		}
		return allTargets(def, node), nil
	}

	return nil, apperrors.NewFlowDefinitionError(flow.ID, fmt.Sprintf("node %q has unknown type %q", node.ID, node.Type))
}

func allTargets(def *models.FlowDefinition, node *models.FlowNode) []nodeVisit {
	edges := def.EdgesFrom(node.ID)
	next := make([]nodeVisit, 0, len(edges))
	for _, edge := range edges {
		next = append(next, nodeVisit{nodeID: edge.Target})
	}
	return next
}

// sendFlowMessage persists the rendered outbound message and hands it to the
// dispatcher. Button ids are encoded with the flow coordinates so the reply
// can resume this node.
func (e *FlowEngine) sendFlowMessage(ctx context.Context, flow *models.Flow, exec *models.FlowExecution, node *models.FlowNode) error {
	conv, err := e.db.GetConversationByPhone(ctx, exec.TenantID, exec.ContactPhone)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv == nil {
		return fmt.Errorf("no conversation with contact %s", exec.ContactPhone)
	}

	msg := &models.Message{
		TenantID:       exec.TenantID,
		ConversationID: conv.ID,
		Direction:      models.MessageDirectionOutbound,
		Type:           models.MessageTypeText,
		Status:         models.MessageStatusPending,
		Body:           renderNodeText(node.Data.Text, exec),
	}
	if len(node.Data.Buttons) > 0 {
		msg.Type = models.MessageTypeInteractive
		msg.Buttons = make([]models.MessageButton, 0, len(node.Data.Buttons))
		for _, b := range node.Data.Buttons {
			msg.Buttons = append(msg.Buttons, models.MessageButton{
				ID:    EncodeButtonID(flow.ID, node.ID, b.ID),
				Title: b.Title,
			})
		}
	}

	if err := e.db.InsertMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to persist flow message: %w", err)
	}
	if err := e.queue.Enqueue(ctx, queue.Job{Kind: queue.KindDispatchMessage, ID: msg.ID}); err != nil {
		return fmt.Errorf("failed to enqueue dispatch job: %w", err)
	}
	if e.bus != nil {
		e.bus.Publish(ctx, events.NewEvent(events.TypeMessageNew, exec.TenantID, msg))
	}

	e.logger.WithFields(logrus.Fields{
		"execution_id": exec.ID,
		"node_id":      node.ID,
		"message_id":   msg.ID,
		"phone":        phoneField(ctx, exec.ContactPhone),
	}).Debug("Flow message queued for dispatch")
	return nil
}

// scheduleDelay parks this branch as a fresh PENDING execution that the
// poller will claim once wakeAt passes. The worker never sleeps.
func (e *FlowEngine) scheduleDelay(ctx context.Context, exec *models.FlowExecution, node *models.FlowNode) error {
	seconds := node.Data.DelaySeconds
	if seconds < models.DelayMinSeconds {
		seconds = models.DelayMinSeconds
	}
	if seconds > models.DelayMaxSeconds {
		seconds = models.DelayMaxSeconds
	}
	wakeAt := e.now().Add(time.Duration(seconds) * time.Second)

	nodeID := node.ID
	continuation := &models.FlowExecution{
		FlowID:        exec.FlowID,
		TenantID:      exec.TenantID,
		ContactPhone:  exec.ContactPhone,
		TriggeredBy:   exec.TriggeredBy,
		CurrentNodeID: &nodeID,
		State:         copyState(exec.State),
		WakeAt:        &wakeAt,
	}
	if err := e.db.CreateFlowExecution(ctx, continuation); err != nil {
		return fmt.Errorf("failed to schedule delay continuation: %w", err)
	}

	e.logger.WithFields(logrus.Fields{
		"execution_id":    exec.ID,
		"continuation_id": continuation.ID,
		"node_id":         node.ID,
		"wake_at":         wakeAt.Format(time.RFC3339),
	}).Debug("Delay continuation scheduled")
	return nil
}

func copyState(state map[string]string) map[string]string {
	if len(state) == 0 {
		return nil
	}
	out := make(map[string]string, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}

func evalCondition(node *models.FlowNode, exec *models.FlowExecution) bool {
	left := exec.StateValue(node.Data.Field)
	right := node.Data.Value

	switch node.Data.Operator {
	case models.OperatorEquals:
		return strings.EqualFold(left, right)
	case models.OperatorContains:
		return strings.Contains(strings.ToLower(left), strings.ToLower(right))
	case models.OperatorStartsWith:
		return strings.HasPrefix(strings.ToLower(left), strings.ToLower(right))
	case models.OperatorEndsWith:
		return strings.HasSuffix(strings.ToLower(left), strings.ToLower(right))
	case models.OperatorGreaterThan, models.OperatorLessThan:
		l, errL := strconv.ParseFloat(strings.TrimSpace(left), 64)
		r, errR := strconv.ParseFloat(strings.TrimSpace(right), 64)
		if errL != nil || errR != nil {
			return false
		}
		if node.Data.Operator == models.OperatorGreaterThan {
			return l > r
		}
		return l < r
	}
	return false
}

var nodeTextVarPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// renderNodeText substitutes {{variable}} references from the execution
// state. Unknown variables render empty rather than leaking the placeholder
// to the contact.
func renderNodeText(text string, exec *models.FlowExecution) string {
	return nodeTextVarPattern.ReplaceAllStringFunc(text, func(match string) string {
		key := nodeTextVarPattern.FindStringSubmatch(match)[1]
		return exec.StateValue(key)
	})
}

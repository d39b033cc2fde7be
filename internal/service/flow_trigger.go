package service

import (
	"context"
	"fmt"
	"strings"

	"waflow/internal/models"

	"github.com/sirupsen/logrus"
)

// FlowTriggerStore is the database surface the trigger matcher needs.
type FlowTriggerStore interface {
	GetActiveFlowsByTrigger(ctx context.Context, tenantID string, trigger models.FlowTriggerType) ([]*models.Flow, error)
	GetFlow(ctx context.Context, id string) (*models.Flow, error)
	CreateFlowExecution(ctx context.Context, exec *models.FlowExecution) error
}

// FlowTrigger decides which flows an inbound message starts or resumes. It
// only writes PENDING execution rows; the poller picks them up, so a slow
// flow never holds up event processing.
type FlowTrigger struct {
	db     FlowTriggerStore
	logger *logrus.Logger
}

func NewFlowTrigger(db FlowTriggerStore, logger *logrus.Logger) *FlowTrigger {
	if logger == nil {
		logger = logrus.New()
	}
	return &FlowTrigger{db: db, logger: logger}
}

// MatchKeywordTriggers fires every active KEYWORD flow whose keyword list
// matches the message body. Matching is case-insensitive substring, so the
// keyword "price" fires on "what's your pricing?". Each matching flow gets
// exactly one execution even when several of its keywords match.
func (s *FlowTrigger) MatchKeywordTriggers(ctx context.Context, tenantID, contactPhone, contactName, body string) (int, error) {
	flows, err := s.db.GetActiveFlowsByTrigger(ctx, tenantID, models.FlowTriggerKeyword)
	if err != nil {
		return 0, fmt.Errorf("failed to load keyword flows: %w", err)
	}
	if len(flows) == 0 {
		return 0, nil
	}

	lowered := strings.ToLower(body)
	created := 0
	var firstErr error
	for _, flow := range flows {
		keyword, matched := matchKeyword(flow, lowered)
		if !matched {
			continue
		}
		exec := &models.FlowExecution{
			FlowID:       flow.ID,
			TenantID:     tenantID,
			ContactPhone: contactPhone,
			TriggeredBy:  models.FlowTriggerKeyword,
			State: map[string]string{
				models.StateKeyMessage:     body,
				models.StateKeyPhone:       contactPhone,
				models.StateKeyContactName: contactName,
			},
		}
		if err := s.db.CreateFlowExecution(ctx, exec); err != nil {
			s.logger.WithFields(logrus.Fields{
				"tenant_id": tenantID,
				"flow_id":   flow.ID,
				"keyword":   keyword,
			}).WithError(err).Error("Failed to create keyword flow execution")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		created++
		s.logger.WithFields(logrus.Fields{
			"tenant_id":    tenantID,
			"flow_id":      flow.ID,
			"execution_id": exec.ID,
			"keyword":      keyword,
			"phone":        phoneField(ctx, contactPhone),
		}).Debug("Keyword flow triggered")
	}
	return created, firstErr
}

func matchKeyword(flow *models.Flow, loweredBody string) (string, bool) {
	for _, keyword := range flow.Keywords() {
		if strings.Contains(loweredBody, keyword) {
			return keyword, true
		}
	}
	return "", false
}

// TriggerNewConversation fires every active NEW_CONVERSATION flow. The
// processor calls it only in the pass that created the conversation row.
func (s *FlowTrigger) TriggerNewConversation(ctx context.Context, tenantID, contactPhone, contactName string) (int, error) {
	flows, err := s.db.GetActiveFlowsByTrigger(ctx, tenantID, models.FlowTriggerNewConversation)
	if err != nil {
		return 0, fmt.Errorf("failed to load new-conversation flows: %w", err)
	}

	created := 0
	var firstErr error
	for _, flow := range flows {
		exec := &models.FlowExecution{
			FlowID:       flow.ID,
			TenantID:     tenantID,
			ContactPhone: contactPhone,
			TriggeredBy:  models.FlowTriggerNewConversation,
			State: map[string]string{
				models.StateKeyPhone:       contactPhone,
				models.StateKeyContactName: contactName,
			},
		}
		if err := s.db.CreateFlowExecution(ctx, exec); err != nil {
			s.logger.WithFields(logrus.Fields{
				"tenant_id": tenantID,
				"flow_id":   flow.ID,
			}).WithError(err).Error("Failed to create new-conversation flow execution")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		created++
		s.logger.WithFields(logrus.Fields{
			"tenant_id":    tenantID,
			"flow_id":      flow.ID,
			"execution_id": exec.ID,
			"phone":        phoneField(ctx, contactPhone),
		}).Debug("New-conversation flow triggered")
	}
	return created, firstErr
}

// ResumeFromButton turns a decoded reply button id into a resume execution:
// a new PENDING row whose currentNodeId is the node that sent the buttons, so
// traversal continues along that node's outgoing edges instead of restarting
// at the entry node. Returns false without error when the referenced flow is
// missing, inactive, or belongs to another tenant; forged or stale button ids
// must never start foreign flows.
func (s *FlowTrigger) ResumeFromButton(ctx context.Context, tenantID, contactPhone, contactName, buttonTitle string, ref ButtonRef) (bool, error) {
	flow, err := s.db.GetFlow(ctx, ref.FlowID)
	if err != nil {
		return false, fmt.Errorf("failed to load flow for button resume: %w", err)
	}
	if flow == nil || flow.TenantID != tenantID || !flow.IsActive {
		s.logger.WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"flow_id":   ref.FlowID,
			"node_id":   ref.NodeID,
		}).Warn("Button reply references a flow this tenant cannot resume")
		return false, nil
	}

	nodeID := ref.NodeID
	exec := &models.FlowExecution{
		FlowID:        flow.ID,
		TenantID:      tenantID,
		ContactPhone:  contactPhone,
		TriggeredBy:   models.FlowTriggerButtonClick,
		CurrentNodeID: &nodeID,
		State: map[string]string{
			models.StateKeyMessage:         buttonTitle,
			models.StateKeyPhone:           contactPhone,
			models.StateKeyContactName:     contactName,
			models.StateKeyLastButtonClick: ref.ButtonID,
		},
	}
	if err := s.db.CreateFlowExecution(ctx, exec); err != nil {
		return false, fmt.Errorf("failed to create button resume execution: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id":    tenantID,
		"flow_id":      flow.ID,
		"execution_id": exec.ID,
		"node_id":      ref.NodeID,
		"button_id":    ref.ButtonID,
		"phone":        phoneField(ctx, contactPhone),
	}).Debug("Flow resumed from button reply")
	return true, nil
}

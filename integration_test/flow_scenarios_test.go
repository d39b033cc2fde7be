package integration_test

import (
	"context"
	"testing"
	"time"

	"waflow/internal/models"
	"waflow/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A node with two outgoing edges runs both targets exactly once per trigger.
func TestFanOutExecutesEachBranchOnce(t *testing.T) {
	env := NewTestEnvironment(t)
	ctx := context.Background()

	tenant := env.SeedTenant(testRoutingKey)
	flow := env.SeedKeywordFlow(tenant.ID, "Fanout", "go", fanOutFlow())

	env.Deliver(inboundTextPayload(testRoutingKey, testContactPhone, "wamid.F1", "go"))

	env.WaitFor(func() bool {
		n, err := env.DB.CountFlowExecutions(ctx, flow.ID, models.FlowExecutionStatusCompleted)
		return err == nil && n == 1
	}, "fan-out execution never completed")

	env.WaitFor(func() bool {
		return env.Provider.SendCount() == 3
	}, "fan-out should produce three sends")

	assert.Equal(t, 1, env.Provider.CountBody("message A"))
	assert.Equal(t, 1, env.Provider.CountBody("message C"))
	assert.Equal(t, 1, env.Provider.CountBody("message D"))
}

// A condition routes to exactly one branch, whichever way it evaluates.
func TestConditionRoutesExactlyOneBranch(t *testing.T) {
	env := NewTestEnvironment(t)
	ctx := context.Background()

	tenant := env.SeedTenant(testRoutingKey)
	flow := env.SeedKeywordFlow(tenant.ID, "Router", "hello", conditionFlow("urgent"))

	env.Deliver(inboundTextPayload(testRoutingKey, testContactPhone, "wamid.C1", "hello this is urgent"))
	env.Deliver(inboundTextPayload(testRoutingKey, testContactPhone, "wamid.C2", "hello just browsing"))

	env.WaitFor(func() bool {
		n, err := env.DB.CountFlowExecutions(ctx, flow.ID, models.FlowExecutionStatusCompleted)
		return err == nil && n == 2
	}, "both executions should complete")

	env.WaitFor(func() bool {
		return env.Provider.SendCount() == 2
	}, "each trigger should send exactly one branch message")

	assert.Equal(t, 1, env.Provider.CountBody("matched branch"))
	assert.Equal(t, 1, env.Provider.CountBody("fallback branch"))
}

// A delay node parks the branch as a continuation; the poller wakes it and
// the flow resumes past the delay without re-sending earlier nodes.
func TestDelayContinuationResumes(t *testing.T) {
	env := NewTestEnvironment(t)
	ctx := context.Background()

	tenant := env.SeedTenant(testRoutingKey)
	flow := env.SeedKeywordFlow(tenant.ID, "Drip", "start", delayFlow(1))

	start := time.Now()
	env.Deliver(inboundTextPayload(testRoutingKey, testContactPhone, "wamid.DL", "start"))

	env.WaitFor(func() bool {
		return env.Provider.CountBody("before the delay") == 1
	}, "first message never sent")

	env.WaitFor(func() bool {
		return env.Provider.CountBody("after the delay") == 1
	}, "continuation never woke up")
	assert.GreaterOrEqual(t, time.Since(start), time.Second, "delay fired early")

	// Trigger pass plus continuation pass.
	n, err := env.DB.CountFlowExecutions(ctx, flow.ID, models.FlowExecutionStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, 1, env.Provider.CountBody("before the delay"), "delayed branch must not re-send earlier nodes")
}

// A button reply resumes the flow at the node that sent the buttons, not at
// the start node, and follows only the branch for the pressed button.
func TestButtonReplyResumesFlow(t *testing.T) {
	env := NewTestEnvironment(t)
	ctx := context.Background()

	tenant := env.SeedTenant(testRoutingKey)
	flow := env.SeedKeywordFlow(tenant.ID, "Menu", "menu", buttonsFlow())

	env.Deliver(inboundTextPayload(testRoutingKey, testContactPhone, "wamid.BT1", "menu"))

	env.WaitFor(func() bool {
		return env.Provider.CountBody("pick one") == 1
	}, "greeting never sent")

	// The provider echoes the encoded button id back in the reply webhook.
	encoded := service.EncodeButtonID(flow.ID, "welcome-1", "btn-a")
	env.Deliver(buttonReplyPayload(testRoutingKey, testContactPhone, "wamid.BT2", encoded, "Option A"))

	env.WaitFor(func() bool {
		return env.Provider.CountBody("you picked A") == 1
	}, "button branch never sent")

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, env.Provider.CountBody("pick one"), "resume must not re-send the greeting")
	assert.Zero(t, env.Provider.CountBody("you picked B"), "only the pressed branch may run")

	n, err := env.DB.CountFlowExecutions(ctx, flow.ID, models.FlowExecutionStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	greeting := env.Provider.Requests()[0]
	require.NotNil(t, greeting.Body.Interactive)
	require.Len(t, greeting.Body.Interactive.Action.Buttons, 2)
	assert.Equal(t, encoded, greeting.Body.Interactive.Action.Buttons[0].Reply.ID)
}

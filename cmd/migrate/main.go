package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"

	"waflow/internal/database"
	"waflow/internal/models"
)

// The schema is embedded and idempotent, so "migrate" is mostly "open the
// database once". The -seed flag fills an empty database with a demo tenant
// and a welcome flow for local development.

const demoRoutingKey = "15550001111"

func main() {
	dbPath := flag.String("db", "./waflow.db", "Path to the database file")
	seed := flag.Bool("seed", false, "Seed a demo tenant with a welcome flow")
	flag.Parse()

	db, err := database.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	fmt.Printf("Schema applied to %s\n", *dbPath)

	if !*seed {
		return
	}
	if err := seedDemo(context.Background(), db); err != nil {
		log.Fatalf("Failed to seed demo data: %v", err)
	}
}

func seedDemo(ctx context.Context, db *database.Database) error {
	existing, err := db.GetTenantByRoutingKey(ctx, demoRoutingKey)
	if err != nil {
		return fmt.Errorf("failed to check for demo tenant: %w", err)
	}
	if existing != nil {
		fmt.Println("Demo tenant already present, skipping seed")
		return nil
	}

	tenant := &models.Tenant{
		Name:            "Demo Workspace",
		RoutingKey:      demoRoutingKey,
		RateLimitPerMin: 60,
		BusinessAccount: "demo-business",
		IsActive:        true,
	}
	if err := db.SaveTenant(ctx, tenant); err != nil {
		return fmt.Errorf("failed to create demo tenant: %w", err)
	}

	cred := &models.Credential{
		TenantID:      tenant.ID,
		AccessToken:   "demo-access-token",
		PhoneNumberID: "1000000000001",
		IsValid:       true,
	}
	if err := db.SaveCredential(ctx, cred); err != nil {
		return fmt.Errorf("failed to create demo credential: %w", err)
	}

	raw, err := json.Marshal(demoFlowDefinition())
	if err != nil {
		return fmt.Errorf("failed to encode demo flow: %w", err)
	}
	flow := &models.Flow{
		TenantID:        tenant.ID,
		Name:            "Welcome",
		TriggerType:     models.FlowTriggerKeyword,
		TriggerKeywords: "hi,hello,start",
		Definition:      raw,
		IsActive:        true,
	}
	if err := db.SaveFlow(ctx, flow); err != nil {
		return fmt.Errorf("failed to create demo flow: %w", err)
	}

	fmt.Printf("Seeded demo tenant %s (routing key %s) with flow %q\n", tenant.ID, tenant.RoutingKey, flow.Name)
	fmt.Println("Point a webhook delivery at this routing key and send \"hi\" to trigger it")
	return nil
}

// demoFlowDefinition greets on a keyword, offers two reply buttons, and
// branches on whichever one comes back. The first pass sends only the
// greeting; both conditions stay false until a button reply resumes the
// flow with lastButtonClick set.
func demoFlowDefinition() *models.FlowDefinition {
	return &models.FlowDefinition{
		Nodes: []models.FlowNode{
			{ID: "start-1", Type: models.NodeTypeStart},
			{ID: "welcome-1", Type: models.NodeTypeMessage, Data: models.FlowNodeData{
				Label: "Greeting",
				Text:  "Hi {{contactName}}! Welcome to the demo workspace. What brings you here?",
				Buttons: []models.FlowButton{
					{ID: "btn-sales", Title: "Talk to sales"},
					{ID: "btn-docs", Title: "Read the docs"},
				},
			}},
			{ID: "check-sales", Type: models.NodeTypeCondition, Data: models.FlowNodeData{
				Field:    "lastButtonClick",
				Operator: models.OperatorEquals,
				Value:    "btn-sales",
			}},
			{ID: "check-docs", Type: models.NodeTypeCondition, Data: models.FlowNodeData{
				Field:    "lastButtonClick",
				Operator: models.OperatorEquals,
				Value:    "btn-docs",
			}},
			{ID: "sales-1", Type: models.NodeTypeMessage, Data: models.FlowNodeData{
				Text: "Great, a teammate will reach out shortly.",
			}},
			{ID: "delay-1", Type: models.NodeTypeDelay, Data: models.FlowNodeData{
				DelaySeconds: 60,
			}},
			{ID: "docs-1", Type: models.NodeTypeMessage, Data: models.FlowNodeData{
				Text: "The docs live at https://docs.example.com. Reply here if anything is unclear.",
			}},
		},
		Edges: []models.FlowEdge{
			{ID: "e1", Source: "start-1", Target: "welcome-1"},
			{ID: "e2", Source: "welcome-1", Target: "check-sales"},
			{ID: "e3", Source: "welcome-1", Target: "check-docs"},
			{ID: "e4", Source: "check-sales", Target: "sales-1", SourceHandle: models.EdgeHandleTrue},
			{ID: "e5", Source: "check-docs", Target: "delay-1", SourceHandle: models.EdgeHandleTrue},
			{ID: "e6", Source: "delay-1", Target: "docs-1"},
		},
	}
}

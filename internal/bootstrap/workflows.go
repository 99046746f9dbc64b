package bootstrap

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/models"
	"github.com/LoganSeven/publik-famille-demo-sub009/internal/infrastructure/persistence"
	"github.com/LoganSeven/publik-famille-demo-sub009/pkg/constants"
)

//go:embed default_workflow.yaml
var defaultWorkflowYAML []byte

// InitializeWorkflows loads workflow definitions into the store: the
// built-in default plus every .yaml file under WF_DEFINITIONS_DIR.
// Definitions are upserted, so restarts converge on the files.
func InitializeWorkflows(ctx context.Context, repo *persistence.WorkflowRepository) error {
	log.Println("🔧 Initializing workflow definitions...")

	workflow, err := ParseWorkflow(defaultWorkflowYAML)
	if err != nil {
		return fmt.Errorf("built-in workflow definition: %w", err)
	}
	if err := repo.SaveWorkflow(ctx, workflow); err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", workflow.ID, err)
	}
	log.Printf("   ✅ Workflow %s loaded", workflow.ID)

	dir := os.Getenv("WF_DEFINITIONS_DIR")
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("cannot read definitions dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		workflow, err := LoadWorkflowFile(path)
		if err != nil {
			log.Printf("   ⚠️  Skipping %s: %v", entry.Name(), err)
			continue
		}
		if err := repo.SaveWorkflow(ctx, workflow); err != nil {
			log.Printf("   ⚠️  Failed to save workflow %s: %v", workflow.ID, err)
			continue
		}
		log.Printf("   ✅ Workflow %s loaded from %s", workflow.ID, entry.Name())
	}
	return nil
}

// LoadWorkflowFile parses and validates one definition file.
func LoadWorkflowFile(path string) (*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseWorkflow(data)
}

// ParseWorkflow decodes a YAML definition and validates its graph.
func ParseWorkflow(data []byte) (*models.Workflow, error) {
	workflow := &models.Workflow{}
	if err := yaml.Unmarshal(data, workflow); err != nil {
		return nil, err
	}
	if err := ValidateWorkflow(workflow); err != nil {
		return nil, err
	}
	return workflow, nil
}

// ValidateWorkflow checks definition consistency: ids present and
// unique, jump targets resolvable, trigger kinds known.
func ValidateWorkflow(workflow *models.Workflow) error {
	if workflow.ID == "" {
		return fmt.Errorf("workflow has no id")
	}
	if len(workflow.Statuses) == 0 {
		return fmt.Errorf("workflow %s has no statuses", workflow.ID)
	}
	seen := make(map[string]bool)
	for _, status := range workflow.Statuses {
		if status.ID == "" {
			return fmt.Errorf("workflow %s: status without id", workflow.ID)
		}
		if seen[status.ID] {
			return fmt.Errorf("workflow %s: duplicate status id %q", workflow.ID, status.ID)
		}
		seen[status.ID] = true
	}
	for _, status := range workflow.Statuses {
		if err := validateItems(workflow, status.Items); err != nil {
			return fmt.Errorf("workflow %s, status %s: %w", workflow.ID, status.ID, err)
		}
	}
	for _, action := range workflow.GlobalActions {
		if err := validateItems(workflow, action.Items); err != nil {
			return fmt.Errorf("workflow %s, global action %s: %w", workflow.ID, action.ID, err)
		}
		for _, trigger := range action.Triggers {
			switch trigger.Kind {
			case constants.TriggerKindManual, constants.TriggerKindWebservice:
			case constants.TriggerKindTimeout:
				if trigger.Anchor == "" || trigger.Timeout == "" {
					return fmt.Errorf("workflow %s, global action %s: timeout trigger needs anchor and timeout", workflow.ID, action.ID)
				}
			default:
				return fmt.Errorf("workflow %s, global action %s: unknown trigger kind %q", workflow.ID, action.ID, trigger.Kind)
			}
		}
	}
	return nil
}

func validateItems(workflow *models.Workflow, items []models.Action) error {
	for _, item := range items {
		jump, ok := item.(*models.JumpAction)
		if !ok {
			continue
		}
		if jump.TargetStatusID == constants.TargetPreviousStatus {
			continue
		}
		if !workflow.HasStatus(jump.TargetStatusID) {
			return fmt.Errorf("jump %s targets unknown status %q", jump.ID, jump.TargetStatusID)
		}
		switch jump.Mode {
		case "", constants.JumpModeImmediate:
		case constants.JumpModeTrigger:
			if jump.TriggerID == "" {
				return fmt.Errorf("jump %s: trigger mode needs a trigger id", jump.ID)
			}
		case constants.JumpModeTimeout:
			if jump.Timeout == "" {
				return fmt.Errorf("jump %s: timeout mode needs a timeout", jump.ID)
			}
		default:
			return fmt.Errorf("jump %s: unknown mode %q", jump.ID, jump.Mode)
		}
	}
	return nil
}

package services

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/models"
	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/ports"
	"github.com/LoganSeven/publik-famille-demo-sub009/pkg/constants"
)

// jumpHandler moves the record to another status. The dispatch loop
// detects the status change and continues from the new status.
type jumpHandler struct {
	service *WorkflowService
}

func (h *jumpHandler) Kind() string { return models.KindJump }

func (h *jumpHandler) Perform(item models.Action, ec *ActionContext) (string, error) {
	jump, ok := item.(*models.JumpAction)
	if !ok {
		return "", fmt.Errorf("unexpected action type %T", item)
	}
	_, err := h.service.applyJump(jump, ec)
	return "", err
}

// criticalityHandler adjusts the record's criticality level.
type criticalityHandler struct {
	service *WorkflowService
}

func (h *criticalityHandler) Kind() string { return models.KindModifyCriticality }

func (h *criticalityHandler) Perform(item models.Action, ec *ActionContext) (string, error) {
	action, ok := item.(*models.ModifyCriticalityAction)
	if !ok {
		return "", fmt.Errorf("unexpected action type %T", item)
	}
	record := ec.Record
	switch action.Mode {
	case models.CriticalityIncrease:
		record.IncreaseCriticality(ec.Workflow)
	case models.CriticalityDecrease:
		record.DecreaseCriticality(ec.Workflow)
	case models.CriticalitySet:
		rendered, err := h.service.templates.Render(action.Level, h.service.templateEnv(ec))
		if err != nil {
			return "", &ports.TemplateError{Expression: action.Level, Err: err}
		}
		level, err := strconv.Atoi(strings.TrimSpace(rendered))
		if err != nil {
			return "", &ports.TemplateError{Expression: action.Level, Err: err}
		}
		record.SetCriticality(ec.Workflow, level)
	default:
		return "", fmt.Errorf("unknown criticality mode %q", action.Mode)
	}
	return "", h.service.store.Put(ec.Ctx, record)
}

// removeHandler deletes the record and aborts the run. The optional
// redirect URL tells the interactive caller where to land next.
type removeHandler struct {
	service *WorkflowService
}

func (h *removeHandler) Kind() string { return models.KindRemove }

func (h *removeHandler) Perform(item models.Action, ec *ActionContext) (string, error) {
	action, ok := item.(*models.RemoveAction)
	if !ok {
		return "", fmt.Errorf("unexpected action type %T", item)
	}
	url := action.RedirectURL
	if url != "" {
		rendered, err := h.service.templates.Render(url, h.service.templateEnv(ec))
		if err == nil {
			url = rendered
		}
	}
	if err := h.service.store.Delete(ec.Ctx, ec.Record.ID); err != nil {
		return "", err
	}
	log.Printf("🗑️ removed record %s (workflow %s)", ec.Record.ID, ec.Record.WorkflowID)
	return "", &AbortActionError{URL: url}
}

// commentHandler appends a rendered comment to the record history.
type commentHandler struct {
	service *WorkflowService
}

func (h *commentHandler) Kind() string { return models.KindRegisterComment }

func (h *commentHandler) Perform(item models.Action, ec *ActionContext) (string, error) {
	action, ok := item.(*models.RegisterCommentAction)
	if !ok {
		return "", fmt.Errorf("unexpected action type %T", item)
	}
	rendered, err := h.service.templates.Render(action.Comment, h.service.templateEnv(ec))
	if err != nil {
		return "", &ports.TemplateError{Expression: action.Comment, Err: err}
	}
	record := ec.Record
	last := record.LastEvolution()
	if last == nil {
		record.Evolution = append(record.Evolution, &models.Evolution{Time: time.Now(), Who: ec.User})
		last = record.LastEvolution()
	}
	last.AddPart(&models.CommentPart{Content: rendered})
	return "", h.service.store.Put(ec.Ctx, record)
}

// sendMessageHandler resolves role functions to recipients and hands
// the rendered message off for delivery. Delivery failures are
// recoverable.
type sendMessageHandler struct {
	service *WorkflowService
}

func (h *sendMessageHandler) Kind() string { return models.KindSendMessage }

func (h *sendMessageHandler) Perform(item models.Action, ec *ActionContext) (string, error) {
	action, ok := item.(*models.SendMessageAction)
	if !ok {
		return "", fmt.Errorf("unexpected action type %T", item)
	}
	if h.service.sender == nil {
		return "", nil
	}
	env := h.service.templateEnv(ec)
	recipients := h.resolveRecipients(action.To, ec)
	if len(recipients) == 0 {
		return "", nil
	}
	subject, err := h.service.templates.Render(action.Subject, env)
	if err != nil {
		return "", &ports.TemplateError{Expression: action.Subject, Err: err}
	}
	body, err := h.service.templates.Render(action.Body, env)
	if err != nil {
		return "", &ports.TemplateError{Expression: action.Body, Err: err}
	}
	if err := h.service.sender.Send(ec.Ctx, recipients, subject, body); err != nil {
		return "", fmt.Errorf("message delivery: %w", err)
	}
	return "", nil
}

func (h *sendMessageHandler) resolveRecipients(functions []string, ec *ActionContext) []string {
	var recipients []string
	seen := make(map[string]bool)
	for _, function := range functions {
		if function == constants.ActorSubmitter {
			if id := ec.Record.SubmitterID; id != "" && !seen[id] {
				seen[id] = true
				recipients = append(recipients, id)
			}
			continue
		}
		ids, err := h.service.roles.ResolveFunction(ec.Ctx, ec.Workflow, function)
		if err != nil {
			log.Printf("⚠️ cannot resolve function %q in workflow %s: %v", function, ec.Workflow.ID, err)
			continue
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				recipients = append(recipients, id)
			}
		}
	}
	return recipients
}

// externalWorkflowHandler fires a webservice trigger of a global action
// in another workflow, against records selected by the action's target
// mode.
type externalWorkflowHandler struct {
	service *WorkflowService
}

func (h *externalWorkflowHandler) Kind() string { return models.KindExternalWorkflow }

func (h *externalWorkflowHandler) Perform(item models.Action, ec *ActionContext) (string, error) {
	action, ok := item.(*models.ExternalWorkflowAction)
	if !ok {
		return "", fmt.Errorf("unexpected action type %T", item)
	}
	return "", h.service.performExternalAction(action, ec)
}

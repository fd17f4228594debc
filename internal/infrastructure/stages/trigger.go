package stages

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

const (
	TriggerAccountsPayable   = "accounts_payable_api"
	TriggerFinancialForecast = "update_financial_forecast"
	TriggerComplianceAlert   = "compliance_alert"
	TriggerNotifyModule      = "notify_relevant_module"
	TriggerKnowledgeBase     = "knowledge_base_index"
)

// TriggerRule decides whether a downstream action fires for a document.
// Routed rules are exclusive: only the first matching routed rule fires.
// A nil Applies always matches.
type TriggerRule struct {
	Name    string
	Routed  bool
	Applies func(doc *domain.Document) bool
	Detail  func(doc *domain.Document) string
}

func (r TriggerRule) matches(doc *domain.Document) bool {
	return r.Applies == nil || r.Applies(doc)
}

func (r TriggerRule) detail(doc *domain.Document) string {
	if r.Detail == nil {
		return "Dispatched"
	}
	return r.Detail(doc)
}

// DefaultTriggerRules returns the built-in routing.
func DefaultTriggerRules() []TriggerRule {
	return []TriggerRule{
		{
			Name:    TriggerAccountsPayable,
			Routed:  true,
			Applies: func(doc *domain.Document) bool { return doc.DocumentType == "invoice" },
			Detail: func(doc *domain.Document) string {
				if m, ok := largestAmount(doc.MonetaryValues); ok {
					return "Invoice logged for " + m.Formatted
				}
				return "Invoice logged"
			},
		},
		{
			Name:    TriggerFinancialForecast,
			Routed:  true,
			Applies: func(doc *domain.Document) bool { return doc.Category == "financial" },
			Detail:  func(*domain.Document) string { return "Forecast refresh queued" },
		},
		{
			Name:    TriggerComplianceAlert,
			Routed:  true,
			Applies: func(doc *domain.Document) bool { return doc.Category == "compliance" },
			Detail:  func(*domain.Document) string { return "Compliance team alerted" },
		},
		{
			Name: TriggerNotifyModule,
			Detail: func(doc *domain.Document) string {
				return fmt.Sprintf("Alert dispatched to %s module", doc.Category)
			},
		},
		{
			Name: TriggerKnowledgeBase,
			Detail: func(doc *domain.Document) string {
				return fmt.Sprintf("Indexed %d chunks", doc.ChunkCount)
			},
		},
	}
}

// TriggerExecutor evaluates the rule registry and publishes each fired
// trigger. A publish failure is recorded on the trigger, not on the stage.
type TriggerExecutor struct {
	publisher ports.TriggerPublisher
	now       func() time.Time

	mu    sync.RWMutex
	rules []TriggerRule
}

func NewTriggerExecutor(publisher ports.TriggerPublisher, rules ...TriggerRule) *TriggerExecutor {
	if len(rules) == 0 {
		rules = DefaultTriggerRules()
	}
	return &TriggerExecutor{
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		rules:     append([]TriggerRule{}, rules...),
	}
}

// Register adds a custom rule evaluated after the existing ones. Rules with
// an existing name replace it in place.
func (e *TriggerExecutor) Register(rule TriggerRule) error {
	if rule.Name == "" {
		return domain.WrapError(domain.ErrInvalidInput, "register trigger", fmt.Errorf("rule name is empty"))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.rules {
		if existing.Name == rule.Name {
			e.rules[i] = rule
			return nil
		}
	}
	e.rules = append(e.rules, rule)
	return nil
}

func (e *TriggerExecutor) Stage() domain.Stage { return domain.StageTrigger }

func (e *TriggerExecutor) Execute(ctx context.Context, in ports.StageInput) (domain.StagePatch, error) {
	doc := in.Document
	fired := e.matching(doc)

	patch := domain.StagePatch{Triggers: make([]domain.Trigger, 0, len(fired))}
	for i, rule := range fired {
		trigger := domain.Trigger{Name: rule.Name, Status: domain.TriggerSuccess, Detail: rule.detail(doc)}
		if e.publisher != nil {
			if err := e.publisher.PublishTrigger(ctx, e.event(doc, rule.Name)); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return domain.StagePatch{}, ctxErr
				}
				trigger.Status = domain.TriggerFailure
				trigger.Detail = err.Error()
				patch.Warnings = append(patch.Warnings, fmt.Sprintf("Trigger %s failed: %v", rule.Name, err))
			}
		}
		patch.Triggers = append(patch.Triggers, trigger)
		in.ReportProgress((i + 1) * 100 / len(fired))
	}
	return patch, nil
}

func (e *TriggerExecutor) matching(doc *domain.Document) []TriggerRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]TriggerRule, 0, len(e.rules))
	routed := false
	for _, rule := range e.rules {
		if rule.Routed && routed {
			continue
		}
		if !rule.matches(doc) {
			continue
		}
		if rule.Routed {
			routed = true
		}
		out = append(out, rule)
	}
	return out
}

func (e *TriggerExecutor) event(doc *domain.Document, name string) domain.TriggerEvent {
	attrs := map[string]string{
		"subcategory": doc.Subcategory,
		"chunkCount":  strconv.Itoa(doc.ChunkCount),
	}
	if m, ok := largestAmount(doc.MonetaryValues); ok {
		attrs["largestAmount"] = m.Formatted
	}
	return domain.TriggerEvent{
		Trigger:      name,
		DocumentID:   doc.ID,
		Filename:     doc.Filename,
		DocumentType: doc.DocumentType,
		Category:     doc.Category,
		Fingerprint:  doc.Fingerprint,
		Attributes:   attrs,
		OccurredAt:   e.now(),
	}
}

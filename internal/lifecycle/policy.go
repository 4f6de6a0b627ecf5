package lifecycle

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/helpdesk-sla/internal/domain"
)

// PolicyTable maps priority to its SLA budgets. It is read-only once built and
// safe for concurrent reads.
type PolicyTable map[domain.TicketPriority]domain.SLAPolicy

// NewPolicyTable indexes policies by priority.
func NewPolicyTable(policies []domain.SLAPolicy) PolicyTable {
	table := make(PolicyTable, len(policies))
	for _, p := range policies {
		table[p.Priority] = p
	}
	return table
}

// Lookup returns the policy for priority.
func (t PolicyTable) Lookup(priority domain.TicketPriority) (domain.SLAPolicy, error) {
	p, ok := t[priority]
	if !ok {
		return domain.SLAPolicy{}, fmt.Errorf("no sla policy for priority %s", priority)
	}
	return p, nil
}

// List returns the policies ordered by priority.
func (t PolicyTable) List() []domain.SLAPolicy {
	out := make([]domain.SLAPolicy, 0, len(t))
	for _, priority := range domain.Priorities {
		if p, ok := t[priority]; ok {
			out = append(out, p)
		}
	}
	return out
}

// DefaultPolicies is seeded into an empty policy store at boot.
func DefaultPolicies() []domain.SLAPolicy {
	return []domain.SLAPolicy{
		{Priority: domain.TicketPriorityLow, ResolutionBudgetMinutes: 2880, ResponseBudgetMinutes: 480},
		{Priority: domain.TicketPriorityMedium, ResolutionBudgetMinutes: 1440, ResponseBudgetMinutes: 240},
		{Priority: domain.TicketPriorityHigh, ResolutionBudgetMinutes: 480, ResponseBudgetMinutes: 60},
		{Priority: domain.TicketPriorityCritical, ResolutionBudgetMinutes: 240, ResponseBudgetMinutes: 30},
	}
}

type policyFile struct {
	Policies []domain.SLAPolicy `yaml:"policies"`
}

// LoadPolicyFile reads seed policies from a YAML document of the form
//
//	policies:
//	  - priority: HIGH
//	    resolution_budget_minutes: 480
//	    response_budget_minutes: 60
//
// Every priority must be present exactly once.
func LoadPolicyFile(path string) ([]domain.SLAPolicy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicies(raw)
}

// ParsePolicies decodes and validates a YAML policy document.
func ParsePolicies(raw []byte) ([]domain.SLAPolicy, error) {
	var doc policyFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode policy file: %w", err)
	}
	seen := make(map[domain.TicketPriority]bool, len(doc.Policies))
	for _, p := range doc.Policies {
		if err := ValidatePolicy(p); err != nil {
			return nil, err
		}
		if seen[p.Priority] {
			return nil, fmt.Errorf("duplicate policy for priority %s", p.Priority)
		}
		seen[p.Priority] = true
	}
	for _, priority := range domain.Priorities {
		if !seen[priority] {
			return nil, fmt.Errorf("missing policy for priority %s", priority)
		}
	}
	return doc.Policies, nil
}

// ValidatePolicy checks a single policy row.
func ValidatePolicy(p domain.SLAPolicy) error {
	if !p.Priority.Valid() {
		return fmt.Errorf("unknown priority %q", p.Priority)
	}
	if p.ResolutionBudgetMinutes <= 0 || p.ResponseBudgetMinutes <= 0 {
		return fmt.Errorf("policy %s: budgets must be positive", p.Priority)
	}
	return nil
}

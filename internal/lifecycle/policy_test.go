package lifecycle

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-sla/internal/domain"
)

func TestDefaultPoliciesCoverEveryPriority(t *testing.T) {
	table := NewPolicyTable(DefaultPolicies())
	for _, p := range domain.Priorities {
		policy, err := table.Lookup(p)
		require.NoError(t, err)
		assert.NoError(t, ValidatePolicy(policy))
	}
	high, _ := table.Lookup(domain.TicketPriorityHigh)
	assert.Equal(t, 480, high.ResolutionBudgetMinutes)
	assert.Len(t, table.List(), 4)
}

func TestLoadPolicyFile(t *testing.T) {
	doc := `
policies:
  - priority: LOW
    resolution_budget_minutes: 5000
    response_budget_minutes: 600
  - priority: MEDIUM
    resolution_budget_minutes: 2000
    response_budget_minutes: 300
  - priority: HIGH
    resolution_budget_minutes: 600
    response_budget_minutes: 90
  - priority: CRITICAL
    resolution_budget_minutes: 120
    response_budget_minutes: 15
`
	path := filepath.Join(t.TempDir(), "sla.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	policies, err := LoadPolicyFile(path)
	require.NoError(t, err)
	table := NewPolicyTable(policies)
	critical, err := table.Lookup(domain.TicketPriorityCritical)
	require.NoError(t, err)
	assert.Equal(t, 120*time.Minute, critical.ResolutionBudget())
	assert.Equal(t, 15*time.Minute, critical.ResponseBudget())
}

func TestParsePoliciesRejectsIncompleteTables(t *testing.T) {
	tests := map[string]string{
		"missing priority": `
policies:
  - {priority: LOW, resolution_budget_minutes: 1, response_budget_minutes: 1}`,
		"duplicate": `
policies:
  - {priority: LOW, resolution_budget_minutes: 1, response_budget_minutes: 1}
  - {priority: LOW, resolution_budget_minutes: 1, response_budget_minutes: 1}`,
		"zero budget": `
policies:
  - {priority: LOW, resolution_budget_minutes: 0, response_budget_minutes: 1}`,
		"unknown priority": `
policies:
  - {priority: URGENT, resolution_budget_minutes: 1, response_budget_minutes: 1}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePolicies([]byte(doc))
			assert.Error(t, err)
		})
	}
}

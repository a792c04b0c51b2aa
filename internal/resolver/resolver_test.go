package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tivvis/nlagent/internal/catalog"
)

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	return New(catalog.NewRegistry(), DefaultThreshold)
}

func TestResolver_CreateContactFullSlots(t *testing.T) {
	r := newResolver(t)

	res := r.Resolve("Create a contact named John Doe with email john@example.com", nil)

	require.True(t, res.Matched)
	assert.Equal(t, catalog.OpCreateContact, res.Operation)
	assert.InDelta(t, 0.9, res.Confidence, 0.001)
	assert.Equal(t, "John", res.Params["first_name"])
	assert.Equal(t, "Doe", res.Params["last_name"])
	assert.Equal(t, "john@example.com", res.Params["email"])
	assert.Empty(t, res.MissingParams)
}

func TestResolver_AuthStatus(t *testing.T) {
	r := newResolver(t)

	res := r.Resolve("Check my authentication status", nil)

	require.True(t, res.Matched)
	assert.Equal(t, catalog.OpAuthStatus, res.Operation)
	assert.InDelta(t, 0.9, res.Confidence, 0.001)
	assert.Equal(t, catalog.KindProvider, res.Kind)
}

func TestResolver_LogTimeExtractsDurationAndDescription(t *testing.T) {
	r := newResolver(t)

	res := r.Resolve("Log 2 hours on matter 42 for drafting the motion", nil)

	require.True(t, res.Matched)
	assert.Equal(t, catalog.OpLogTime, res.Operation)
	assert.Equal(t, "42", res.Params["matter_id"])
	assert.Equal(t, "7200", res.Params["quantity"], "hours convert to seconds")
	assert.Equal(t, "drafting the motion", res.Params["description"])
	assert.Empty(t, res.MissingParams)
}

func TestResolver_MinutesConvertToSeconds(t *testing.T) {
	r := newResolver(t)

	res := r.Resolve("Record 90 minutes on matter 7 for document review", nil)

	require.True(t, res.Matched)
	assert.Equal(t, catalog.OpLogTime, res.Operation)
	assert.Equal(t, "5400", res.Params["quantity"])
}

func TestResolver_GibberishIsUnknown(t *testing.T) {
	r := newResolver(t)

	res := r.Resolve("flibber jabberwocky quux", nil)

	assert.False(t, res.Matched)
	assert.Equal(t, OperationUnknown, res.Operation)
	assert.InDelta(t, 0.1, res.Confidence, 0.001)
	assert.Empty(t, res.Alternatives)
}

func TestResolver_BelowThresholdKeepsAlternatives(t *testing.T) {
	// A bare verb fires one trigger group on several operations but the
	// required slots stay empty, so nothing clears the threshold.
	r := newResolver(t)

	res := r.Resolve("update", nil)

	assert.False(t, res.Matched)
	assert.Equal(t, OperationUnknown, res.Operation)
	assert.Less(t, res.Confidence, r.Threshold())
	assert.NotEmpty(t, res.Alternatives)
	assert.LessOrEqual(t, len(res.Alternatives), 3)
}

func TestResolver_CompoundQueryPicksStrongerIntent(t *testing.T) {
	r := newResolver(t)

	res := r.Resolve("Create a contact named John Doe and then log time", nil)

	require.True(t, res.Matched)
	assert.Equal(t, catalog.OpCreateContact, res.Operation)

	// The losing intent should still show up as an alternative.
	ops := make([]string, 0, len(res.Alternatives))
	for _, alt := range res.Alternatives {
		ops = append(ops, alt.Operation)
	}
	assert.Contains(t, ops, catalog.OpLogTime)
}

func TestResolver_MissingRequiredParamsReported(t *testing.T) {
	r := newResolver(t)

	res := r.Resolve("Create a new contact", nil)

	require.True(t, res.Matched)
	assert.Equal(t, catalog.OpCreateContact, res.Operation)
	assert.ElementsMatch(t, []string{"first_name", "last_name"}, res.MissingParams)
	assert.Less(t, res.Confidence, 0.9)
}

func TestResolver_ContextFillsMissingSlots(t *testing.T) {
	r := newResolver(t)

	res := r.Resolve("Open a new matter for drafting contracts", map[string]interface{}{
		"default_client_id": 77,
	})

	require.True(t, res.Matched)
	assert.Equal(t, catalog.OpCreateMatter, res.Operation)
	assert.Equal(t, "77", res.Params["client_id"])
	assert.Empty(t, res.MissingParams)
}

func TestResolver_DefaultsApplied(t *testing.T) {
	r := newResolver(t)

	res := r.Resolve("Open a new matter for client 12 for reviewing the lease", nil)

	require.True(t, res.Matched)
	assert.Equal(t, catalog.OpCreateMatter, res.Operation)
	assert.Equal(t, "12", res.Params["client_id"])
	assert.Equal(t, "Open", res.Params["status"], "declared default fills the slot")
}

func TestResolver_UpdateContactNeedsID(t *testing.T) {
	r := newResolver(t)

	res := r.Resolve("Update contact 123 with email new@example.com", nil)

	require.True(t, res.Matched)
	assert.Equal(t, catalog.OpUpdateContact, res.Operation)
	assert.Equal(t, "123", res.Params["contact_id"])
	assert.Equal(t, "new@example.com", res.Params["email"])
}

func TestResolver_FindContactsByQuotedQuery(t *testing.T) {
	r := newResolver(t)

	res := r.Resolve(`Find contacts "Jane Smith"`, nil)

	require.True(t, res.Matched)
	assert.Equal(t, catalog.OpFindContacts, res.Operation)
	assert.Equal(t, "Jane Smith", res.Params["query"])
}

func TestResolver_LimitExtraction(t *testing.T) {
	r := newResolver(t)

	res := r.Resolve("Show the first 10 matters", nil)

	require.True(t, res.Matched)
	assert.Equal(t, catalog.OpFindMatters, res.Operation)
	assert.Equal(t, "10", res.Params["limit"])
}

func TestResolver_DateRangeExtraction(t *testing.T) {
	r := newResolver(t)

	res := r.Resolve("List activities from 2026-01-01 until 2026-02-01", nil)

	require.True(t, res.Matched)
	assert.Equal(t, catalog.OpFindActivities, res.Operation)
	assert.Equal(t, "2026-01-01", res.Params["date_from"])
	assert.Equal(t, "2026-02-01", res.Params["date_to"])
}

func TestResolver_CustomFieldsRouteToLocalCLI(t *testing.T) {
	r := newResolver(t)

	res := r.Resolve("List the custom fields for matters", nil)

	require.True(t, res.Matched)
	assert.Equal(t, catalog.OpListCustomFields, res.Operation)
	assert.Equal(t, catalog.KindLocalCLI, res.Kind)
	assert.Equal(t, "Matter", res.Params["entity_type"])
}

func TestResolver_Deterministic(t *testing.T) {
	r := newResolver(t)

	queries := []string{
		"Create a contact named John Doe with email john@example.com",
		"Check my authentication status",
		"Find all matters",
		"update",
		"flibber jabberwocky",
	}
	for _, q := range queries {
		first := r.Resolve(q, nil)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, r.Resolve(q, nil), "query %q must resolve identically", q)
		}
	}
}

func TestResolver_WordBoundaryTriggers(t *testing.T) {
	// "log" must not fire inside other words.
	assert.True(t, containsWord("log 2 hours", "log"))
	assert.False(t, containsWord("catalog of items", "log"))
	assert.True(t, containsWord("show the catalog", "catalog"))
}

func TestExtractDuration(t *testing.T) {
	assert.Equal(t, "7200", extractDuration("log 2 hours"))
	assert.Equal(t, "5400", extractDuration("log 1.5 hours"))
	assert.Equal(t, "1800", extractDuration("log 30 minutes"))
	assert.Equal(t, "", extractDuration("log some time"))
}

func TestExtractDescription_RejectsEntityClauses(t *testing.T) {
	// "for client 12" is an entity reference, not a description.
	assert.Equal(t, "", extractDescription("open a matter for client 12", "open a matter for client 12"))
	assert.Equal(t, "drafting the brief", extractDescription(
		"log 1 hour on matter 3 for drafting the brief",
		"log 1 hour on matter 3 for drafting the brief"))
}

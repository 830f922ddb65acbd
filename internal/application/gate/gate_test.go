package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/crm-workflow/internal/domain/entity"
	"github.com/garyjia/crm-workflow/internal/domain/workflow"
)

func appWithDocs(status workflow.Status, docs ...entity.Document) *entity.Application {
	return &entity.Application{ID: "app-1", OwnerID: "owner", Status: status, Documents: docs}
}

func TestCanTransition_Closure(t *testing.T) {
	g := Default()
	table := workflow.DefaultTable()

	for _, role := range []workflow.Role{workflow.RoleAdmin, workflow.RoleUser} {
		for _, from := range workflow.Statuses() {
			for _, to := range workflow.Statuses() {
				d := g.CanTransition(appWithDocs(from), to, role)
				assert.Equal(t, table.Permits(from, to, role), d.Allowed,
					"%s -> %s as %s", from, to, role)
				if !d.Allowed {
					assert.ErrorIs(t, d.Err(), workflow.ErrInvalidTransition)
				}
			}
		}
	}
}

func TestCanTransition_DocumentGate(t *testing.T) {
	app := appWithDocs(workflow.StatusSubmitted,
		entity.Document{ID: "d1", Name: "Passport", IsMandatory: true, IsUploaded: true},
		entity.Document{ID: "d2", Name: "Bank statement", IsMandatory: true},
		entity.Document{ID: "d3", Name: "Photo", IsMandatory: false},
	)

	d := Default().CanTransition(app, workflow.StatusSentToBank, workflow.RoleAdmin)
	assert.False(t, d.Allowed)
	assert.Equal(t, []string{"Bank statement"}, d.MissingDocuments)
	assert.ErrorIs(t, d.Err(), workflow.ErrIncompleteDocuments)

	app.Documents[1].IsUploaded = true
	d = Default().CanTransition(app, workflow.StatusSentToBank, workflow.RoleAdmin)
	assert.True(t, d.Allowed)
	assert.Empty(t, d.MissingDocuments)
	assert.NoError(t, d.Err())
}

func TestCanTransition_UserSubmitNeedsDocuments(t *testing.T) {
	app := appWithDocs(workflow.StatusReturned,
		entity.Document{Name: "Tax return", IsMandatory: true},
	)

	d := Default().CanTransition(app, workflow.StatusSubmitted, workflow.RoleUser)
	assert.False(t, d.Allowed)
	assert.Equal(t, []string{"Tax return"}, d.MissingDocuments)

	draft := appWithDocs(workflow.StatusDraft, entity.Document{Name: "Tax return", IsMandatory: true})
	d = Default().CanTransition(draft, workflow.StatusSubmitted, workflow.RoleUser)
	assert.False(t, d.Allowed)
	assert.ErrorIs(t, d.Err(), workflow.ErrIncompleteDocuments)
}

func TestCanTransition_RefusalListsNoDocuments(t *testing.T) {
	missing := entity.Document{Name: "Bank statement", IsMandatory: true}

	d := Default().CanTransition(appWithDocs(workflow.StatusPaid, missing), workflow.StatusSentToBank, workflow.RoleAdmin)
	assert.False(t, d.Allowed)
	assert.Empty(t, d.MissingDocuments)
	assert.ErrorIs(t, d.Err(), workflow.ErrInvalidTransition)

	d = Default().CanTransition(appWithDocs(workflow.StatusSubmitted, missing), workflow.StatusSubmitted, workflow.RoleUser)
	assert.False(t, d.Allowed)
	assert.Empty(t, d.MissingDocuments)
}

func TestCanTransition_AdminReturnIgnoresDocuments(t *testing.T) {
	app := appWithDocs(workflow.StatusSubmitted, entity.Document{Name: "Tax return", IsMandatory: true})

	d := Default().CanTransition(app, workflow.StatusReturned, workflow.RoleAdmin)
	assert.True(t, d.Allowed)
	assert.True(t, d.RequiresComment)
}

func TestCanTransition_TerminalPaid(t *testing.T) {
	app := appWithDocs(workflow.StatusPaid)
	for _, role := range []workflow.Role{workflow.RoleAdmin, workflow.RoleUser} {
		for _, to := range workflow.Statuses() {
			assert.False(t, Default().CanTransition(app, to, role).Allowed, "%s as %s", to, role)
		}
	}
}

func TestCanTransition_IsPure(t *testing.T) {
	app := appWithDocs(workflow.StatusSubmitted, entity.Document{Name: "Passport", IsMandatory: true})

	first := Default().CanTransition(app, workflow.StatusSentToBank, workflow.RoleAdmin)
	second := Default().CanTransition(app, workflow.StatusSentToBank, workflow.RoleAdmin)

	assert.Equal(t, first.Allowed, second.Allowed)
	assert.Equal(t, first.MissingDocuments, second.MissingDocuments)
	assert.Equal(t, workflow.StatusSubmitted, app.Status)
}

func TestCanOverride(t *testing.T) {
	g := Default()

	d := g.CanOverride(appWithDocs(workflow.StatusPaid), workflow.StatusComplete)
	assert.True(t, d.Allowed)

	d = g.CanOverride(appWithDocs(workflow.StatusPaid), workflow.StatusPaid)
	assert.ErrorIs(t, d.Err(), workflow.ErrInvalidTransition)

	d = g.CanOverride(appWithDocs(workflow.StatusDraft), workflow.Status("Archived"))
	assert.ErrorIs(t, d.Err(), workflow.ErrInvalidStatus)

	d = g.CanOverride(appWithDocs(workflow.StatusDraft, entity.Document{Name: "ID", IsMandatory: true}), workflow.StatusSentToBank)
	assert.False(t, d.Allowed)
	assert.Equal(t, []string{"ID"}, d.MissingDocuments)
}

func TestPreview(t *testing.T) {
	app := appWithDocs(workflow.StatusSentToBank)

	decisions := Default().Preview(app, workflow.RoleAdmin)
	require.Len(t, decisions, 3)
	assert.Equal(t, workflow.StatusComplete, decisions[0].Target)
	assert.False(t, decisions[0].RequiresComment)
	assert.True(t, decisions[1].RequiresComment)
	for _, d := range decisions {
		assert.True(t, d.Allowed)
	}

	assert.Empty(t, Default().Preview(app, workflow.RoleUser))
}

func TestCheckComment(t *testing.T) {
	assert.ErrorIs(t, CheckComment(workflow.StatusRejected, ""), workflow.ErrMissingComment)
	assert.ErrorIs(t, CheckComment(workflow.StatusNeedMoreInfo, "   "), workflow.ErrMissingComment)
	assert.NoError(t, CheckComment(workflow.StatusRejected, "bank declined"))
	assert.NoError(t, CheckComment(workflow.StatusComplete, ""))
}

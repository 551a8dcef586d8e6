package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasIsExact(t *testing.T) {
	scopes := []string{"resources:read"}

	assert.True(t, Has(scopes, ScopeResourcesRead))
	assert.False(t, Has(scopes, ScopeResourcesWrite))
	assert.False(t, Has([]string{"resources:*"}, ScopeResourcesWrite))
	assert.False(t, Has(nil, ScopeResourcesRead))
	assert.False(t, Has(scopes, ""))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate([]string{"resources:read", "workflows:*", "custom_area:do_thing"}))
	assert.ErrorIs(t, Validate([]string{"Resources:Read"}), ErrInvalidScope)
	assert.ErrorIs(t, Validate([]string{"resources"}), ErrInvalidScope)
	assert.ErrorIs(t, Validate([]string{"resources:read:extra"}), ErrInvalidScope)
}

func TestNormalize(t *testing.T) {
	got := Normalize([]string{" Resources:Read ", "resources:read", "", "workflows:execute"})
	assert.Equal(t, []string{"resources:read", "workflows:execute"}, got)
	assert.Equal(t, []string{}, Normalize(nil))
}

func TestMatchPermission(t *testing.T) {
	tests := []struct {
		name    string
		perms   []string
		feature string
		action  string
		want    bool
	}{
		{"global wildcard", []string{"*"}, "reports.sales", "read", true},
		{"global pair wildcard", []string{"*:*"}, "reports.sales", "write", true},
		{"exact", []string{"reports.sales:read"}, "reports.sales", "read", true},
		{"feature wildcard", []string{"reports.sales:*"}, "reports.sales", "delete", true},
		{"category wildcard", []string{"reports:*"}, "reports.sales", "read", true},
		{"category action", []string{"reports:read"}, "reports.sales", "read", true},
		{"category wrong action", []string{"reports:read"}, "reports.sales", "write", false},
		{"other feature", []string{"billing:*"}, "reports.sales", "read", false},
		{"no category without dot", []string{"reports:read"}, "dashboard", "read", false},
		{"case insensitive", []string{"Reports.Sales:READ"}, "reports.sales", "read", true},
		{"empty perms", nil, "reports", "read", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchPermission(tt.perms, tt.feature, tt.action))
		})
	}
}

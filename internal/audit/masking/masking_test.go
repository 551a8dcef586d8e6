package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecretKeepsPrefixAndSuffix(t *testing.T) {
	assert.Equal(t, "ak_live_****wxyz", MaskSecret("ak_live_abcdefghijklmnopqrstuvwxyz"))
	assert.Equal(t, "****", MaskSecret("abc"))
	assert.Equal(t, "", MaskSecret("  "))
}

func TestMaskSensitiveOnlyTouchesCredentialKeys(t *testing.T) {
	got := MaskSensitive(map[string]any{
		"email":        "ana@example.com",
		"new_password": "hunter2hunter2",
		"nested": map[string]any{
			"refresh_token": "tok_0123456789",
			"scope":         "read:workflows",
		},
		"client_secret": 42,
		" ":             "dropped",
	})

	assert.Equal(t, "ana@example.com", got["email"])
	assert.Equal(t, "****ter2", got["new_password"])
	assert.Equal(t, "****", got["client_secret"])
	assert.NotContains(t, got, " ")

	nested, ok := got["nested"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested map, got %T", got["nested"])
	}
	assert.Equal(t, "tok_****6789", nested["refresh_token"])
	assert.Equal(t, "read:workflows", nested["scope"])
}

func TestMaskSensitiveEmpty(t *testing.T) {
	assert.Nil(t, MaskSensitive(nil))
	assert.Nil(t, MaskSensitive(map[string]any{"": "x"}))
}

package token

import (
	"strings"

	"github.com/smallbiznis/kovra/internal/principal"
)

// builtinRoleMapping translates provider vocabulary, including Portuguese
// role names, to local roles. Keys are lower-case.
var builtinRoleMapping = map[string]string{
	"owner":        principal.RoleOwner,
	"proprietário": principal.RoleOwner,
	"proprietario": principal.RoleOwner,
	"dono":         principal.RoleOwner,

	"admin":         principal.RoleAdmin,
	"administrator": principal.RoleAdmin,
	"administrador": principal.RoleAdmin,
	"superadmin":    principal.RoleAdmin,
	"super_admin":   principal.RoleAdmin,
	"sysadmin":      principal.RoleAdmin,
	"manager":       principal.RoleAdmin,
	"gerente":       principal.RoleAdmin,
	"gestor":        principal.RoleAdmin,
	"moderator":     principal.RoleAdmin,
	"moderador":     principal.RoleAdmin,

	"developer":     principal.RoleDeveloper,
	"dev":           principal.RoleDeveloper,
	"desenvolvedor": principal.RoleDeveloper,
	"programador":   principal.RoleDeveloper,
	"engineer":      principal.RoleDeveloper,

	"user":        principal.RoleUser,
	"usuario":     principal.RoleUser,
	"usuário":     principal.RoleUser,
	"member":      principal.RoleUser,
	"membro":      principal.RoleUser,
	"editor":      principal.RoleUser,
	"colaborador": principal.RoleUser,

	"viewer":       principal.RoleViewer,
	"visualizador": principal.RoleViewer,
	"leitor":       principal.RoleViewer,
	"readonly":     principal.RoleViewer,
	"read_only":    principal.RoleViewer,
	"read-only":    principal.RoleViewer,
	"guest":        principal.RoleViewer,
	"convidado":    principal.RoleViewer,
}

// RoleMapper maps provider roles to local roles. Overrides take precedence
// over the built-in table.
type RoleMapper struct {
	overrides func() map[string]string
}

// NewRoleMapper builds a mapper. overrides may be nil.
func NewRoleMapper(overrides func() map[string]string) *RoleMapper {
	return &RoleMapper{overrides: overrides}
}

// Map trims and lower-cases raw before lookup. Unmapped roles are returned
// upper-cased so that new provider roles stay visible.
func (m *RoleMapper) Map(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return ""
	}
	if m != nil && m.overrides != nil {
		if mapped, ok := m.overrides()[key]; ok && mapped != "" {
			return mapped
		}
	}
	if mapped, ok := builtinRoleMapping[key]; ok {
		return mapped
	}
	return strings.ToUpper(key)
}

// MapAll maps every role, dropping blanks and duplicates.
func (m *RoleMapper) MapAll(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		mapped := m.Map(r)
		if mapped == "" {
			continue
		}
		if _, dup := seen[mapped]; dup {
			continue
		}
		seen[mapped] = struct{}{}
		out = append(out, mapped)
	}
	return out
}

// MapRole maps with the built-in table only.
func MapRole(raw string) string {
	return (*RoleMapper)(nil).Map(raw)
}

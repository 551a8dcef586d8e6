package migration

import (
	apikeydomain "github.com/smallbiznis/kovra/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/kovra/internal/audit/domain"
	authdomain "github.com/smallbiznis/kovra/internal/auth/domain"
	organizationdomain "github.com/smallbiznis/kovra/internal/organization/domain"
	resourcedomain "github.com/smallbiznis/kovra/internal/resource/domain"
	"gorm.io/gorm"
)

// AutoMigrate creates the schema from the gorm models. It backs the sqlite
// and mysql drivers, which the embedded SQL migrations do not target.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&authdomain.User{},
		&organizationdomain.Organization{},
		&organizationdomain.OrganizationMember{},
		&apikeydomain.APIKey{},
		&resourcedomain.Resource{},
		&auditdomain.AuditLog{},
	)
}

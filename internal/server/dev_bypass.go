package server

import (
	"sync"

	"github.com/smallbiznis/kovra/internal/config"
	"github.com/smallbiznis/kovra/internal/principal"
	"go.uber.org/zap"
)

// devBypass synthesizes a fixed principal for requests without any
// credential. It is only constructed outside production.
type devBypass struct {
	cfg  config.DevBypassConfig
	log  *zap.Logger
	warn sync.Once
}

func newDevBypass(cfg config.Config, log *zap.Logger) *devBypass {
	if !cfg.Auth.Dev.Enabled || cfg.IsProduction() {
		return nil
	}
	return &devBypass{cfg: cfg.Auth.Dev, log: log.Named("auth.dev_bypass")}
}

func (d *devBypass) principal() (*principal.Principal, bool) {
	if d == nil {
		return nil, false
	}
	d.warn.Do(func() {
		d.log.Warn("development auth bypass is active; requests without credentials are authenticated as a fixed principal",
			zap.String("user_id", d.cfg.UserID),
			zap.String("org_id", d.cfg.OrgID),
			zap.String("role", d.cfg.Role),
		)
	})

	role := d.cfg.Role
	if role == "" {
		role = principal.RoleAdmin
	}
	return principal.NewBuilder(principal.SourceDevBypass).
		User(d.cfg.UserID, "", d.cfg.Email, d.cfg.Name).
		Org(d.cfg.OrgID, "", role, nil).
		Roles(role).
		Build(), true
}

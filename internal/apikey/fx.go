package apikey

import (
	"github.com/smallbiznis/kovra/internal/apikey/repository"
	"github.com/smallbiznis/kovra/internal/apikey/service"
	"github.com/smallbiznis/kovra/internal/apikey/usage"
	"github.com/smallbiznis/kovra/internal/apikey/validator"
	"go.uber.org/fx"
)

var Module = fx.Module("apikey",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(validator.New),
	fx.Provide(usage.New),
)

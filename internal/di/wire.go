//go:build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"github.com/sandeepkv93/session-security-engine/internal/app"
	"github.com/sandeepkv93/session-security-engine/internal/config"
	"github.com/sandeepkv93/session-security-engine/internal/repository"
	"github.com/sandeepkv93/session-security-engine/internal/service"
)

var storeSet = wire.NewSet(
	provideDB,
	provideRedis,
	provideSessionRepository,
	repository.NewAccountRepository,
)

var engineSet = wire.NewSet(
	provideJWTManager,
	providePasswordHasher,
	provideSessionLimiter,
	provideFingerprintValidator,
	provideTokenService,
	provideMFAService,
	service.NewAuthService,
	service.NewSessionService,
	provideExchangeCodeStore,
	provideOAuthService,
)

var httpSet = wire.NewSet(
	provideAuthHandler,
	provideMFAHandler,
	provideAccountHandler,
	provideReadiness,
	provideRouter,
	provideServer,
)

func InitializeApp(ctx context.Context, cfg *config.Config) (*app.App, func(), error) {
	wire.Build(
		provideLogging,
		provideLogger,
		provideObservability,
		storeSet,
		engineSet,
		httpSet,
		provideBackgroundTasks,
		app.New,
	)
	return nil, nil, nil
}

func InitializeMaintenance(ctx context.Context, cfg *config.Config) (*Maintenance, func(), error) {
	wire.Build(
		provideLogging,
		provideLogger,
		storeSet,
		provideMaintenance,
	)
	return nil, nil, nil
}

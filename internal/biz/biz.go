package biz

import "github.com/google/wire"

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewBillingConfig,
	NewPricingEngine,
	NewUserBalanceUseCase,
	NewLedgerUseCase,
	NewReservationUseCase,
	NewSubscriptionUseCase,
	wire.Bind(new(TierProvider), new(*SubscriptionUseCase)),
	NewStatsUseCase,
	NewReconcileUseCase,
	NewCreditUseCase, // 组合 UseCase
)

// README: Delivery fee from shop-to-address distance (tiered flat + per-km rule).
package order

import (
	"math"

	"foodcourt/internal/config"
)

// DeliveryFee computes one shop-order's fee. Inside the free radius the base
// fee applies as-is; beyond it every started kilometre adds one step. A shop
// without registered coordinates pays the base fee regardless of the address.
func DeliveryFee(distanceKm float64, hasShopLocation bool, tier config.FeeConfig) int64 {
	fee := tier.Base
	if !hasShopLocation {
		return fee
	}
	if distanceKm > tier.FreeRadiusKm {
		fee += int64(math.Ceil(distanceKm-tier.FreeRadiusKm)) * tier.PerKmStep
	}
	return fee
}

// DefaultFeeTier mirrors the config defaults; used by tests and as a fallback
// when the caller wires no tier.
func DefaultFeeTier() config.FeeConfig {
	return config.FeeConfig{Base: 15000, FreeRadiusKm: 3.0, PerKmStep: 5000}
}

// internal/types/slippage.go
package types

import "math"

// MaxSlippageBps is the ceiling a failed sell may escalate to. Above this the
// trade is considered unsalvageable and surfaced instead of retried.
const MaxSlippageBps = 5000

// MinAmountOut applies a basis-point slippage tolerance to an expected output.
func MinAmountOut(expected uint64, slippageBps int) uint64 {
	if slippageBps <= 0 {
		return expected
	}
	multiplier := 1.0 - float64(slippageBps)/10_000.0
	if multiplier < 0 {
		return 0
	}
	return uint64(math.Floor(float64(expected) * multiplier))
}

// EscalateSlippage raises slippage for a retry, capped at MaxSlippageBps.
// Each escalation doubles the tolerance, mirroring how quickly a thin pool
// can move against a forced exit.
func EscalateSlippage(currentBps int) int {
	next := currentBps * 2
	if next <= 0 {
		next = MaxSlippageBps
	}
	if next > MaxSlippageBps {
		next = MaxSlippageBps
	}
	return next
}

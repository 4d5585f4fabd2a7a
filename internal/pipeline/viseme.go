package pipeline

import (
	"math"

	"mouthsync/pkg/contract"
)

// 口型阈值（dB，经验标定常量）。
const (
	ThresholdTongue = -30.0
	ThresholdOpen   = -40.0
)

// Classify 将平均响度映射为口型：
// > -30 → Tongue；(-40, -30] → Open；<= -40 → Closed。NaN 视为静音。
func Classify(meanDB float64) contract.Viseme {
	switch {
	case math.IsNaN(meanDB):
		return contract.Closed
	case meanDB > ThresholdTongue:
		return contract.Tongue
	case meanDB > ThresholdOpen:
		return contract.Open
	default:
		return contract.Closed
	}
}

package client

import (
	"math"
	"math/rand"
	"time"
)

// Backoff 是断线重连的指数退避策略：base = Initial * Factor^(attempt-1)，再叠加 base*Jitter*rand 的抖动，上限 Max。
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  float64
}

func DefaultBackoff() Backoff {
	return Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second, Factor: 2, Jitter: 0.2}
}

// Delay 返回第 attempt 次重连前的等待时间，attempt 从 1 开始。
func (b Backoff) Delay(attempt int) time.Duration {
	return b.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not need crypto randomness
}

func (b Backoff) delayWithRand(attempt int, r float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(b.Initial) * math.Pow(b.Factor, exp)
	total := math.Min(float64(b.Max), base+base*b.Jitter*r)
	return time.Duration(total)
}

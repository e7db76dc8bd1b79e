package stream

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy 断线重连配置
type RetryPolicy struct {
	MaxAttempts int           // 最大重试次数，<=0 表示默认值
	BaseDelay   time.Duration // 初始延迟
	Multiplier  float64       // 1 表示固定间隔
	MaxDelay    time.Duration // 最大延迟
	Jitter      time.Duration // 额外随机延迟上限，0 关闭
}

// DefaultRetryPolicy 默认重试配置
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 10,
	BaseDelay:   1 * time.Second,
	Multiplier:  2,
	MaxDelay:    60 * time.Second,
	Jitter:      500 * time.Millisecond,
}

// WithDefaults fills zero fields from DefaultRetryPolicy.
func (p RetryPolicy) WithDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryPolicy.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultRetryPolicy.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultRetryPolicy.MaxDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Delay 第 attempt 次重试（从 0 开始）前的等待时间：
// min(base * multiplier^attempt, max) + [0, jitter)
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) || math.IsInf(d, 0) {
		d = float64(p.MaxDelay)
	}
	out := time.Duration(d)
	if p.Jitter > 0 {
		out += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return out
}

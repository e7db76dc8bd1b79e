package stream

import (
	"fmt"
	"sort"
	"strings"

	"mdstream/internal/domain/model"
)

// AnyExchange 深度档位的默认条目，未单独声明的交易所使用
const AnyExchange = "*"

// Capabilities declares what a venue can stream. Immutable after construction.
type Capabilities struct {
	modes map[model.Mode]struct{}
	depth map[string][]int
}

func NewCapabilities(modes []model.Mode, depth map[string][]int) *Capabilities {
	c := &Capabilities{
		modes: make(map[model.Mode]struct{}, len(modes)),
		depth: make(map[string][]int, len(depth)),
	}
	for _, m := range modes {
		c.modes[m] = struct{}{}
	}
	for ex, levels := range depth {
		ls := append([]int(nil), levels...)
		sort.Ints(ls)
		c.depth[strings.ToUpper(ex)] = ls
	}
	return c
}

func (c *Capabilities) SupportsMode(m model.Mode) bool {
	_, ok := c.modes[m]
	return ok
}

// SupportedDepthLevels returns the sorted depth levels for a venue exchange.
func (c *Capabilities) SupportedDepthLevels(exchange string) []int {
	if ls, ok := c.depth[strings.ToUpper(exchange)]; ok {
		return append([]int(nil), ls...)
	}
	return append([]int(nil), c.depth[AnyExchange]...)
}

// FallbackDepthLevel 返回不超过 requested 的最近档位；没有则返回最小档位。
// ok=false 表示该交易所没有任何深度支持
func (c *Capabilities) FallbackDepthLevel(exchange string, requested int) (int, bool) {
	levels := c.SupportedDepthLevels(exchange)
	if len(levels) == 0 {
		return 0, false
	}
	best := levels[0]
	for _, l := range levels {
		if l <= requested {
			best = l
		}
	}
	return best, true
}

// Negotiate validates mode and depth for a subscribe request. Depth only matters in
// DEPTH mode; an unsupported level degrades to the fallback instead of failing.
func (c *Capabilities) Negotiate(exchange string, mode model.Mode, requested int) (actual int, fallback bool, err error) {
	if !mode.Valid() || !c.SupportsMode(mode) {
		return 0, false, model.NewError(model.CodeInvalidMode, fmt.Sprintf("mode %s not supported", mode), nil)
	}
	if requested <= 0 {
		requested = 1
	}
	if mode != model.ModeDepth {
		return requested, false, nil
	}
	levels := c.SupportedDepthLevels(exchange)
	for _, l := range levels {
		if l == requested {
			return requested, false, nil
		}
	}
	lvl, ok := c.FallbackDepthLevel(exchange, requested)
	if !ok {
		return 0, false, model.NewError(model.CodeInvalidDepth,
			fmt.Sprintf("no depth levels supported on %s", exchange), nil)
	}
	return lvl, true, nil
}

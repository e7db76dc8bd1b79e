package stream

import (
	"fmt"
	"sort"
	"strings"
)

const (
	ansiReset    = "\033[0m"
	ansiRed      = "\033[31m"
	ansiGreen    = "\033[32m"
	ansiYellow   = "\033[33m"
	ansiDim      = "\033[2m"
	ansiClearEOL = "\033[K"
)

func colorize(s, c string) string { return c + s + ansiReset }

type Formatter struct {
	Color bool
}

func NewFormatter(color bool) *Formatter {
	return &Formatter{Color: color}
}

func (f *Formatter) paint(s, c string) string {
	if !f.Color {
		return s
	}
	return colorize(s, c)
}

// Live 渲染覆盖式行情行：每个 topic 一段 LTP
func (f *Formatter) Live(st *State) string {
	snap := st.Snapshot()

	var sb strings.Builder
	sb.WriteString("\r")
	sb.WriteString(f.paint("[MDSTREAM] ", ansiDim))

	for i, topic := range st.Topics() {
		ss := snap[topic]
		if i > 0 {
			sb.WriteString(f.paint("  ||  ", ansiDim))
		}
		px := "--"
		if ss.seen {
			px = fmt.Sprintf("%.2f", ss.ltp)
		}
		col := ansiYellow
		switch ss.dir {
		case DirUp:
			col = ansiGreen
		case DirDown:
			col = ansiRed
		}
		sb.WriteString(topic)
		sb.WriteString(" ")
		sb.WriteString(f.paint(px, col))
	}

	if f.Color {
		sb.WriteString(ansiClearEOL)
	}
	return sb.String()
}

// Event 渲染账户事件（订单/持仓），字段按 key 排序
func (f *Formatter) Event(topic string, payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(f.paint("["+topic+"]", ansiYellow))
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, payload[k])
	}
	return sb.String()
}

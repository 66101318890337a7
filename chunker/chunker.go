// Package chunker 提供超长消息的确定性分段。
//
// chunker 是 msgrelay 的出站消息组件，它提供了：
// - 按通道长度上限切分文本，优先在句子边界断开
// - 有序分段，每段携带 "[Part i/N]" 头部（单段不加头部）
// - 幂等分段：再次切分已带头部的文本不会叠加头部
//
// ## 切分策略
//
// 每轮取剩余文本不超过上限的最大前缀，在前缀末尾的回看窗口
// （默认 200 字符）内寻找最靠后的句子结束边界（“.”“!”“?”
// 后跟空白，或空行）；找不到则回退到前缀内最后一个换行符，
// 但仅当它位于上限的 80% 之后才接受（避免产生过短的分段）；
// 仍找不到则在上限处硬切。
//
// 头部中的总段数 N 在全部切分完成前未知，因此先按头部预留
// 空间切分正文，再统一渲染头部（必要时扩大预留重切）。
//
// ## 基本使用
//
//	chunks := chunker.Split(answer, 4096)
//	for _, chunk := range chunks {
//		_ = channel.Send(ctx, recipient, chunk)
//	}
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/ceyewan/msgrelay/xerrors"
)

// 默认参数
const (
	// DefaultLookback 句子边界的回看窗口（字符数）
	DefaultLookback = 200

	// DefaultBreakRatio 换行回退的最小位置（相对上限的比例）
	DefaultBreakRatio = 0.8

	// MinMaxLength 上限下界：必须能容纳头部和至少一段正文
	MinMaxLength = 32
)

// headerPattern 匹配分段头部 "[Part i/N]" 及其后的空白
var headerPattern = regexp.MustCompile(`^\[Part \d+/\d+\]\s*`)

// ErrMaxLengthTooSmall 上限小于 MinMaxLength
var ErrMaxLengthTooSmall = xerrors.New("chunker: max length too small")

// Chunker 消息分段器
type Chunker struct {
	maxLength  int
	lookback   int
	breakRatio float64
}

// New 创建消息分段器
//
// maxLength 为含头部的单段长度上限（字符数，按 Unicode 字符计）。
func New(maxLength int) (*Chunker, error) {
	if maxLength < MinMaxLength {
		return nil, xerrors.Wrapf(ErrMaxLengthTooSmall, "got %d, need at least %d", maxLength, MinMaxLength)
	}
	return &Chunker{
		maxLength:  maxLength,
		lookback:   DefaultLookback,
		breakRatio: DefaultBreakRatio,
	}, nil
}

// Split 按上限切分文本
//
// 文本不超过上限时原样返回单段（不加头部）；否则返回有序分段，
// 每段以 "[Part i/N] " 开头且总长不超过上限。分段顺序即发送顺序。
func Split(text string, maxLength int) []string {
	c, err := New(maxLength)
	if err != nil {
		return []string{text}
	}
	return c.Split(text)
}

// Split 按上限切分文本
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(StripHeader(text))

	runes := []rune(text)
	if len(runes) <= c.maxLength {
		return []string{text}
	}

	// 先按头部预留切正文，段数确定后若头部更长则扩大预留重切
	reserve := headerWidth(1, 9)
	for {
		bodies := c.cut(runes, c.maxLength-reserve)
		needed := headerWidth(len(bodies), len(bodies))
		if needed <= reserve {
			return renderHeaders(bodies)
		}
		reserve = needed
	}
}

// cut 将文本切分为不超过 budget 的正文段
func (c *Chunker) cut(runes []rune, budget int) []string {
	if budget < 1 {
		budget = 1
	}

	var bodies []string
	remaining := runes

	for len(remaining) > budget {
		prefix := remaining[:budget]

		cutAt := c.sentenceBoundary(prefix)
		if cutAt < 0 {
			cutAt = c.lineBreak(prefix, budget)
		}
		if cutAt < 0 {
			// 无合适边界：在上限处硬切，不考虑词边界
			cutAt = budget
		}

		body := strings.TrimSpace(string(remaining[:cutAt]))
		if body != "" {
			bodies = append(bodies, body)
		}
		remaining = []rune(strings.TrimSpace(string(remaining[cutAt:])))
	}

	if rest := strings.TrimSpace(string(remaining)); rest != "" {
		bodies = append(bodies, rest)
	}

	return bodies
}

// sentenceBoundary 在前缀末尾的回看窗口内寻找最靠后的句子结束边界
// 返回切分位置（边界之后），找不到返回 -1
func (c *Chunker) sentenceBoundary(prefix []rune) int {
	start := len(prefix) - c.lookback
	if start < 0 {
		start = 0
	}

	for i := len(prefix) - 2; i >= start; i-- {
		// 空行边界：在第一个换行符之后切分
		if prefix[i] == '\n' && prefix[i+1] == '\n' {
			return i + 1
		}
		switch prefix[i] {
		case '.', '!', '?':
			if unicode.IsSpace(prefix[i+1]) {
				return i + 1
			}
		}
	}
	return -1
}

// lineBreak 寻找前缀内最后一个换行符
// 仅当它位于上限的 breakRatio 之后才接受，返回切分位置或 -1
func (c *Chunker) lineBreak(prefix []rune, budget int) int {
	threshold := int(float64(budget) * c.breakRatio)
	for i := len(prefix) - 1; i >= threshold; i-- {
		if prefix[i] == '\n' {
			return i + 1
		}
	}
	return -1
}

// renderHeaders 为每段正文渲染 "[Part i/N] " 头部
func renderHeaders(bodies []string) []string {
	if len(bodies) <= 1 {
		return bodies
	}

	total := len(bodies)
	chunks := make([]string, total)
	for i, body := range bodies {
		chunks[i] = fmt.Sprintf("[Part %d/%d] %s", i+1, total, body)
	}
	return chunks
}

// headerWidth 头部 "[Part i/N] " 的字符数
func headerWidth(i, n int) int {
	return len(fmt.Sprintf("[Part %d/%d] ", i, n))
}

// StripHeader 去除文本开头的分段头部（若有）
//
// 用于幂等分段：再次切分已带头部的文本前先去掉旧头部，
// 避免头部叠加。
func StripHeader(text string) string {
	return headerPattern.ReplaceAllString(text, "")
}

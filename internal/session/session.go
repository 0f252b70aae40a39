// Package session 保存按 contextId 划分的会话记忆，作为分类器的上下文。
//
// 同一 contextId 的并发轮次不做串行化，调用方需要自行保证同一会话内按顺序提交。
package session

import (
	"context"
	"strings"
	"time"
)

// DefaultWindow 是每个会话默认保留的轮次数。
const DefaultWindow = 10

// Turn 是一轮 (输入, 输出) 对。
type Turn struct {
	Input  string    `json:"input"`
	Output string    `json:"output"`
	At     time.Time `json:"at"`
}

// Store 定义会话记忆的读写接口。
type Store interface {
	// History 返回会话最近的轮次，按时间正序排列。
	History(ctx context.Context, contextID string) ([]Turn, error)
	// Append 追加一轮对话并淘汰超出窗口的最旧轮次。
	Append(ctx context.Context, contextID string, turn Turn) error
	Close() error
}

// Render 把历史渲染为分类器可读的文本。
func Render(turns []Turn) string {
	var builder strings.Builder
	for _, turn := range turns {
		builder.WriteString("user: ")
		builder.WriteString(strings.TrimSpace(turn.Input))
		builder.WriteString("\nassistant: ")
		builder.WriteString(strings.TrimSpace(turn.Output))
		builder.WriteString("\n")
	}
	return strings.TrimRight(builder.String(), "\n")
}

func normalizeWindow(window int) int {
	if window <= 0 {
		return DefaultWindow
	}
	return window
}

package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"StayRelay/internal/llm"
)

// Client 通过调用外部命令实现分类，命令从 stdin 读取 JSON 请求，向 stdout 输出分类文本。
type Client struct {
	executable string
	args       []string
	workingDir string
	timeout    time.Duration
}

// NewClient 创建外部命令分类器。
func NewClient(executable string, args []string, workingDir string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(executable) == "" {
		return nil, fmt.Errorf("未指定分类命令")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		executable: executable,
		args:       append([]string(nil), args...),
		workingDir: workingDir,
		timeout:    timeout,
	}, nil
}

// Generate 调用外部命令，并返回其标准输出。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload := map[string]any{
		"purpose":   req.Purpose,
		"history":   req.History,
		"catalog":   req.Catalog,
		"query":     req.Query,
		"timestamp": time.Now().Unix(),
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.executable, c.args...)
	if c.workingDir != "" {
		cmd.Dir = c.workingDir
	}
	cmd.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("执行分类命令失败: %v, stderr=%s", err, strings.TrimSpace(stderr.String()))
	}

	content := strings.TrimSpace(stdout.String())
	if content == "" {
		return nil, fmt.Errorf("分类命令没有输出")
	}
	return &llm.Response{Content: content}, nil
}

// ResolvePath 根据工作目录推导脚本绝对路径。
func ResolvePath(baseDir, script string) string {
	if script == "" || filepath.IsAbs(script) || baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}

var _ llm.Client = (*Client)(nil)

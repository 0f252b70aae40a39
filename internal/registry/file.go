package registry

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// File models the static agents file, e.g. configs/agents.yaml.
type File struct {
	Agents []Entry `yaml:"agents"`
}

// LoadFile parses the static agent entries. An empty path yields no entries.
func LoadFile(path string) ([]Entry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取代理配置失败: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("解析代理配置失败: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Agents))
	for _, entry := range file.Agents {
		id := strings.TrimSpace(entry.ID)
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("代理 %s 重复定义", id)
		}
		seen[id] = struct{}{}
	}
	return file.Agents, nil
}

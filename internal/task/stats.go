package task

// TaskStats 聚合了任务状态的统计信息，常用于仪表盘或健康检查。
type TaskStats struct {
	Total           int   `json:"total"`
	Created         int   `json:"created"`
	Working         int   `json:"working"`
	Completed       int   `json:"completed"`
	Failed          int   `json:"failed"`
	Dispatched      int   `json:"dispatched"`
	OldestUpdatedAt int64 `json:"oldestUpdatedAt,omitempty"`
	NewestUpdatedAt int64 `json:"newestUpdatedAt,omitempty"`
}

package task

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	xerrors "StayRelay/internal/errors"
	storagemysql "StayRelay/internal/storage/mysql"
	"StayRelay/internal/stream"
)

const taskColumns = `id, context_id, input_text, state, category, dispatched, target_id, error_code, reply, created_at, updated_at`

const (
	insertTaskSQL = `INSERT INTO tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectTaskSQL = `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	lockTaskSQL   = selectTaskSQL + ` FOR UPDATE`
	updateTaskSQL = `UPDATE tasks SET context_id = ?, input_text = ?, state = ?, category = ?, dispatched = ?,
        target_id = ?, error_code = ?, reply = ?, updated_at = ? WHERE id = ?`
	transitionTaskSQL = `UPDATE tasks SET state = ?, reply = ?, updated_at = ? WHERE id = ?`
	pruneTaskSQL      = `DELETE FROM tasks WHERE state IN ('completed', 'failed') AND updated_at < ?`
	statsTaskSQL      = `SELECT COUNT(*),
        COALESCE(SUM(state = 'created'), 0),
        COALESCE(SUM(state = 'working'), 0),
        COALESCE(SUM(state = 'completed'), 0),
        COALESCE(SUM(state = 'failed'), 0),
        COALESCE(SUM(dispatched), 0),
        COALESCE(MIN(updated_at), 0),
        COALESCE(MAX(updated_at), 0)
        FROM tasks`
)

// MySQLStore 把任务记录保存在 MySQL 的 tasks 表中，不做容量淘汰。
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewMySQLStore 使用已迁移的连接池构造任务存储。
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db, now: time.Now}
}

// Create 实现 Store 接口。
func (s *MySQLStore) Create(ctx context.Context, task *Task) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if task.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	now := s.now().UnixMilli()
	if task.CreatedAt == 0 {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if task.State == "" {
		task.State = stream.StateCreated
	}

	_, err := s.db.ExecContext(ctx, insertTaskSQL,
		task.ID, task.ContextID, task.InputText, string(task.State), task.Category, task.Dispatched,
		task.TargetID, task.ErrorCode, task.Reply, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		if storagemysql.IsDuplicateKey(err) {
			return ErrTaskConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入任务失败")
	}
	return nil
}

// Get 实现 Store 接口。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, selectTaskSQL, id))
}

// Update 在行锁内执行 mutate。ID 与创建时间不可修改。
func (s *MySQLStore) Update(ctx context.Context, id string, mutate func(*Task)) (*Task, error) {
	var updated *Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := scanTask(tx.QueryRowContext(ctx, lockTaskSQL, id))
		if err != nil {
			return err
		}
		working := cloneTask(current)
		if mutate != nil {
			mutate(working)
		}
		working.ID = current.ID
		working.CreatedAt = current.CreatedAt
		working.UpdatedAt = s.now().UnixMilli()

		if _, err := tx.ExecContext(ctx, updateTaskSQL,
			working.ContextID, working.InputText, string(working.State), working.Category, working.Dispatched,
			working.TargetID, working.ErrorCode, working.Reply, working.UpdatedAt, working.ID); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务失败")
		}
		updated = working
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Transition 实现 Store 接口。终态任务返回当前记录与 ErrTaskConflict。
func (s *MySQLStore) Transition(ctx context.Context, id string, state stream.State, reply string) (*Task, error) {
	if !IsValidState(state) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务状态: "+string(state))
	}

	var (
		result   *Task
		conflict bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := scanTask(tx.QueryRowContext(ctx, lockTaskSQL, id))
		if err != nil {
			return err
		}
		if current.State.Terminal() {
			result = current
			conflict = true
			return nil
		}
		current.State = state
		if reply != "" {
			current.Reply = reply
		}
		current.UpdatedAt = s.now().UnixMilli()
		if _, err := tx.ExecContext(ctx, transitionTaskSQL, string(current.State), current.Reply, current.UpdatedAt, current.ID); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务状态失败")
		}
		result = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	if conflict {
		return result, ErrTaskConflict
	}
	return result, nil
}

// List 实现 Store 接口，排序与内存实现一致：更新时间优先，ID 升序兜底。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Task, error) {
	opts.applyDefaults()
	where, args := buildTaskFilter(opts)

	order := "updated_at DESC"
	if opts.Order == SortByUpdatedAsc {
		order = "updated_at ASC"
	}
	query := `SELECT ` + taskColumns + ` FROM tasks` + where + ` ORDER BY ` + order + `, id ASC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	defer rows.Close()

	results := make([]*Task, 0, opts.Limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, task)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	return results, nil
}

// Stats 实现 Store 接口。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (TaskStats, error) {
	opts.applyDefaults()
	where, args := buildTaskFilter(opts)

	var stats TaskStats
	err := s.db.QueryRowContext(ctx, statsTaskSQL+where, args...).Scan(
		&stats.Total, &stats.Created, &stats.Working, &stats.Completed, &stats.Failed,
		&stats.Dispatched, &stats.OldestUpdatedAt, &stats.NewestUpdatedAt)
	if err != nil {
		return TaskStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计任务失败")
	}
	return stats, nil
}

// Prune 删除更新时间早于 before（毫秒）的终态任务，返回删除条数。
func (s *MySQLStore) Prune(ctx context.Context, before int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, pruneTaskSQL, before)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "清理任务失败")
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取清理结果失败")
	}
	return removed, nil
}

// Close 关闭连接池。
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func (s *MySQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

// buildTaskFilter 把过滤条件转换为 WHERE 子句，空条件返回空串。
func buildTaskFilter(opts ListOptions) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	if len(opts.States) > 0 {
		placeholders := make([]string, len(opts.States))
		for i, state := range opts.States {
			placeholders[i] = "?"
			args = append(args, string(state))
		}
		conditions = append(conditions, "state IN ("+strings.Join(placeholders, ", ")+")")
	}
	if opts.ContextID != "" {
		conditions = append(conditions, "context_id = ?")
		args = append(args, opts.ContextID)
	}
	if opts.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, opts.Category)
	}
	if opts.Dispatched != nil {
		conditions = append(conditions, "dispatched = ?")
		args = append(args, *opts.Dispatched)
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(LOWER(input_text) LIKE ? OR LOWER(reply) LIKE ?)")
		args = append(args, pattern, pattern)
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task  Task
		state string
	)
	err := row.Scan(&task.ID, &task.ContextID, &task.InputText, &state, &task.Category, &task.Dispatched,
		&task.TargetID, &task.ErrorCode, &task.Reply, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取任务失败")
	}
	task.State = stream.State(state)
	return &task, nil
}

var _ Store = (*MySQLStore)(nil)

package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	xerrors "StayRelay/internal/errors"
	storagemysql "StayRelay/internal/storage/mysql"
)

// MySQLConfig 描述目录库的连接参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// AutoMigrate 为 true 时启动阶段执行内嵌迁移。
	AutoMigrate bool
}

const hotelColumns = `namespace, id, name, city, country, stars, price_per_night, currency, tags, description, wallet_address`

const insertHotelSQL = `INSERT INTO hotels
    (` + hotelColumns + `)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// MySQLStore 使用 MySQL 保存酒店目录。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 建立连接池，AutoMigrate 为 true 时先执行内嵌迁移。
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	db, err := storagemysql.Open(ctx, storagemysql.Config{
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, xerrors.Wrap(CodeCatalogFailure, err, "连接目录库失败")
	}
	if cfg.AutoMigrate {
		if err := storagemysql.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, xerrors.Wrap(CodeCatalogFailure, err, "初始化目录表失败")
		}
	}
	return NewMySQLStoreWithDB(db), nil
}

// NewMySQLStoreWithDB 使用已有连接池构造目录，调用方负责迁移。
func NewMySQLStoreWithDB(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// Search 把可下推的条件转换为 SQL，标签条件在内存中过滤。
func (s *MySQLStore) Search(ctx context.Context, params *SearchParams, limit int) ([]Hotel, error) {
	limit = normalizeLimit(limit)
	query, args := buildSearchQuery(params)

	hotels, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	results := make([]Hotel, 0, min(limit, len(hotels)))
	for _, hotel := range MergeByID(hotels) {
		if params != nil && len(params.Tags) > 0 && !Matches(hotel, &SearchParams{Tags: params.Tags}) {
			continue
		}
		results = append(results, hotel)
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// Ingest 在一个事务中替换命名空间下的全部酒店。
func (s *MySQLStore) Ingest(ctx context.Context, namespace string, hotels []Hotel) (err error) {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if err = validateHotels(hotels); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(CodeCatalogFailure, err, "开启事务失败")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM hotels WHERE namespace = ?`, namespace); err != nil {
		return xerrors.Wrap(CodeCatalogFailure, err, "清理命名空间失败")
	}
	for _, hotel := range normalizeHotels(namespace, hotels) {
		tags, marshalErr := json.Marshal(hotel.Tags)
		if marshalErr != nil {
			err = marshalErr
			return xerrors.Wrap(CodeCatalogFailure, err, "序列化标签失败")
		}
		if _, err = tx.ExecContext(ctx, insertHotelSQL,
			hotel.Namespace,
			hotel.ID,
			hotel.Name,
			hotel.City,
			hotel.Country,
			int64(hotel.Stars),
			hotel.PricePerNight,
			hotel.Currency,
			string(tags),
			hotel.Description,
			hotel.WalletAddress,
		); err != nil {
			return xerrors.Wrap(CodeCatalogFailure, err, "写入酒店失败")
		}
	}
	if err = tx.Commit(); err != nil {
		return xerrors.Wrap(CodeCatalogFailure, err, "提交事务失败")
	}
	return nil
}

// Namespace 返回命名空间内的酒店。
func (s *MySQLStore) Namespace(ctx context.Context, namespace string) ([]Hotel, error) {
	return s.query(ctx, `SELECT `+hotelColumns+` FROM hotels WHERE namespace = ? ORDER BY name, id`, strings.TrimSpace(namespace))
}

// All 返回全部酒店。
func (s *MySQLStore) All(ctx context.Context) ([]Hotel, error) {
	hotels, err := s.query(ctx, `SELECT `+hotelColumns+` FROM hotels ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	return MergeByID(hotels), nil
}

// Close 关闭连接池。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *MySQLStore) query(ctx context.Context, query string, args ...any) ([]Hotel, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(CodeCatalogFailure, err, "查询酒店失败")
	}
	defer rows.Close()

	var hotels []Hotel
	for rows.Next() {
		var (
			hotel Hotel
			stars int64
			tags  string
		)
		if err := rows.Scan(
			&hotel.Namespace,
			&hotel.ID,
			&hotel.Name,
			&hotel.City,
			&hotel.Country,
			&stars,
			&hotel.PricePerNight,
			&hotel.Currency,
			&tags,
			&hotel.Description,
			&hotel.WalletAddress,
		); err != nil {
			return nil, xerrors.Wrap(CodeCatalogFailure, err, "解析酒店记录失败")
		}
		hotel.Stars = int(stars)
		if strings.TrimSpace(tags) != "" {
			if err := json.Unmarshal([]byte(tags), &hotel.Tags); err != nil {
				return nil, xerrors.Wrap(CodeCatalogFailure, err, "解析酒店标签失败")
			}
		}
		hotels = append(hotels, hotel)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(CodeCatalogFailure, err, "遍历酒店记录失败")
	}
	return hotels, nil
}

func buildSearchQuery(params *SearchParams) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if params != nil {
		if name := strings.TrimSpace(params.Name); name != "" {
			clauses = append(clauses, "LOWER(name) LIKE ?")
			args = append(args, "%"+strings.ToLower(name)+"%")
		}
		if city := strings.TrimSpace(params.City); city != "" {
			clauses = append(clauses, "LOWER(city) = ?")
			args = append(args, strings.ToLower(city))
		}
		if country := strings.TrimSpace(params.Country); country != "" {
			clauses = append(clauses, "LOWER(country) = ?")
			args = append(args, strings.ToLower(country))
		}
		if params.MinStars > 0 {
			clauses = append(clauses, "stars >= ?")
			args = append(args, int64(params.MinStars))
		}
		if params.MaxPrice > 0 {
			clauses = append(clauses, "price_per_night <= ?")
			args = append(args, params.MaxPrice)
		}
	}

	query := `SELECT ` + hotelColumns + ` FROM hotels`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	return query + ` ORDER BY name, id`, args
}

var _ Store = (*MySQLStore)(nil)

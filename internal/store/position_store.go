package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config 断点续播存储配置
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Host:    "localhost",
		Port:    5432,
		User:    "postgres",
		DBName:  "postgres",
		SSLMode: "disable",
	}
}

// ResumePosition 观看者在某个回放上最后停留的位置
type ResumePosition struct {
	ReplayID  string    `json:"replay_id"`
	ViewerID  string    `json:"viewer_id"`
	OffsetMs  int64     `json:"offset_ms"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PositionStore 基于PostgreSQL的断点续播存储
// 重新打开会话时从上次停留的偏移继续播放
type PositionStore struct {
	pool *pgxpool.Pool
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS replay_positions (
	replay_id  TEXT NOT NULL,
	viewer_id  TEXT NOT NULL,
	offset_ms  BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (replay_id, viewer_id)
)`

// Connect 建立连接池并确保表结构存在
func Connect(ctx context.Context, config *Config) (*PositionStore, error) {
	if config == nil {
		config = DefaultConfig()
	}

	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		config.User, config.Password, config.Host, config.Port, config.DBName, config.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// 连接池参数
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	log.Println("✅ 断点续播存储已连接")
	return &PositionStore{pool: pool}, nil
}

// SavePosition 保存观看位置（upsert）
func (s *PositionStore) SavePosition(ctx context.Context, replayID, viewerID string, offsetMs int64) error {
	if replayID == "" || viewerID == "" {
		return fmt.Errorf("replay_id and viewer_id are required")
	}
	if offsetMs < 0 {
		offsetMs = 0
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO replay_positions (replay_id, viewer_id, offset_ms, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (replay_id, viewer_id)
		DO UPDATE SET offset_ms = EXCLUDED.offset_ms, updated_at = now()`,
		replayID, viewerID, offsetMs,
	)
	if err != nil {
		return fmt.Errorf("save position failed: %w", err)
	}
	return nil
}

// LoadPosition 读取观看位置，不存在时返回found=false
func (s *PositionStore) LoadPosition(ctx context.Context, replayID, viewerID string) (int64, bool, error) {
	var offsetMs int64
	err := s.pool.QueryRow(ctx, `
		SELECT offset_ms FROM replay_positions
		WHERE replay_id = $1 AND viewer_id = $2`,
		replayID, viewerID,
	).Scan(&offsetMs)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load position failed: %w", err)
	}
	return offsetMs, true, nil
}

// ListRecent 列出观看者最近观看的回放
func (s *PositionStore) ListRecent(ctx context.Context, viewerID string, limit int) ([]ResumePosition, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, `
		SELECT replay_id, viewer_id, offset_ms, updated_at
		FROM replay_positions
		WHERE viewer_id = $1
		ORDER BY updated_at DESC
		LIMIT $2`,
		viewerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent positions failed: %w", err)
	}
	defer rows.Close()

	var positions []ResumePosition
	for rows.Next() {
		var p ResumePosition
		if err := rows.Scan(&p.ReplayID, &p.ViewerID, &p.OffsetMs, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position failed: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Close 关闭连接池
func (s *PositionStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

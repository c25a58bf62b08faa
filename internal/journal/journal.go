// Package journal 把回合流水落到本地 SQLite：订单、成交、被抑制的动作、回合结果。
//
// 所有写入都是尽力而为：失败只记日志，绝不反过来卡住交易路径。
// 库文件可以随时删掉，交易状态的唯一事实在交易所。
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/betbot/bucketmm/internal/domain"
	"github.com/betbot/bucketmm/internal/outcome"
)

var log = logrus.WithField("component", "journal")

// writeTimeout 单次写入上限；RoundRecorder 的接口不带 ctx，超时在这里兜
const writeTimeout = 3 * time.Second

// Journal SQLite 流水库
type Journal struct {
	db *sql.DB
}

// Open 打开（或创建）流水库并完成建表
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal 路径为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "创建 journal 目录")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "打开 sqlite")
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`
CREATE TABLE IF NOT EXISTS orders (
  client_id TEXT PRIMARY KEY,
  exchange_id TEXT,
  bucket_ts INTEGER NOT NULL,
  slug TEXT,
  leg TEXT,
  side TEXT,
  price REAL,
  size REAL,
  purpose TEXT,
  status TEXT,
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_bucket ON orders(bucket_ts);`,
		`
CREATE TABLE IF NOT EXISTS fills (
  id TEXT PRIMARY KEY,
  bucket_ts INTEGER NOT NULL,
  trade_id TEXT,
  order_id TEXT,
  leg TEXT,
  side TEXT,
  price REAL,
  size REAL,
  status TEXT,
  at TEXT,
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_fills_bucket ON fills(bucket_ts);`,
		`
CREATE TABLE IF NOT EXISTS suppressions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  bucket_ts INTEGER NOT NULL,
  kind TEXT NOT NULL,
  detail TEXT,
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_suppressions_bucket ON suppressions(bucket_ts);`,
		`
CREATE TABLE IF NOT EXISTS rounds (
  bucket_ts INTEGER PRIMARY KEY,
  slug TEXT NOT NULL,
  leg TEXT,
  result TEXT NOT NULL,
  entry_price REAL,
  entry_size REAL,
  exit_price REAL,
  exit_size REAL,
  cash_delta_usd REAL,
  dust_size REAL,
  dust_avg_price REAL,
  late_reentries INTEGER,
  suppressions_json TEXT,
  halt_reason TEXT,
  started_at TEXT,
  ended_at TEXT,
  created_at TEXT NOT NULL
);`,
	}
	for _, q := range stmts {
		if _, err := j.db.ExecContext(ctx, q); err != nil {
			return errors.Wrap(err, "journal 建表")
		}
	}
	return nil
}

// RecordOrder 登记一张提交成功的订单（按 client_id 幂等）
func (j *Journal) RecordOrder(bucketTS int64, o domain.Order) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err := j.db.ExecContext(ctx, `
INSERT OR REPLACE INTO orders (client_id, exchange_id, bucket_ts, slug, leg, side, price, size, purpose, status, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
`, o.ClientID, o.ExchangeID, bucketTS, o.MarketSlug, string(o.Leg), string(o.Side),
		o.Price.ToDecimal(), o.Size, string(o.Purpose), string(o.Status),
		time.Now().Format(time.RFC3339Nano))
	if err != nil {
		log.WithError(err).WithField("order", o.ExchangeID).Warn("订单流水写入失败")
	}
}

// RecordFill 登记一笔成交；同一 ID 的状态推进直接覆盖旧行
func (j *Journal) RecordFill(bucketTS int64, f domain.FillEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var at string
	if !f.At.IsZero() {
		at = f.At.Format(time.RFC3339Nano)
	}
	_, err := j.db.ExecContext(ctx, `
INSERT OR REPLACE INTO fills (id, bucket_ts, trade_id, order_id, leg, side, price, size, status, at, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
`, f.ID, bucketTS, f.TradeID, f.OrderID, string(f.Leg), string(f.Side),
		f.Price.ToDecimal(), f.Size, string(f.Status), at,
		time.Now().Format(time.RFC3339Nano))
	if err != nil {
		log.WithError(err).WithField("fill", f.ID).Warn("成交流水写入失败")
	}
}

// RecordSuppression 登记一次被拦下的动作
func (j *Journal) RecordSuppression(bucketTS int64, kind, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err := j.db.ExecContext(ctx, `
INSERT INTO suppressions (bucket_ts, kind, detail, created_at)
VALUES (?,?,?,?)
`, bucketTS, kind, detail, time.Now().Format(time.RFC3339Nano))
	if err != nil {
		log.WithError(err).WithField("kind", kind).Warn("抑制流水写入失败")
	}
}

// Report 落一条回合结果（实现 outcome.Sink；按 bucket_ts 幂等）
func (j *Journal) Report(ctx context.Context, rec outcome.Record) error {
	supJSON := ""
	if len(rec.Suppressions) > 0 {
		if b, err := json.Marshal(rec.Suppressions); err == nil {
			supJSON = string(b)
		}
	}
	_, err := j.db.ExecContext(ctx, `
INSERT OR REPLACE INTO rounds (bucket_ts, slug, leg, result, entry_price, entry_size, exit_price, exit_size,
  cash_delta_usd, dust_size, dust_avg_price, late_reentries, suppressions_json, halt_reason,
  started_at, ended_at, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`, rec.BucketTS, rec.Slug, rec.Leg, rec.Result, rec.EntryPrice, rec.EntrySize, rec.ExitPrice, rec.ExitSize,
		rec.CashDeltaUSD, rec.DustCarrySize, rec.DustCarryAvgPrice, rec.LateReentries, supJSON, rec.HaltReason,
		rec.StartedAt.Format(time.RFC3339Nano), rec.EndedAt.Format(time.RFC3339Nano),
		time.Now().Format(time.RFC3339Nano))
	return errors.Wrap(err, "回合结果写入失败")
}

// RecentRounds 按时间倒序取最近的回合结果
func (j *Journal) RecentRounds(ctx context.Context, limit int) ([]outcome.Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT bucket_ts, slug, leg, result, entry_price, entry_size, exit_price, exit_size,
  cash_delta_usd, dust_size, dust_avg_price, late_reentries, suppressions_json, halt_reason,
  started_at, ended_at
FROM rounds
ORDER BY bucket_ts DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "查询回合结果")
	}
	defer rows.Close()

	var out []outcome.Record
	for rows.Next() {
		var rec outcome.Record
		var supJSON, startedAt, endedAt sql.NullString
		var leg, haltReason sql.NullString
		if err := rows.Scan(&rec.BucketTS, &rec.Slug, &leg, &rec.Result,
			&rec.EntryPrice, &rec.EntrySize, &rec.ExitPrice, &rec.ExitSize,
			&rec.CashDeltaUSD, &rec.DustCarrySize, &rec.DustCarryAvgPrice, &rec.LateReentries,
			&supJSON, &haltReason, &startedAt, &endedAt); err != nil {
			return nil, errors.Wrap(err, "扫描回合结果")
		}
		rec.Leg = leg.String
		rec.HaltReason = haltReason.String
		if supJSON.String != "" {
			_ = json.Unmarshal([]byte(supJSON.String), &rec.Suppressions)
		}
		if t, err := time.Parse(time.RFC3339Nano, startedAt.String); err == nil {
			rec.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, endedAt.String); err == nil {
			rec.EndedAt = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SuppressionTotals 某个桶里各类抑制动作的次数（调试用）
func (j *Journal) SuppressionTotals(ctx context.Context, bucketTS int64) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT kind, COUNT(*) FROM suppressions WHERE bucket_ts=? GROUP BY kind
`, bucketTS)
	if err != nil {
		return nil, errors.Wrap(err, "查询抑制流水")
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, errors.Wrap(err, "扫描抑制流水")
		}
		out[kind] = n
	}
	return out, rows.Err()
}

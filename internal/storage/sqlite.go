// Package storage 持久化抓取结果: SQLite数据库与JSONL导出
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/RecoveryAshes/GroupHarvest/internal/models"
)

//go:embed schema.sql
var Schema string

// ScrapeResult 一次入库的汇总
type ScrapeResult struct {
	Scraped int `json:"scraped"` // 收到的帖子数
	Added   int `json:"added"`   // 新增的帖子数
}

func (r ScrapeResult) String() string {
	return fmt.Sprintf("抓取 %d 条, 新增 %d 条", r.Scraped, r.Added)
}

// SQLiteStore 帖子存储
// SQLite只允许单写,连接数固定为1
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite 打开数据库并建表, path 可为 ":memory:"
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("创建数据库目录失败: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("启用外键失败: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}
	log.Debug().Str("path", path).Msg("数据库已就绪")
	return &SQLiteStore{db: db}, nil
}

// Close 关闭数据库
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GroupID 按URL查找群组,不存在时创建
func (s *SQLiteStore) GroupID(ctx context.Context, groupURL, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, "SELECT group_id FROM feed_groups WHERE group_url = ?", groupURL).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("查询群组失败: %w", err)
	}

	if name == "" {
		name = "Group from " + groupURL
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO feed_groups (group_url, group_name, created_at) VALUES (?, ?, ?)",
		groupURL, name, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("创建群组失败: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, err
	}
	log.Info().Str("group", groupURL).Int64("id", id).Msg("新建群组记录")
	return id, nil
}

// AddPost 写入帖子及其评论,帖子已存在时返回 added=false
// ID或URL重复都视为已存在
func (s *SQLiteStore) AddPost(ctx context.Context, groupID int64, post models.PostRecord) (added bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO posts (
			group_id, external_id, post_url, content_text, author_name,
			author_profile_pic_url, image_url, posted_at, raw_timestamp, generated_id, scraped_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		groupID,
		post.ExternalID,
		nullString(post.CanonicalURL),
		post.Text,
		post.AuthorName,
		nullString(post.AuthorProfilePicURL),
		nullString(post.ImageURL),
		unixOrNull(post.PostedAt),
		nullString(post.RawTimestamp),
		post.GeneratedID,
		post.ScrapedAt.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("写入帖子失败 [%s]: %w", post.ExternalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		log.Debug().Str("id", post.ExternalID).Msg("帖子已存在,忽略")
		return false, nil
	}
	postID, err := res.LastInsertId()
	if err != nil {
		return false, err
	}

	for _, c := range post.Comments {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO comments (
				internal_post_id, external_id, author_name, author_profile_pic_url,
				comment_text, posted_at, scraped_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			postID,
			nullString(c.ExternalID),
			nullString(c.AuthorName),
			nullString(c.AuthorProfilePicURL),
			c.Text,
			unixOrNull(c.PostedAt),
			post.ScrapedAt.Unix(),
		); err != nil {
			return false, fmt.Errorf("写入评论失败 [%s]: %w", post.ExternalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// GroupWriter 逐条写入同一群组的帖子并累计结果
type GroupWriter struct {
	store   *SQLiteStore
	groupID int64
	result  ScrapeResult
}

// ForGroup 查找或创建群组,返回该群组的写入器
func (s *SQLiteStore) ForGroup(ctx context.Context, groupURL string) (*GroupWriter, error) {
	groupID, err := s.GroupID(ctx, groupURL, "")
	if err != nil {
		return nil, err
	}
	return &GroupWriter{store: s, groupID: groupID}, nil
}

// Add 写入一条帖子,写入失败的帖子只计入 Scraped
func (w *GroupWriter) Add(ctx context.Context, post models.PostRecord) (bool, error) {
	w.result.Scraped++
	added, err := w.store.AddPost(ctx, w.groupID, post)
	if err != nil {
		return false, fmt.Errorf("保存帖子 %s 失败: %w", post.ExternalID, err)
	}
	if added {
		w.result.Added++
	}
	return added, nil
}

// Result 目前为止的写入结果
func (w *GroupWriter) Result() ScrapeResult {
	return w.result
}

// CountPosts 群组下的帖子数, groupURL为空时统计全部
func (s *SQLiteStore) CountPosts(ctx context.Context, groupURL string) (int, error) {
	var n int
	var err error
	if groupURL == "" {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM posts").Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM posts p JOIN feed_groups g ON g.group_id = p.group_id
			WHERE g.group_url = ?`, groupURL).Scan(&n)
	}
	return n, err
}

// CountComments 某帖子的评论数
func (s *SQLiteStore) CountComments(ctx context.Context, externalID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM comments c JOIN posts p ON p.internal_post_id = c.internal_post_id
		WHERE p.external_id = ?`, externalID).Scan(&n)
	return n, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func unixOrNull(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

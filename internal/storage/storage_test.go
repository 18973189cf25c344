package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/RecoveryAshes/GroupHarvest/internal/models"
)

const groupURL = "https://www.facebook.com/groups/123456/"

func openMemory(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func post(id, url string) models.PostRecord {
	posted := time.Date(2025, 3, 10, 13, 30, 0, 0, time.UTC)
	return models.PostRecord{
		ExternalID:   id,
		CanonicalURL: url,
		Text:         "text " + id,
		AuthorName:   "Alice",
		PostedAt:     &posted,
		ScrapedAt:    time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC),
		Comments: []models.CommentRecord{
			{ExternalID: "c1", AuthorName: "Bob", Text: "first"},
			{ExternalID: "c2", Text: "second"},
		},
	}
}

func TestSQLiteStore_GroupID(t *testing.T) {
	store := openMemory(t)
	ctx := context.Background()

	first, err := store.GroupID(ctx, groupURL, "")
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.GroupID(ctx, groupURL, "ignored")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("同一URL应得到同一群组: %d != %d", first, second)
	}
	other, err := store.GroupID(ctx, "https://www.facebook.com/groups/999/", "")
	if err != nil {
		t.Fatal(err)
	}
	if other == first {
		t.Error("不同URL应创建不同群组")
	}
}

func savePosts(t *testing.T, store *SQLiteStore, posts ...models.PostRecord) ScrapeResult {
	t.Helper()
	ctx := context.Background()
	w, err := store.ForGroup(ctx, groupURL)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range posts {
		if _, err := w.Add(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	return w.Result()
}

func TestGroupWriter_Add(t *testing.T) {
	tests := []struct {
		name      string
		posts     []models.PostRecord
		wantAdded int
		wantTotal int
	}{
		{
			name:      "全部新增",
			posts:     []models.PostRecord{post("1", groupURL+"posts/1/"), post("2", groupURL+"posts/2/")},
			wantAdded: 2,
			wantTotal: 2,
		},
		{
			name:      "ID重复被忽略",
			posts:     []models.PostRecord{post("1", groupURL+"posts/1/"), post("1", groupURL+"posts/1/")},
			wantAdded: 1,
			wantTotal: 1,
		},
		{
			name:      "URL重复被忽略",
			posts:     []models.PostRecord{post("1", groupURL+"posts/1/"), post("1b", groupURL+"posts/1/")},
			wantAdded: 1,
			wantTotal: 1,
		},
		{
			name:      "没有URL的帖子不互相冲突",
			posts:     []models.PostRecord{post("gen_a", ""), post("gen_b", "")},
			wantAdded: 2,
			wantTotal: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := openMemory(t)
			ctx := context.Background()

			got := savePosts(t, store, tt.posts...)
			want := ScrapeResult{Scraped: len(tt.posts), Added: tt.wantAdded}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("结果不一致 (-want +got):\n%s", diff)
			}
			total, err := store.CountPosts(ctx, groupURL)
			if err != nil {
				t.Fatal(err)
			}
			if total != tt.wantTotal {
				t.Errorf("帖子总数 = %d, 期望 %d", total, tt.wantTotal)
			}
		})
	}
}

func TestSQLiteStore_Comments(t *testing.T) {
	store := openMemory(t)
	ctx := context.Background()

	savePosts(t, store, post("1", ""))
	// 再次写入同一帖子不会重复插入评论
	if got := savePosts(t, store, post("1", "")); got.Added != 0 {
		t.Errorf("重复写入 Added = %d", got.Added)
	}
	n, err := store.CountComments(ctx, "1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("评论数 = %d, 期望 2", n)
	}
}

func TestJSONLWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "posts.jsonl")

	w, err := NewJSONLWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	posts := []models.PostRecord{post("1", groupURL+"posts/1/"), post("2", "")}
	for _, p := range posts {
		if err := w.Write(p); err != nil {
			t.Fatal(err)
		}
	}
	if w.Count() != 2 {
		t.Errorf("Count() = %d", w.Count())
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	// 追加写入
	w, err = NewJSONLWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(post("3", "")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := ReadJSONL(path)
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, 0, len(got))
	for _, p := range got {
		ids = append(ids, p.ExternalID)
	}
	if diff := cmp.Diff([]string{"1", "2", "3"}, ids); diff != "" {
		t.Errorf("记录不一致 (-want +got):\n%s", diff)
	}
	if got[0].PostedAt == nil || !got[0].PostedAt.Equal(*posts[0].PostedAt) {
		t.Errorf("发布时间未保留: %v", got[0].PostedAt)
	}
}

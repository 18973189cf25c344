package selectors

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNew_DefaultsSeeded(t *testing.T) {
	r := New("")

	for _, elementType := range ElementTypes() {
		if len(r.Candidates(elementType)) == 0 {
			t.Errorf("元素类型 %s 没有默认选择器", elementType)
		}
	}

	got := r.Candidates(Content)
	got[0] = "mutated"
	if r.Candidates(Content)[0] == "mutated" {
		t.Error("Candidates 应返回副本")
	}
}

func TestRecordSuccess(t *testing.T) {
	tests := []struct {
		name        string
		elementType string
		expr        string
		wantAdded   bool
		wantErr     bool
	}{
		{"新选择器", Article, `div.x1yztbdb.x1n2onr6`, true, false},
		{"已存在的默认选择器", Article, `div[role="article"]`, false, false},
		{"未知元素类型", "likes", `span.like`, false, true},
		{"空选择器", Content, "  ", false, true},
		{"语法错误", Content, `div[data-x="1"`, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New("")
			added, err := r.RecordSuccess(tt.elementType, tt.expr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("RecordSuccess() error = %v, wantErr %v", err, tt.wantErr)
			}
			if added != tt.wantAdded {
				t.Errorf("RecordSuccess() added = %v, want %v", added, tt.wantAdded)
			}
		})
	}
}

func TestLearnedPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "learned_selectors.json")

	r := New(path)
	if _, err := r.RecordSuccess(Article, `div.x1yztbdb`); err != nil {
		t.Fatalf("RecordSuccess() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("学习文件未写入: %v", err)
	}

	fresh := New(path)
	fresh.Load()

	want := append(Defaults(Article), `div.x1yztbdb`)
	if diff := cmp.Diff(want, fresh.Candidates(Article)); diff != "" {
		t.Errorf("重新加载后的候选顺序不正确 (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(map[string][]string{Article: {`div.x1yztbdb`}}, fresh.Learned()); diff != "" {
		t.Errorf("Learned() 只应包含默认之外的选择器 (-want +got):\n%s", diff)
	}
}

func TestLoad_CorruptOrMissing(t *testing.T) {
	dir := t.TempDir()

	t.Run("文件缺失", func(t *testing.T) {
		r := New(filepath.Join(dir, "missing.json"))
		r.Load()
		if diff := cmp.Diff(Defaults(Author), r.Candidates(Author)); diff != "" {
			t.Errorf("缺失文件应保持默认值:\n%s", diff)
		}
	})

	t.Run("文件损坏", func(t *testing.T) {
		path := filepath.Join(dir, "corrupt.json")
		if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
			t.Fatal(err)
		}
		r := New(path)
		r.Load()
		if diff := cmp.Diff(Defaults(Author), r.Candidates(Author)); diff != "" {
			t.Errorf("损坏文件应保持默认值:\n%s", diff)
		}
	})

	t.Run("未知类型与重复项被忽略", func(t *testing.T) {
		path := filepath.Join(dir, "mixed.json")
		content := `{"unknown_type":["div.a"],"content":["div[dir=\"auto\"]","div.learned"]}`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		r := New(path)
		r.Load()
		want := append(Defaults(Content), "div.learned")
		if diff := cmp.Diff(want, r.Candidates(Content)); diff != "" {
			t.Errorf("合并结果不正确:\n%s", diff)
		}
		if len(r.Candidates("unknown_type")) != 0 {
			t.Error("未知类型不应被加载")
		}
	})
}

func TestRecordFailure(t *testing.T) {
	r := New("")
	r.RecordFailure(Content, `div[data-ad-preview="message"]`)
	r.RecordFailure(Content, `div[data-ad-preview="message"]`)
	r.RecordFailure(Author, `h2 strong a`)

	failures := r.Failures()
	if failures[Content][`div[data-ad-preview="message"]`] != 2 {
		t.Errorf("失败计数不正确: %v", failures)
	}
	if len(r.Candidates(Content)) != len(Defaults(Content)) {
		t.Error("RecordFailure 不应删除选择器")
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "learned.json"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = r.Candidates(Content)
				_ = r.Joined(Article)
			}
		}()
		go func(i int) {
			defer wg.Done()
			_, _ = r.RecordSuccess(Article, `div.learned`+string(rune('a'+i)))
		}(i)
	}
	wg.Wait()

	if got := len(r.Learned()[Article]); got != 8 {
		t.Errorf("期望学到8个选择器, 实际 %d", got)
	}

	fresh := New(r.Path())
	fresh.Load()
	if got := len(fresh.Learned()[Article]); got != 8 {
		t.Errorf("持久化后期望8个选择器, 实际 %d", got)
	}
}

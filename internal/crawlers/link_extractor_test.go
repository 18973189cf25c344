package crawlers

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLinkExtractor(t *testing.T) {
	html := `<html><body>
		<a href="/groups/123456/posts/1/">relative</a>
		<a href="https://www.facebook.com/groups/123456/posts/1/">dup</a>
		<a href="https://www.facebook.com/groups/123456/posts/1/?comment_id=9">comment</a>
		<a href="/user/42/">author</a>
		<a href="#top">anchor</a>
		<a href="javascript:void(0)">js</a>
		<a href="mailto:a@b.c">mail</a>
		<a href="https://www.facebook.com/permalink.php?story_fbid=55&id=1">permalink</a>
	</body></html>`

	extractor, err := NewLinkExtractor("https://www.facebook.com/groups/123456/")
	if err != nil {
		t.Fatal(err)
	}

	t.Run("提取全部绝对链接", func(t *testing.T) {
		links, err := extractor.ExtractFromHTML(html)
		if err != nil {
			t.Fatal(err)
		}
		want := []string{
			"https://www.facebook.com/groups/123456/posts/1/",
			"https://www.facebook.com/groups/123456/posts/1/?comment_id=9",
			"https://www.facebook.com/user/42/",
			"https://www.facebook.com/permalink.php?story_fbid=55&id=1",
		}
		if diff := cmp.Diff(want, links); diff != "" {
			t.Errorf("链接不一致 (-want +got):\n%s", diff)
		}
	})

	t.Run("只保留帖子链接", func(t *testing.T) {
		links, err := extractor.PostLinks(html)
		if err != nil {
			t.Fatal(err)
		}
		want := []string{
			"https://www.facebook.com/groups/123456/posts/1/",
			"https://www.facebook.com/permalink.php?story_fbid=55&id=1",
		}
		if diff := cmp.Diff(want, links); diff != "" {
			t.Errorf("链接不一致 (-want +got):\n%s", diff)
		}
	})
}

package browser

// RawComment 页面脚本提取出的评论
type RawComment struct {
	ID           string `json:"id"`
	Author       string `json:"author"`
	AuthorPic    string `json:"author_pic"`
	Text         string `json:"text"`
	RawTimestamp string `json:"raw_timestamp"`
}

// RawPost 页面脚本提取出的帖子字段
type RawPost struct {
	Key             string       `json:"key"`
	Fresh           bool         `json:"fresh"`
	Pending         bool         `json:"pending"`
	Text            string       `json:"text"`
	Author          string       `json:"author"`
	AuthorPic       string       `json:"author_pic"`
	Image           string       `json:"image"`
	RawTimestamp    string       `json:"raw_timestamp"`
	Hrefs           []string     `json:"hrefs"`
	Comments        []RawComment `json:"comments"`
	Missing         []string     `json:"missing"`
	ContentSelector string       `json:"content_selector"`
	AuthorSelector  string       `json:"author_selector"`
}

// CapturedArticle 并发引擎抓取的文章原始HTML
type CapturedArticle struct {
	Key   string   `json:"key"`
	Fresh bool     `json:"fresh"`
	HTML  string   `json:"html"`
	Hrefs []string `json:"hrefs"`

	// Pending 文字还未加载的骨架文章,下个周期重新抓取
	Pending bool `json:"pending,omitempty"`
}

// ClickResult 点击结果
type ClickResult struct {
	Selector string `json:"selector"`
	Mode     string `json:"mode"`
}

// StorageSnapshot 某个源的localStorage
type StorageSnapshot struct {
	Origin string            `json:"origin"`
	Items  map[string]string `json:"items"`
}

// FeedStats 诊断用的页面状态
type FeedStats struct {
	Articles     int  `json:"articles"`
	FeedPresent  bool `json:"feed_present"`
	ScrollY      int  `json:"scroll_y"`
	ScrollHeight int  `json:"scroll_height"`
}

// ScrollResult 滚动后的位置
type ScrollResult struct {
	Y      int `json:"y"`
	Height int `json:"height"`
}

// ExtractConfig 提取脚本的选择器配置
type ExtractConfig struct {
	Article          []string `json:"article"`
	FeedContainer    []string `json:"feed_container"`
	Content          []string `json:"content"`
	Author           []string `json:"author"`
	AuthorPic        []string `json:"author_pic"`
	Timestamp        []string `json:"timestamp"`
	Permalink        []string `json:"permalink"`
	PostImage        []string `json:"post_image"`
	CommentContainer []string `json:"comment_container"`
	CommentText      []string `json:"comment_text"`
	CommentAuthor    []string `json:"comment_author"`
	CommentID        []string `json:"comment_id"`
	SeeMore          []string `json:"see_more"`
	WithComments     bool     `json:"with_comments"`
	MaxComments      int      `json:"max_comments,omitempty"`
	MaxTries         int      `json:"max_tries,omitempty"`
	MinContentLength int      `json:"min_content_length,omitempty"`
	Max              int      `json:"max,omitempty"`
	ExpandWaitMs     int      `json:"expand_wait_ms,omitempty"`
}

package selectors

// 元素类型
const (
	Article          = "article"
	Content          = "content"
	Author           = "author"
	AuthorPic        = "author_pic"
	Timestamp        = "timestamp"
	Permalink        = "permalink"
	PostImage        = "post_image"
	CommentContainer = "comment_container"
	CommentText      = "comment_text"
	CommentID        = "comment_id"
	CommentAuthor    = "comment_author"
	SeeMore          = "see_more"
	FeedContainer    = "feed_container"
	DismissButton    = "dismiss_button"
	CloseButton      = "close_button"
	Overlay          = "overlay"
	ViewMoreComments = "view_more_comments"
	ProfileMarker    = "profile_marker"
	LoginForm        = "login_form"
)

// 按钮类元素(see_more / view_more_comments)只列出容器选择器,
// 文本匹配在页面脚本中完成,浏览器原生querySelector不支持 :contains
var defaultSelectors = map[string][]string{
	Article: {
		`[data-pagelet^="FeedUnit"]`,
		`div[aria-posinset]`,
		`div:has(> div > div > [data-ad-rendering-role="story_message"])`,
		`div:has([data-ad-rendering-role="story_message"])`,
		`div[role="article"]`,
		`div[data-testid="comet_feed_unit"]`,
	},
	Content: {
		`div[data-ad-rendering-role="story_message"]`,
		`div[data-ad-comet-preview="message"]`,
		`div[data-ad-preview="message"]`,
		`div[dir="auto"]`,
	},
	Author: {
		`div[data-ad-rendering-role="profile_name"]`,
		`[data-ad-rendering-role="profile_name"]`,
		`h2 strong a`,
		`h3 strong a`,
		`h2 a[role="link"] strong`,
		`h3 a[role="link"] strong`,
		`h2 strong`,
		`h3 strong`,
		`h2`,
		`h3`,
		`a[href*="/user/"]`,
		`a[href*="/groups/"][href*="/user/"]`,
		`a[href*="/profile.php"]`,
	},
	AuthorPic: {
		`div:first-child svg image`,
		`div:first-child img[alt*="profile picture"]`,
		`div:first-child img[data-imgperflogname*="profile"]`,
		`div[role="button"] svg image`,
	},
	Timestamp: {
		`abbr`,
		`abbr[title]`,
		`a[href*="/posts/"] span[data-lexical-text="true"]`,
		`a[href*="/posts/"]`,
		`a[href*="/permalink/"]`,
		`a[href*="/videos/"] span`,
		`a[href*="/photos/"] span`,
	},
	Permalink: {
		`a[href*="/posts/"]:not([href*="comment_id"]):not([href*="reply_comment_id"])`,
		`a[href*="/permalink/"]:not([href*="comment_id"])`,
		`a[href*="/videos/"]:not([href*="comment_id"])`,
		`a[href*="/photos/"]:not([href*="comment_id"])`,
		`a[href*="/watch/"]:not([href*="comment_id"])`,
		`a[href*="/story.php"]:not([href*="comment_id"])`,
	},
	PostImage: {
		`img.x168nmei`,
		`div[data-imgperflogname="MediaGridPhoto"] img`,
		`div[style*="background-image"]`,
	},
	CommentContainer: {
		`div[aria-label*="Comment by"]`,
		`ul > li div[role="article"]`,
	},
	CommentText: {
		`div[data-ad-preview="message"] > span`,
		`div[dir="auto"][style="text-align: start;"]`,
		`.xmjcpbm.xtq9sad + div`,
		`.xv55zj0 + div`,
		`div[dir="auto"]`,
		`span[dir="auto"]`,
	},
	CommentID: {
		`a[href*="comment_id="]`,
		`[data-commentid]`,
	},
	CommentAuthor: {
		`a[href*="/user/"] span`,
		`a[href*="/profile.php"] span`,
		`a[role="link"] span[dir="auto"]`,
	},
	SeeMore: {
		`div[role="button"]`,
		`span[role="button"]`,
		`a[role="button"]`,
	},
	FeedContainer: {
		`div[role="feed"]`,
		`div[data-testid="post_scroller"]`,
	},
	DismissButton: {
		`div[role="dialog"] div[role="button"][aria-label="Close"]`,
		`div[role="dialog"] div[role="button"][aria-label="Not now"]`,
		`div[role="dialog"] button[aria-label="Close"]`,
		`button[data-cookiebanner="accept_button"]`,
		`div[aria-label="Close"]`,
		`div[aria-label="Not now"]`,
		`button[aria-label="Allow all cookies"]`,
		`div[role="button"][aria-label="Decline optional cookies"]`,
	},
	CloseButton: {
		`div[role="dialog"] div[role="button"][aria-label="Close"]`,
		`div[role="button"][aria-label="Close"]`,
		`button[aria-label="Close"]`,
		`div[role="dialog"] i.x1n2onr6`,
	},
	Overlay: {
		`div[role="dialog"]`,
		`div[role="presentation"]`,
		`div[data-testid*="dialog"]`,
		`div[data-testid*="cookie"]`,
	},
	ViewMoreComments: {
		`div[role="button"]`,
		`span[role="button"]`,
		`a[role="button"]`,
	},
	ProfileMarker: {
		`[aria-label="Your profile"]`,
		`[aria-label="Account controls and settings"]`,
		`div[role="navigation"] a[href*="/me/"]`,
	},
	LoginForm: {
		`form[data-testid="royal_login_form"]`,
		`form#login_form`,
		`input[name="email"]`,
	},
}

// ElementTypes 返回所有已知元素类型
func ElementTypes() []string {
	return []string{
		Article, Content, Author, AuthorPic, Timestamp, Permalink,
		PostImage, CommentContainer, CommentText, CommentID, CommentAuthor,
		SeeMore, FeedContainer, DismissButton, CloseButton, Overlay,
		ViewMoreComments, ProfileMarker, LoginForm,
	}
}

// Defaults 返回某类型的内置默认选择器副本
func Defaults(elementType string) []string {
	return append([]string(nil), defaultSelectors[elementType]...)
}

// IsKnown 判断元素类型是否已知
func IsKnown(elementType string) bool {
	_, ok := defaultSelectors[elementType]
	return ok
}

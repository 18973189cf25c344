package browser

// Script 页面内执行的JS函数
// Source 为函数表达式,参数按顺序以JSON传入
type Script struct {
	Name   string
	Source string
}

// 页面中用于标记文章元素的属性
const (
	AttrKey   = "data-gh-key"
	AttrDone  = "data-gh-done"
	AttrTries = "data-gh-tries"
)

// queryHelpers 候选选择器依次尝试,非法选择器跳过
const queryHelpers = `
	const ghFirst = (root, sels) => {
		for (const s of (sels || [])) {
			try { const el = root.querySelector(s); if (el) return [el, s]; } catch (e) {}
		}
		return [null, null];
	};
	const ghAll = (root, sels) => {
		for (const s of (sels || [])) {
			try {
				const els = Array.from(root.querySelectorAll(s));
				if (els.length) return [els, s];
			} catch (e) {}
		}
		return [[], null];
	};
	const ghArticles = (sels, feedSels) => {
		const [els] = ghAll(document, sels);
		const feedSel = (feedSels || []).join(', ');
		const set = new Set(els);
		return els.filter(el => {
			if (feedSel) { try { if (el.querySelector(feedSel)) return false; } catch (e) {} }
			for (let p = el.parentElement; p; p = p.parentElement) { if (set.has(p)) return false; }
			return true;
		});
	};
	const ghVisible = el => {
		const r = el.getBoundingClientRect();
		const st = window.getComputedStyle(el);
		return r.width > 0 && r.height > 0 && st.display !== 'none' && st.visibility !== 'hidden';
	};
`

// ScriptHasArticles 页面是否已有文章元素
var ScriptHasArticles = Script{
	Name: "has_articles",
	Source: `(articleSels) => {` + queryHelpers + `
		return ghAll(document, articleSels)[0].length > 0;
	}`,
}

// ScriptContentReady 是否已有真实内容(区别于骨架屏)
var ScriptContentReady = Script{
	Name: "content_ready",
	Source: `(articleSels, minLen) => {` + queryHelpers + `
		const [els] = ghAll(document, articleSels);
		return els.some(el => (el.innerText || '').length > minLen);
	}`,
}

// ScriptExtractPosts 提取所有未处理文章的字段
// 每个元素首次出现时分配 data-gh-key, fresh 表示本次新发现
var ScriptExtractPosts = Script{
	Name: "extract_posts",
	Source: `(cfg) => {` + queryHelpers + `
		const tsRe = [
			/^\d+\s*(?:s|m|h|d|w|y|mo)$/i,
			/^(?:yesterday|today|just now|now)\b/i,
			/\b(?:secs?|seconds?|mins?|minutes?|hrs?|hours?|days?|weeks?|months?|years?)\s*ago$/i,
			/^(?:january|february|march|april|may|june|july|august|september|october|november|december)\b/i,
			/^\d{1,2}\/\d{1,2}\/\d{2,4}$/,
			/^\d{1,2}\s+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)/i,
		];
		const isTs = t => { t = (t || '').trim(); return t.length > 0 && t.length < 60 && tsRe.some(re => re.test(t)); };
		const text = el => el ? (el.innerText || el.textContent || '').trim() : '';
		const imgSrc = el => {
			if (!el) return '';
			if (el.tagName === 'IMG') return el.currentSrc || el.src || '';
			if (el.tagName.toLowerCase() === 'image') return el.getAttribute('xlink:href') || el.getAttribute('href') || '';
			const bg = (el.style && el.style.backgroundImage) || '';
			const m = bg.match(/url\(["']?(.*?)["']?\)/);
			if (m) return m[1];
			const inner = el.querySelector('img');
			return inner ? (inner.currentSrc || inner.src || '') : '';
		};

		const rawTimestamp = (article) => {
			const abbr = article.querySelector('abbr');
			if (abbr) {
				const v = abbr.getAttribute('title') || text(abbr);
				if (v) return v;
			}
			for (const s of cfg.timestamp || []) {
				let els = [];
				try { els = article.querySelectorAll(s); } catch (e) { continue; }
				for (const el of els) {
					const aria = el.getAttribute('aria-label') || '';
					if (isTs(text(el))) return text(el);
					if (isTs(aria)) return aria;
				}
			}
			for (const el of article.querySelectorAll('time')) {
				if (isTs(text(el))) return text(el);
				const dt = el.getAttribute('datetime');
				if (dt) return dt;
			}
			const dated = article.querySelector('[data-utime], [data-date], [data-timestamp]');
			if (dated) return dated.getAttribute('data-utime') || dated.getAttribute('data-date') || dated.getAttribute('data-timestamp');
			for (const el of article.querySelectorAll('span, a')) {
				const t = text(el);
				if (isTs(t) && !el.closest('[data-ad-rendering-role="story_message"]')) return t;
			}
			return '';
		};

		const hrefs = (article) => {
			const out = [];
			const push = h => { if (h && !out.includes(h)) out.push(h); };
			for (const s of cfg.permalink || []) {
				try { article.querySelectorAll(s).forEach(a => push(a.href)); } catch (e) {}
			}
			article.querySelectorAll('a[href]').forEach(a => push(a.href));
			return out.slice(0, 40);
		};

		const comments = (article) => {
			const [containers] = ghAll(article, cfg.comment_container);
			return containers.slice(0, cfg.max_comments || 50).map(c => {
				const [textEl] = ghFirst(c, cfg.comment_text);
				const [authorEl] = ghFirst(c, cfg.comment_author);
				const [idEl] = ghFirst(c, cfg.comment_id);
				let cid = '';
				if (idEl) cid = idEl.getAttribute('data-commentid') || idEl.href || '';
				const tsLink = c.querySelector('a[href*="comment_id="]');
				return {
					id: cid,
					author: text(authorEl),
					author_pic: imgSrc(ghFirst(c, cfg.author_pic)[0]),
					text: text(textEl),
					raw_timestamp: tsLink ? text(tsLink) : '',
				};
			}).filter(c => c.text);
		};

		if (!window.__ghSeq) window.__ghSeq = 0;
		const posts = [];
		for (const article of ghArticles(cfg.article, cfg.feed_container)) {
			if (article.hasAttribute('` + AttrDone + `')) continue;
			let fresh = false;
			if (!article.hasAttribute('` + AttrKey + `')) {
				article.setAttribute('` + AttrKey + `', 'gh' + (++window.__ghSeq));
				fresh = true;
			}
			const key = article.getAttribute('` + AttrKey + `');

			const missing = [];
			let [contentEl, contentSel] = ghFirst(article, cfg.content);
			if (!contentEl) {
				missing.push('content');
				for (const el of article.querySelectorAll('div[dir="auto"]')) {
					const t = text(el);
					if (t.length > 50 && t.length < 5000) { contentEl = el; break; }
				}
			}
			const [authorEl, authorSel] = ghFirst(article, cfg.author);
			if (!authorEl) missing.push('author');
			const [picEl] = ghFirst(article, cfg.author_pic);
			if (!picEl) missing.push('author_pic');
			const [imgEl] = ghFirst(article, cfg.post_image);
			if (!imgEl) missing.push('post_image');
			const links = hrefs(article);
			const [permEl] = ghFirst(article, cfg.permalink);
			if (!permEl) missing.push('permalink');

			const post = {
				key: key,
				fresh: fresh,
				text: text(contentEl),
				author: text(authorEl),
				author_pic: imgSrc(picEl),
				image: imgSrc(imgEl),
				raw_timestamp: rawTimestamp(article),
				hrefs: links,
				comments: cfg.with_comments ? comments(article) : [],
				missing: missing,
				content_selector: contentSel || '',
				author_selector: authorSel || '',
			};

			if (!post.text && !post.author) {
				const tries = parseInt(article.getAttribute('` + AttrTries + `') || '0', 10) + 1;
				article.setAttribute('` + AttrTries + `', String(tries));
				if (tries < (cfg.max_tries || 3)) { posts.push(Object.assign(post, {pending: true})); continue; }
			}
			article.setAttribute('` + AttrDone + `', '1');
			posts.push(post);
		}
		return posts;
	}`,
}

// ScriptAnalyzeArticle 输出某个文章元素的结构线索,用于调试
var ScriptAnalyzeArticle = Script{
	Name: "analyze_article",
	Source: `(key) => {
		const article = document.querySelector('[` + AttrKey + `="' + key + '"]');
		if (!article) return null;
		const out = {content: [], authors: [], timestamps: [], permalinks: []};
		article.querySelectorAll('div[dir="auto"], div[data-ad-preview], [data-ad-rendering-role]').forEach(el => {
			const t = el.innerText || '';
			const role = el.getAttribute('data-ad-rendering-role') || el.getAttribute('data-ad-preview');
			if (role && t.length > 0) out.content.push(role + ':' + t.length);
		});
		article.querySelectorAll('h2 strong a, h3 strong a, h4 strong a, a[role="link"] strong').forEach(el => {
			if (el.innerText && el.innerText.length < 100) out.authors.push(el.tagName + ':' + el.innerText.substring(0, 50));
		});
		article.querySelectorAll('abbr[title], a[href*="/posts/"] span, time').forEach(el => {
			out.timestamps.push((el.getAttribute('title') || el.innerText || '').substring(0, 50));
		});
		article.querySelectorAll('a[href*="/posts/"], a[href*="/permalink/"], a[href*="/videos/"], a[href*="/photos/"]').forEach(el => {
			out.permalinks.push(el.href);
		});
		return out;
	}`,
}

// ScriptDiscoverArticleSelectors 在页面中寻找可能的文章容器选择器
var ScriptDiscoverArticleSelectors = Script{
	Name: "discover_article_selectors",
	Source: `() => {
		const found = [];
		if (document.querySelector('div[role="article"]')) found.push('div[role="article"]');
		document.querySelectorAll('[data-pagelet]').forEach(el => {
			const p = el.getAttribute('data-pagelet') || '';
			if ((p.includes('Feed') || p.includes('Story')) && !/["\\]/.test(p)) found.push('[data-pagelet="' + p + '"]');
		});
		document.querySelectorAll('div[role="feed"] > div').forEach(el => {
			const cls = typeof el.className === 'string' ? el.className.trim() : '';
			if (cls && (el.innerText || '').length > 100) found.push('div[role="feed"] > div.' + cls.split(/\s+/).join('.'));
		});
		document.querySelectorAll('div.x1yztbdb').forEach(el => {
			if ((el.innerText || '').length > 100) found.push('div.' + el.className.trim().split(/\s+/).join('.'));
		});
		return [...new Set(found)].slice(0, 5);
	}`,
}

// ScriptForceScrollable 解除 overflow:hidden
var ScriptForceScrollable = Script{
	Name: "force_scrollable",
	Source: `() => {
		for (const el of [document.body, document.documentElement]) {
			if (!el) continue;
			el.style.overflow = 'visible';
			el.style.overflowY = 'scroll';
		}
		return true;
	}`,
}

// ScriptFocus 把焦点交给页面
var ScriptFocus = Script{
	Name: "focus",
	Source: `() => {
		window.focus();
		if (document.body) { document.body.setAttribute('tabindex', '-1'); document.body.focus(); }
		return document.hasFocus();
	}`,
}

// ScriptDispatchEscape 通过DOM事件发送ESC
var ScriptDispatchEscape = Script{
	Name: "dispatch_escape",
	Source: `() => {
		const opts = {key: 'Escape', code: 'Escape', keyCode: 27, bubbles: true};
		document.dispatchEvent(new KeyboardEvent('keydown', opts));
		document.dispatchEvent(new KeyboardEvent('keyup', opts));
		return true;
	}`,
}

// ScriptHasOverlays 是否存在可见遮罩
var ScriptHasOverlays = Script{
	Name: "has_overlays",
	Source: `(overlaySels) => {` + queryHelpers + `
		for (const s of overlaySels || []) {
			let els = [];
			try { els = document.querySelectorAll(s); } catch (e) { continue; }
			for (const el of els) { if (ghVisible(el)) return true; }
		}
		return false;
	}`,
}

// ScriptClickFirst 依次尝试选择器,可见则模拟鼠标点击,否则JS点击
// 返回 {selector, mode}, mode 为 visible / js / 空
var ScriptClickFirst = Script{
	Name: "click_first",
	Source: `(sels) => {` + queryHelpers + `
		for (const s of sels || []) {
			let el = null;
			try { el = document.querySelector(s); } catch (e) { continue; }
			if (!el) continue;
			if (ghVisible(el)) {
				for (const type of ['pointerdown', 'mousedown', 'pointerup', 'mouseup', 'click']) {
					el.dispatchEvent(new MouseEvent(type, {bubbles: true, cancelable: true, view: window}));
				}
				return {selector: s, mode: 'visible'};
			}
			el.click();
			return {selector: s, mode: 'js'};
		}
		return {selector: '', mode: ''};
	}`,
}

// ScriptNukeBlocking 删除覆盖视口的遮挡元素
// feed容器与高文本密度节点受保护
var ScriptNukeBlocking = Script{
	Name: "nuke_blocking",
	Source: `(feedSels) => {
		let removed = 0;
		const feedSel = (feedSels || []).concat(['[aria-posinset]', '[data-pagelet^="FeedUnit"]']).join(', ');
		const protectedEl = el => {
			try { if (el.matches(feedSel) || el.querySelector(feedSel)) return true; } catch (e) {}
			if ((el.innerText || '').length > 800) return true;
			return el.id === 'mount_0_0' || el.classList.contains('x1n2onr6');
		};
		document.querySelectorAll('div[role="presentation"], div[role="dialog"], div[style*="z-index"]').forEach(el => {
			if (!el.isConnected || protectedEl(el)) return;
			const st = window.getComputedStyle(el);
			const z = parseInt(st.zIndex, 10) || 0;
			const r = el.getBoundingClientRect();
			const t = el.innerText || '';
			const closable = el.querySelector('[aria-label*="Close"], [aria-label*="Not now"]') || t.includes('Close') || t.includes('Not now');
			if ((z > 100 || el.getAttribute('role') === 'presentation' || closable) &&
				r.width > window.innerWidth * 0.4 && r.height > window.innerHeight * 0.4) {
				el.remove();
				removed++;
			}
		});
		document.querySelectorAll('div[style*="position: fixed"], div[style*="position: absolute"]').forEach(el => {
			if (!el.isConnected || protectedEl(el)) return;
			const st = window.getComputedStyle(el);
			const z = parseInt(st.zIndex, 10) || 0;
			const r = el.getBoundingClientRect();
			const blockingTop = r.top < 100 && r.width > window.innerWidth * 0.7;
			const closeText = (el.innerText || '').includes('Close') || el.getAttribute('aria-label') === 'Close';
			if (((z > 50 && blockingTop) || (closeText && z > 0)) &&
				!el.querySelector('[aria-label="Facebook"]') && !el.querySelector('a[href="/"]')) {
				el.remove();
				removed++;
			}
		});
		return removed;
	}`,
}

// ScriptPruneDone 删除已处理的文章元素,保留最近keep个
// 未处理完成的元素不会被删除
var ScriptPruneDone = Script{
	Name: "prune_done",
	Source: `(keep) => {
		const done = Array.from(document.querySelectorAll('[` + AttrDone + `]'));
		const leaves = done.filter(el => !done.some(o => o !== el && el.contains(o)));
		if (leaves.length <= keep) return 0;
		let removed = 0;
		for (const el of leaves.slice(0, leaves.length - keep)) {
			const role = el.getAttribute('role');
			if (role === 'feed' || role === 'main' || el.parentElement === document.body) continue;
			if (el.querySelector('[` + AttrKey + `]:not([` + AttrDone + `])')) continue;
			el.remove();
			removed++;
		}
		return removed;
	}`,
}

// ScriptScrollBy 向下滚动
var ScriptScrollBy = Script{
	Name: "scroll_by",
	Source: `(px) => {
		window.scrollBy(0, px);
		return {y: window.scrollY, height: document.documentElement.scrollHeight};
	}`,
}

// ScriptCaptureArticles 展开"查看更多"后抓取新文章的HTML与链接
// 文字少于 min_content_length 的文章返回 pending 且不标记完成,最多重试 max_tries 次
var ScriptCaptureArticles = Script{
	Name: "capture_articles",
	Source: `async (cfg) => {` + queryHelpers + `
		const moreRe = /^(?:see|show) more$/i;
		if (!window.__ghSeq) window.__ghSeq = 0;
		const out = [];
		let expanded = 0;
		const fresh = ghArticles(cfg.article, cfg.feed_container).filter(el => !el.hasAttribute('` + AttrDone + `'));
		for (const article of fresh.slice(0, cfg.max || 20)) {
			for (const s of cfg.see_more || []) {
				let btns = [];
				try { btns = article.querySelectorAll(s); } catch (e) { continue; }
				for (const b of btns) {
					if (moreRe.test((b.innerText || '').trim())) { b.click(); expanded++; }
				}
			}
		}
		if (expanded > 0) await new Promise(r => setTimeout(r, cfg.expand_wait_ms || 300));
		for (const article of fresh.slice(0, cfg.max || 20)) {
			let isNew = false;
			if (!article.hasAttribute('` + AttrKey + `')) {
				article.setAttribute('` + AttrKey + `', 'gh' + (++window.__ghSeq));
				isNew = true;
			}
			const hrefs = [];
			for (const s of cfg.permalink || []) {
				try { article.querySelectorAll(s).forEach(a => { if (!hrefs.includes(a.href)) hrefs.push(a.href); }); } catch (e) {}
			}
			article.querySelectorAll('a[href]').forEach(a => { if (!hrefs.includes(a.href)) hrefs.push(a.href); });
			const key = article.getAttribute('` + AttrKey + `');
			if ((article.innerText || '').trim().length < (cfg.min_content_length || 0)) {
				const tries = parseInt(article.getAttribute('` + AttrTries + `') || '0', 10) + 1;
				article.setAttribute('` + AttrTries + `', String(tries));
				if (tries < (cfg.max_tries || 3)) { out.push({key: key, fresh: isNew, hrefs: [], pending: true}); continue; }
			}
			article.setAttribute('` + AttrDone + `', '1');
			out.push({key: key, fresh: isNew, html: article.outerHTML, hrefs: hrefs.slice(0, 40)});
		}
		return out;
	}`,
}

// ScriptDiscussionTab 确保"讨论"标签页处于选中状态
// 返回 selected / clicked / absent
var ScriptDiscussionTab = Script{
	Name: "discussion_tab",
	Source: `() => {
		const tabs = Array.from(document.querySelectorAll('a[role="tab"], div[role="tab"]'));
		const tab = tabs.find(t => /^discussion$/i.test((t.innerText || '').trim()));
		if (!tab) return 'absent';
		if (tab.getAttribute('aria-selected') === 'true') return 'selected';
		tab.click();
		return 'clicked';
	}`,
}

// ScriptSessionProbe 判断当前页面的登录状态
// 返回 valid / login / unknown
var ScriptSessionProbe = Script{
	Name: "session_probe",
	Source: `(profileSels, loginSels) => {` + queryHelpers + `
		if (ghFirst(document, profileSels)[0]) return 'valid';
		if (ghFirst(document, loginSels)[0]) return 'login';
		const composer = Array.from(document.querySelectorAll('span, div[role="button"]'))
			.some(el => /what's on your mind/i.test(el.innerText || ''));
		return composer ? 'valid' : 'unknown';
	}`,
}

// ScriptFillLogin 填写登录表单并提交
var ScriptFillLogin = Script{
	Name: "fill_login",
	Source: `(user, secret) => {
		const email = document.querySelector('input[name="email"]');
		const pass = document.querySelector('input[name="pass"]');
		if (!email || !pass) return false;
		const setValue = (el, v) => {
			const setter = Object.getOwnPropertyDescriptor(HTMLInputElement.prototype, 'value').set;
			setter.call(el, v);
			el.dispatchEvent(new Event('input', {bubbles: true}));
			el.dispatchEvent(new Event('change', {bubbles: true}));
		};
		setValue(email, user);
		setValue(pass, secret);
		const btn = document.querySelector('button[name="login"], button[type="submit"], input[type="submit"]');
		if (btn) { btn.click(); } else if (pass.form) { pass.form.submit(); }
		return true;
	}`,
}

// ScriptCaptureStorage 读取当前源的localStorage
var ScriptCaptureStorage = Script{
	Name: "capture_storage",
	Source: `() => {
		const out = {};
		try {
			for (let i = 0; i < localStorage.length; i++) {
				const k = localStorage.key(i);
				out[k] = localStorage.getItem(k);
			}
		} catch (e) {}
		return {origin: location.origin, items: out};
	}`,
}

// ScriptRestoreStorage 写回localStorage,返回写入数量
var ScriptRestoreStorage = Script{
	Name: "restore_storage",
	Source: `(items) => {
		let n = 0;
		try {
			for (const [k, v] of Object.entries(items || {})) { localStorage.setItem(k, v); n++; }
		} catch (e) {}
		return n;
	}`,
}

// ScriptFeedStats 诊断信息: 文章数量与feed容器是否存在
var ScriptFeedStats = Script{
	Name: "feed_stats",
	Source: `(articleSels, feedSels) => {` + queryHelpers + `
		return {
			articles: ghAll(document, articleSels)[0].length,
			feed_present: !!ghFirst(document, feedSels)[0],
			scroll_y: window.scrollY,
			scroll_height: document.documentElement.scrollHeight,
		};
	}`,
}

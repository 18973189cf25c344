// Package crawlers 驱动浏览器滚动小组讨论页并产出帖子记录
//
// # 概述
//
// 两种抓取器共享同一个状态机:
//
//	导航 → 等待真实内容 → 清理遮罩 → 提取 → 去重并产出 → (修剪DOM) → 滚动 → 停滞检查 → 循环或终止
//
// 终止条件: 产出数量达到目标, 滚动次数达到上限, 或连续多次滚动没有发现新文章元素。
// 无论从哪条路径退出, 浏览器会话都会被关闭。
//
// # 核心组件
//
// ## FeedCrawler
//
// 单页面驱动, 字段提取在页面脚本中完成(go-rod)。
//
//	crawler, err := NewFeedCrawler(Options{Sessions: manager, Registry: registry})
//	for post, err := range crawler.ScrapeGroup(ctx, req) {
//	    if err != nil { /* 致命错误, 序列随之结束 */ }
//	    // 处理post
//	}
//
// 序列只能遍历一次, 再次遍历会得到 models.ErrRunConsumed。
// 提前 break 会立即关闭浏览器。
//
// ## PoolCrawler
//
// 驱动协程负责导航、滚动、展开"查看更多"并抓取每篇新文章的outerHTML,
// 在派发前完成ID推导与去重; ParsePool 中固定数量的协程用goquery解析HTML。
// 每个周期非阻塞地收集已完成的结果, 滚动结束后在 DrainTimeout 内收集在途任务。
// 单个解析任务失败或panic只会丢弃该帖子。
//
// ## OverlayDismisser
//
// 聚焦页面, 解除滚动锁定, 发送ESC, 依次尝试 dismiss_button 与 close_button 候选,
// 最后删除覆盖视口的遮挡元素(feed容器与高文本密度节点受保护)。
// 没有遮罩时什么都不做, 任何步骤失败都只记录debug日志。
//
// ## Hooks
//
// BeforeScroll / AfterExtract / OnStall / OnFinish 以组合方式包装抓取循环,
// 用于诊断采集和压力测试, 多组钩子用 Chain 合并。
//
// ## ResourceMonitor
//
// 采样系统可用内存, 内存紧张时收紧DOM修剪并减少解析协程:
//   - 可用内存 < 500MB: 修剪保留数减半, 每产出一条就修剪
//   - 可用内存 < 300MB: 解析协程减半
//   - 可用内存 < 200MB: 只保留1个解析协程
//
// ## GroupProbe
//
// 不启动浏览器的静态预检(Colly), 报告状态码、标题、是否被登录墙拦截以及页面中的帖子链接。
// 支持 gzip / deflate / br 响应。
package crawlers

// Package selectors 维护每种页面元素的有序候选CSS选择器,
// 并持久化运行时学到的新选择器。
package selectors

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/RecoveryAshes/GroupHarvest/internal/models"
	"github.com/RecoveryAshes/GroupHarvest/internal/utils"
)

// Registry 自愈式选择器注册表
// 默认选择器永不删除,学到的选择器追加在默认之后
type Registry struct {
	mu        sync.RWMutex
	selectors map[string][]string
	failures  map[string]map[string]int

	// saveMu 串行化文件写入
	saveMu      sync.Mutex
	learnedPath string
}

// New 创建注册表并加载默认选择器
// learnedPath 为空时不持久化(用于测试)
func New(learnedPath string) *Registry {
	r := &Registry{
		selectors:   make(map[string][]string, len(defaultSelectors)),
		failures:    make(map[string]map[string]int),
		learnedPath: learnedPath,
	}
	for elementType, list := range defaultSelectors {
		r.selectors[elementType] = append([]string(nil), list...)
	}
	return r
}

// Path 学习文件路径
func (r *Registry) Path() string {
	return r.learnedPath
}

// Load 从学习文件加载选择器
// 文件缺失或损坏时保持默认值,仅记录debug日志
func (r *Registry) Load() {
	if r.learnedPath == "" {
		return
	}

	data, err := os.ReadFile(r.learnedPath)
	if err != nil {
		log.Debug().Err(err).Str("path", r.learnedPath).Msg("未加载学习选择器")
		return
	}

	var learned map[string][]string
	if err := json.Unmarshal(data, &learned); err != nil {
		log.Debug().Err(err).Str("path", r.learnedPath).Msg("学习选择器文件损坏,使用默认值")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	loaded := 0
	for elementType, list := range learned {
		current, ok := r.selectors[elementType]
		if !ok {
			continue
		}
		for _, expr := range list {
			expr = strings.TrimSpace(expr)
			if expr == "" || contains(current, expr) {
				continue
			}
			current = append(current, expr)
			loaded++
		}
		r.selectors[elementType] = current
	}
	log.Debug().Int("count", loaded).Str("path", r.learnedPath).Msg("已加载学习选择器")
}

// Save 持久化默认之外的选择器
func (r *Registry) Save() error {
	if r.learnedPath == "" {
		return nil
	}

	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	// 持有写锁后再取快照,后写入者总是包含先前的学习结果
	learned := r.Learned()

	data, err := json.MarshalIndent(learned, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化学习选择器失败: %w", err)
	}
	if err := utils.WriteFileAtomic(r.learnedPath, data, 0644); err != nil {
		return err
	}
	log.Info().Str("path", r.learnedPath).Msg("已保存学习选择器")
	return nil
}

// Learned 返回默认之外的选择器
func (r *Registry) Learned() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	learned := make(map[string][]string)
	for elementType, current := range r.selectors {
		defaults := defaultSelectors[elementType]
		var extra []string
		for _, expr := range current {
			if !contains(defaults, expr) {
				extra = append(extra, expr)
			}
		}
		if len(extra) > 0 {
			learned[elementType] = extra
		}
	}
	return learned
}

// Candidates 返回某类型候选选择器的副本(按优先级)
func (r *Registry) Candidates(elementType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.selectors[elementType]...)
}

// Joined 以逗号连接的组合选择器
func (r *Registry) Joined(elementType string) string {
	return strings.Join(r.Candidates(elementType), ", ")
}

// Snapshot 返回全部候选选择器的副本
func (r *Registry) Snapshot() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.selectors))
	for elementType, list := range r.selectors {
		out[elementType] = append([]string(nil), list...)
	}
	return out
}

// RecordSuccess 记录一个可用的选择器,不存在时追加并持久化
func (r *Registry) RecordSuccess(elementType, expr string) (bool, error) {
	expr = strings.TrimSpace(expr)
	if !IsKnown(elementType) {
		return false, &models.ValidationError{
			Field:  "element_type",
			Value:  elementType,
			Reason: "未知元素类型",
		}
	}
	if err := utils.ValidateSelector(elementType, expr); err != nil {
		return false, err
	}

	r.mu.Lock()
	if contains(r.selectors[elementType], expr) {
		r.mu.Unlock()
		return false, nil
	}
	r.selectors[elementType] = append(r.selectors[elementType], expr)
	r.mu.Unlock()

	log.Info().Str("element", elementType).Str("selector", expr).Msg("学到新选择器")

	if err := r.Save(); err != nil {
		log.Warn().Err(err).Msg("保存学习选择器失败")
		return true, err
	}
	return true, nil
}

// RecordFailure 记录选择器失败,仅用于诊断,不删除选择器
func (r *Registry) RecordFailure(elementType, expr string) {
	r.mu.Lock()
	byExpr, ok := r.failures[elementType]
	if !ok {
		byExpr = make(map[string]int)
		r.failures[elementType] = byExpr
	}
	byExpr[expr]++
	first := byExpr[expr] == 1
	r.mu.Unlock()

	if first {
		log.Warn().Str("element", elementType).Str("selector", expr).Msg("选择器未命中")
	}
}

// Failures 返回失败统计快照
func (r *Registry) Failures() map[string]map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]map[string]int, len(r.failures))
	for elementType, byExpr := range r.failures {
		inner := make(map[string]int, len(byExpr))
		for expr, n := range byExpr {
			inner[expr] = n
		}
		out[elementType] = inner
	}
	return out
}

// Types 返回已注册的元素类型(排序)
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.selectors))
	for elementType := range r.selectors {
		types = append(types, elementType)
	}
	sort.Strings(types)
	return types
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

package models

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// SeenLedger 跨多次运行累计的唯一帖子ID台账
// 用于压力测试重启循环,保存为JSON以便中断后继续
type SeenLedger struct {
	GroupURL  string    `json:"group_url"`
	Goal      int       `json:"goal"`
	Runs      int       `json:"runs"`
	IDs       []string  `json:"ids"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	index map[string]struct{}
}

// NewSeenLedger 创建台账
func NewSeenLedger(groupURL string, goal int) *SeenLedger {
	now := time.Now()
	return &SeenLedger{
		GroupURL:  groupURL,
		Goal:      goal,
		IDs:       []string{},
		CreatedAt: now,
		UpdatedAt: now,
		index:     make(map[string]struct{}),
	}
}

// LedgerFilename 生成台账文件名
func LedgerFilename(runID string) string {
	return fmt.Sprintf("ledger_%s.json", runID)
}

// Add 记录ID,返回是否为新ID
func (l *SeenLedger) Add(id string) bool {
	if l.index == nil {
		l.rebuild()
	}
	if _, ok := l.index[id]; ok {
		return false
	}
	l.index[id] = struct{}{}
	l.IDs = append(l.IDs, id)
	l.UpdatedAt = time.Now()
	return true
}

// Count 唯一ID数量
func (l *SeenLedger) Count() int {
	return len(l.IDs)
}

// Reached 是否达到目标
func (l *SeenLedger) Reached() bool {
	return l.Count() >= l.Goal
}

func (l *SeenLedger) rebuild() {
	l.index = make(map[string]struct{}, len(l.IDs))
	for _, id := range l.IDs {
		l.index[id] = struct{}{}
	}
}

// ToJSON 序列化为JSON
func (l *SeenLedger) ToJSON() ([]byte, error) {
	ids := append([]string(nil), l.IDs...)
	sort.Strings(ids)
	snapshot := *l
	snapshot.IDs = ids
	return json.MarshalIndent(&snapshot, "", "  ")
}

// SaveToFile 保存到文件
func (l *SeenLedger) SaveToFile(path string) error {
	data, err := l.ToJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadSeenLedger 从文件加载
func LoadSeenLedger(path string) (*SeenLedger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var l SeenLedger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	l.rebuild()
	return &l, nil
}

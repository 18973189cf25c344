package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/RecoveryAshes/GroupHarvest/internal/models"
)

// JSONLWriter 逐行追加写入帖子记录
type JSONLWriter struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
	n    int
}

// NewJSONLWriter 打开(或创建)文件并追加写入
func NewJSONLWriter(path string) (*JSONLWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("创建目录失败: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("打开JSONL文件失败: %w", err)
	}
	buf := bufio.NewWriter(f)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &JSONLWriter{file: f, buf: buf, enc: enc}, nil
}

// Write 写入一条记录
func (w *JSONLWriter) Write(post models.PostRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(post); err != nil {
		return fmt.Errorf("写入记录失败 [%s]: %w", post.ExternalID, err)
	}
	w.n++
	return nil
}

// Count 已写入条数
func (w *JSONLWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// Close 刷新缓冲并关闭文件
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// ReadJSONL 读取全部记录
func ReadJSONL(path string) ([]models.PostRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []models.PostRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var p models.PostRecord
		if err := json.Unmarshal(scanner.Bytes(), &p); err != nil {
			return out, fmt.Errorf("第%d行解析失败: %w", line, err)
		}
		out = append(out, p)
	}
	return out, scanner.Err()
}

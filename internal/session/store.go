package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/RecoveryAshes/GroupHarvest/internal/browser"
	"github.com/RecoveryAshes/GroupHarvest/internal/models"
	"github.com/RecoveryAshes/GroupHarvest/internal/utils"
)

// State 登录会话状态
type State struct {
	Cookies []browser.Cookie          `json:"cookies"`
	Origins []browser.StorageSnapshot `json:"origins,omitempty"`
	SavedAt time.Time                 `json:"saved_at"`
}

// StorageFor 返回某个源的localStorage
func (s *State) StorageFor(origin string) map[string]string {
	for _, o := range s.Origins {
		if o.Origin == origin {
			return o.Items
		}
	}
	return nil
}

// Store 加密会话状态文件
type Store struct {
	path   string
	cipher *Cipher
}

// NewStore 创建状态存储
func NewStore(path string, c *Cipher) *Store {
	return &Store{path: path, cipher: c}
}

// Path 状态文件路径
func (s *Store) Path() string {
	return s.path
}

// Load 读取并解密状态
// 文件缺失、无法解密或格式错误都返回 models.ErrNoSession
func (s *Store) Load() (*State, error) {
	blob, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, models.ErrNoSession
		}
		return nil, fmt.Errorf("%w: %v", models.ErrNoSession, err)
	}

	plain, err := s.cipher.Decrypt(blob)
	if err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("会话状态无法解密,视为无会话")
		return nil, fmt.Errorf("%w: %v", models.ErrNoSession, err)
	}

	var state State
	if err := json.Unmarshal(plain, &state); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("会话状态格式错误,视为无会话")
		return nil, fmt.Errorf("%w: %v", models.ErrNoSession, err)
	}
	return &state, nil
}

// Save 加密并原子写入,权限0600
func (s *Store) Save(state *State) error {
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now().UTC()
	}
	plain, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("序列化会话状态失败: %w", err)
	}
	blob, err := s.cipher.Encrypt(plain)
	if err != nil {
		return err
	}
	if err := utils.WriteFileAtomic(s.path, blob, 0600); err != nil {
		return err
	}
	// 目标文件已存在时rename保留新文件权限,这里再确认一次
	if err := os.Chmod(s.path, 0600); err != nil {
		log.Debug().Err(err).Msg("设置会话文件权限失败")
	}

	log.Info().Str("path", s.path).Int("cookies", len(state.Cookies)).Msg("会话状态已加密保存")
	return nil
}

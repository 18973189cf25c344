package session

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/RecoveryAshes/GroupHarvest/internal/models"
)

// ErrUndecryptable 密文无法解密(机器不同或数据损坏)
var ErrUndecryptable = errors.New("会话状态无法解密")

var (
	blobMagic = []byte("GHS1")
	keySalt   = []byte("groupharvest/session-state/v1")
)

// MachineID 获取本机标识
// 优先使用系统HostID,失败时退回主机名
func MachineID() (string, error) {
	if info, err := host.Info(); err == nil && strings.TrimSpace(info.HostID) != "" {
		return info.HostID, nil
	}
	name, err := os.Hostname()
	if err != nil || strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: 无法获取机器标识", models.ErrKeyUnavailable)
	}
	return name, nil
}

// Cipher 会话状态加密器 (AES-256-GCM)
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher 由机器标识派生密钥
func NewCipher(machineID string) (*Cipher, error) {
	if strings.TrimSpace(machineID) == "" {
		return nil, fmt.Errorf("%w: 机器标识为空", models.ErrKeyUnavailable)
	}

	h := sha256.New()
	h.Write([]byte(machineID))
	h.Write(keySalt)
	key := h.Sum(nil)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrKeyUnavailable, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrKeyUnavailable, err)
	}
	return &Cipher{aead: aead}, nil
}

// NewMachineCipher 使用本机标识创建加密器
func NewMachineCipher() (*Cipher, error) {
	id, err := MachineID()
	if err != nil {
		return nil, err
	}
	return NewCipher(id)
}

// Encrypt 加密, 输出格式: magic | nonce | ciphertext
func (c *Cipher) Encrypt(plain []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("生成nonce失败: %w", err)
	}

	out := make([]byte, 0, len(blobMagic)+len(nonce)+len(plain)+c.aead.Overhead())
	out = append(out, blobMagic...)
	out = append(out, nonce...)
	return c.aead.Seal(out, nonce, plain, blobMagic), nil
}

// Decrypt 解密,任何失败都返回ErrUndecryptable
func (c *Cipher) Decrypt(blob []byte) ([]byte, error) {
	headerLen := len(blobMagic) + c.aead.NonceSize()
	if len(blob) < headerLen+c.aead.Overhead() || !bytes.HasPrefix(blob, blobMagic) {
		return nil, ErrUndecryptable
	}
	nonce := blob[len(blobMagic):headerLen]
	plain, err := c.aead.Open(nil, nonce, blob[headerLen:], blobMagic)
	if err != nil {
		return nil, ErrUndecryptable
	}
	return plain, nil
}

package session

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// CredentialSource 提供登录凭据,没有则返回ok=false(进入纯手动登录)
// 凭据只用于填写登录表单,不会被保存
type CredentialSource interface {
	Credentials() (user, secret string, ok bool)
}

// EnvCredentials 从环境变量(及.env文件)读取 GH_USER / GH_PASS
type EnvCredentials struct {
	EnvFile string
}

// Credentials 实现CredentialSource
func (e EnvCredentials) Credentials() (string, string, bool) {
	if e.EnvFile != "" {
		// 已存在的环境变量优先
		if err := godotenv.Load(e.EnvFile); err != nil && !os.IsNotExist(err) {
			log.Debug().Err(err).Str("file", e.EnvFile).Msg("读取.env失败")
		}
	}
	user := strings.TrimSpace(os.Getenv("GH_USER"))
	secret := os.Getenv("GH_PASS")
	if user == "" || secret == "" {
		return "", "", false
	}
	return user, secret, true
}

// NoCredentials 总是手动登录
type NoCredentials struct{}

// Credentials 实现CredentialSource
func (NoCredentials) Credentials() (string, string, bool) {
	return "", "", false
}

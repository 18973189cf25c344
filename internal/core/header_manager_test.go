package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/RecoveryAshes/GroupHarvest/internal/browser"
)

func TestHeaderManager_Priority(t *testing.T) {
	file := filepath.Join(t.TempDir(), "headers.yaml")
	content := "headers:\n  X-From-File: file\n  X-Layer: file\n"
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	hm, err := NewHeaderManager("",
		map[string]string{"x-layer": "config", "Accept-Language": "zh-CN"},
		file,
		[]string{"X-Layer: cli"},
	)
	if err != nil {
		t.Fatal(err)
	}

	merged, err := hm.GetHeaders()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"默认UA", "User-Agent", browser.DefaultUserAgent},
		{"配置覆盖默认", "Accept-Language", "zh-CN"},
		{"文件头部生效", "X-From-File", "file"},
		{"命令行优先", "X-Layer", "cli"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := merged.Get(tt.header); got != tt.want {
				t.Errorf("%s = %q, 期望 %q", tt.header, got, tt.want)
			}
		})
	}

	got, err := hm.BrowserHeaders()
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"Accept-Language": "zh-CN",
		"X-From-File":     "file",
		"X-Layer":         "cli",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("浏览器头部不一致 (-want +got):\n%s", diff)
	}
}

func TestHeaderManager_UserAgent(t *testing.T) {
	hm, err := NewHeaderManager("ConfigUA/1.0", nil, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := hm.UserAgent(); got != "ConfigUA/1.0" {
		t.Errorf("UserAgent = %q", got)
	}

	hm, err = NewHeaderManager("ConfigUA/1.0", nil, "", []string{"User-Agent: CliUA/2.0"})
	if err != nil {
		t.Fatal(err)
	}
	if got := hm.UserAgent(); got != "CliUA/2.0" {
		t.Errorf("命令行UA未生效: %q", got)
	}
}

func TestHeaderManager_Invalid(t *testing.T) {
	t.Run("命令行格式错误", func(t *testing.T) {
		if _, err := NewHeaderManager("", nil, "", []string{"no-colon"}); err == nil {
			t.Error("期望解析错误")
		}
	})

	t.Run("禁止的头部", func(t *testing.T) {
		hm, err := NewHeaderManager("", nil, "", []string{"Host: evil.example"})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := hm.GetHeaders(); err == nil {
			t.Error("Host 头部应被拒绝")
		}
	})

	t.Run("脱敏输出", func(t *testing.T) {
		hm, err := NewHeaderManager("", map[string]string{"Authorization": "Bearer secret-token-value"}, "", nil)
		if err != nil {
			t.Fatal(err)
		}
		if got := hm.GetSafeHeaders()["Authorization"]; got == "Bearer secret-token-value" {
			t.Errorf("敏感头部未脱敏: %q", got)
		}
	})
}

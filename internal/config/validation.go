package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	switch g.StorageDriver {
	case StorageDriverFS, StorageDriverSQLite:
	default:
		return newFieldError("Global.StorageDriver", "仅支持 fs|sqlite")
	}
	if g.UpstreamTimeout.DurationValue() < 0 {
		return newFieldError("Global.UpstreamTimeout", "不能为负数")
	}

	s := c.Site
	if err := validateOrigin(s.Origin); err != nil {
		return fmt.Errorf("Site.Origin: %w", err)
	}
	if err := validateCacheVersion(s.CacheVersion); err != nil {
		return err
	}
	for i, entry := range s.Manifest {
		if entry == "" {
			return newFieldError(manifestField(i), "不能为空")
		}
		parsed, err := url.Parse(entry)
		if err != nil {
			return newFieldError(manifestField(i), err.Error())
		}
		if parsed.IsAbs() && parsed.Scheme != "http" && parsed.Scheme != "https" {
			return newFieldError(manifestField(i), "仅支持 http/https")
		}
	}

	return nil
}

func validateCacheVersion(version string) error {
	if version == "" {
		return newFieldError("Site.CacheVersion", "不能为空")
	}
	if strings.IndexFunc(version, unicode.IsSpace) >= 0 {
		return newFieldError("Site.CacheVersion", "不允许包含空白字符")
	}
	if version == "." || version == ".." {
		return newFieldError("Site.CacheVersion", "不能为 . 或 ..")
	}
	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少源站地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源站缺少 Host: %s", raw)
	}
	return nil
}

package config

import (
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DatabaseConfig 数据库配置源，保存数据源的API密钥与出口代理，避免把凭证写进YAML
type DatabaseConfig struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewDatabaseConfig 创建数据库配置管理器
func NewDatabaseConfig(dsn string, logger *logrus.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return &DatabaseConfig{
		DB:     db,
		logger: logger,
	}, nil
}

// MergeProviderCredentials 把数据库中的密钥和代理合并进文件配置
func (dc *DatabaseConfig) MergeProviderCredentials(cfg *Config) error {
	keys, err := dc.loadAPIKeys()
	if err != nil {
		return fmt.Errorf("加载API密钥失败: %w", err)
	}

	proxies, err := dc.loadProxies()
	if err != nil {
		return fmt.Errorf("加载代理配置失败: %w", err)
	}

	mergeCredentials(cfg, keys, proxies, dc.logger)
	return nil
}

// loadAPIKeys 加载数据源级别的API密钥
func (dc *DatabaseConfig) loadAPIKeys() (map[string][]string, error) {
	query := `SELECT provider_name, api_key FROM provider_api_keys WHERE is_active = true ORDER BY id`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[string][]string)
	for rows.Next() {
		var provider, key string
		if err := rows.Scan(&provider, &key); err != nil {
			return nil, err
		}
		keys[provider] = append(keys[provider], key)
	}
	return keys, rows.Err()
}

// loadProxies 加载出口代理，代理自带的密钥以逗号分隔保存
func (dc *DatabaseConfig) loadProxies() (map[string][]*ProxyConfig, error) {
	query := `SELECT provider_name, proxy_name, proxy_uri, COALESCE(api_keys, '{}') FROM provider_proxies WHERE is_active = true ORDER BY id`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	proxies := make(map[string][]*ProxyConfig)
	for rows.Next() {
		var provider string
		var proxy ProxyConfig
		var apiKeys pq.StringArray
		if err := rows.Scan(&provider, &proxy.Name, &proxy.URI, &apiKeys); err != nil {
			return nil, err
		}
		proxy.APIKeys = []string(apiKeys)
		proxies[provider] = append(proxies[provider], &proxy)
	}
	return proxies, rows.Err()
}

// mergeCredentials 数据库中的密钥追加到文件中的密钥之后；同名代理以数据库为准
func mergeCredentials(cfg *Config, keys map[string][]string, proxies map[string][]*ProxyConfig, logger *logrus.Logger) {
	for _, p := range cfg.Providers {
		if extra, ok := keys[p.Name]; ok {
			p.APIKeys = append(p.APIKeys, extra...)
			logger.Debugf("数据源 %s 从数据库加载了 %d 个密钥", p.Name, len(extra))
		}

		dbProxies, ok := proxies[p.Name]
		if !ok {
			continue
		}
		index := make(map[string]int, len(p.Proxies))
		for i, existing := range p.Proxies {
			index[existing.Name] = i
		}
		for _, proxy := range dbProxies {
			if i, exists := index[proxy.Name]; exists {
				p.Proxies[i] = proxy
				continue
			}
			index[proxy.Name] = len(p.Proxies)
			p.Proxies = append(p.Proxies, proxy)
		}
	}

	for name := range keys {
		if _, ok := cfg.Provider(name); !ok {
			logger.Warnf("数据库中的密钥引用了未配置的数据源: %s", name)
		}
	}
}

// Close 关闭数据库连接
func (dc *DatabaseConfig) Close() error {
	if dc.DB != nil {
		return dc.DB.Close()
	}
	return nil
}

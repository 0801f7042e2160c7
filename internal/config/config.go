package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"trustscore/internal/errors"
	"trustscore/internal/logging"
	"trustscore/internal/retry"
	"trustscore/internal/units"
	"trustscore/pkg/models"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "TRUSTSCORE"

// Config 主配置
type Config struct {
	Providers []*ProviderConfig       `mapstructure:"providers"`
	Chains    map[string]*ChainConfig `mapstructure:"chains"`
	Scoring   *ScoringConfig          `mapstructure:"scoring"`
	Cache     *CacheConfig            `mapstructure:"cache"`
	Server    *ServerConfig           `mapstructure:"server"`
	Logging   *logging.LogConfig      `mapstructure:"logging"`
}

// ProviderConfig 数据源（区块浏览器API或RPC节点）配置
type ProviderConfig struct {
	Name      string             `mapstructure:"name" json:"name"`
	Kind      string             `mapstructure:"kind" json:"kind"` // explorer | rpc
	BaseURL   string             `mapstructure:"base_url" json:"base_url"`
	ChainID   string             `mapstructure:"chain_id" json:"chain_id,omitempty"`
	RateLimit float64            `mapstructure:"rate_limit" json:"rate_limit"` // 每秒最大调用次数，0表示不限
	Burst     int                `mapstructure:"burst" json:"burst"`
	Timeout   time.Duration      `mapstructure:"timeout" json:"timeout"`
	UseProxy  bool               `mapstructure:"use_proxy" json:"use_proxy"`
	APIKeys   []string           `mapstructure:"api_keys" json:"-"`
	Proxies   []*ProxyConfig     `mapstructure:"proxies" json:"proxies,omitempty"`
	Retry     *retry.RetryConfig `mapstructure:"retry" json:"retry"`
}

// ProxyConfig 出口代理配置。APIKeys为空时使用数据源级别的密钥池
type ProxyConfig struct {
	Name    string   `mapstructure:"name" json:"name"`
	URI     string   `mapstructure:"uri" json:"uri"`
	APIKeys []string `mapstructure:"api_keys" json:"-"`
}

// ChainConfig 区块链路由配置：由哪个数据源提供数据以及原生代币的美元价格
type ChainConfig struct {
	Provider        string  `mapstructure:"provider" json:"provider"`
	BalanceProvider string  `mapstructure:"balance_provider" json:"balance_provider,omitempty"` // 可选的RPC余额数据源
	NativePriceUSD  float64 `mapstructure:"native_price_usd" json:"native_price_usd"`
}

// ScoringConfig 评分配置
type ScoringConfig struct {
	Model               string                `mapstructure:"model" json:"model"`
	UseHistoricalMedian bool                  `mapstructure:"use_historical_median" json:"use_historical_median"`
	EnableDiscount      bool                  `mapstructure:"enable_discount" json:"enable_discount"`
	Weights             map[string]float64    `mapstructure:"weights" json:"weights"`
	BalanceCapUSD       float64               `mapstructure:"balance_cap_usd" json:"balance_cap_usd"`
	TxCountCap          int                   `mapstructure:"tx_count_cap" json:"tx_count_cap"`
	CounterpartyCap     int                   `mapstructure:"counterparty_cap" json:"counterparty_cap"`
	TokenCap            int                   `mapstructure:"token_cap" json:"token_cap"`
	RecencyWindow       time.Duration         `mapstructure:"recency_window" json:"recency_window"`
	AgeWindow           time.Duration         `mapstructure:"age_window" json:"age_window"`
	DiscountTiers       []*DiscountTierConfig `mapstructure:"discount_tiers" json:"discount_tiers"`
}

// DiscountTierConfig 折扣档位
type DiscountTierConfig struct {
	Tier      string  `mapstructure:"tier" json:"tier"`
	Threshold float64 `mapstructure:"threshold" json:"threshold"`
	Fee       string  `mapstructure:"fee" json:"fee"` // 十进制字符串，避免浮点误差
}

// CacheConfig 评分缓存配置
type CacheConfig struct {
	TTL             time.Duration `mapstructure:"ttl" json:"ttl"`
	Backend         string        `mapstructure:"backend" json:"backend"` // memory | bolt
	Path            string        `mapstructure:"path" json:"path"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" json:"cleanup_interval"`
	ComputeTimeout  time.Duration `mapstructure:"compute_timeout" json:"compute_timeout"` // 单次共享计算的超时
}

// ServerConfig 运维HTTP服务配置
type ServerConfig struct {
	Port            int           `mapstructure:"port" json:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
}

// LoadConfig 加载配置：先读YAML文件，再按需从数据库合并数据源凭证
func LoadConfig(configPath string) (*Config, error) {
	cfg, err := LoadConfigFromFile(configPath)
	if err != nil {
		return nil, err
	}

	dbDSN := os.Getenv(EnvPrefix + "_DB_DSN")
	if dbDSN != "" {
		logger := logrus.New()
		dbConfig, err := NewDatabaseConfig(dbDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("连接数据库失败: %w", err)
		}
		defer dbConfig.Close()

		if err := dbConfig.MergeProviderCredentials(cfg); err != nil {
			return nil, fmt.Errorf("从数据库加载数据源凭证失败: %w", err)
		}
		logger.Info("已从数据库合并数据源凭证")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromFile 从文件加载配置，未出现的字段使用默认值
func LoadConfigFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := GetDefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults 为数据源补齐缺省值
func (c *Config) applyDefaults() {
	for _, p := range c.Providers {
		if p == nil {
			continue
		}
		if p.Kind == "" {
			p.Kind = "explorer"
		}
		if p.Timeout <= 0 {
			p.Timeout = 30 * time.Second
		}
		if p.Retry == nil {
			p.Retry = retry.DefaultRetryConfig
		}
	}
}

// Provider 按名称查找数据源配置
func (c *Config) Provider(name string) (*ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p != nil && p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// Validate 校验配置
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return invalid("至少需要配置一个数据源")
	}

	seen := make(map[string]bool)
	for i, p := range c.Providers {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("数据源 %d: %w", i, err)
		}
		if seen[p.Name] {
			return invalid(fmt.Sprintf("数据源名称重复: %s", p.Name))
		}
		seen[p.Name] = true
	}

	for chain, cc := range c.Chains {
		if _, err := units.Lookup(chain); err != nil {
			return invalid(fmt.Sprintf("未知区块链 %s，支持: %s", chain, strings.Join(units.Names(), ", ")))
		}
		if cc == nil || cc.Provider == "" {
			return invalid(fmt.Sprintf("区块链 %s 未指定数据源", chain))
		}
		if !seen[cc.Provider] {
			return invalid(fmt.Sprintf("区块链 %s 引用了未知数据源 %s", chain, cc.Provider))
		}
		if cc.BalanceProvider != "" && !seen[cc.BalanceProvider] {
			return invalid(fmt.Sprintf("区块链 %s 引用了未知余额数据源 %s", chain, cc.BalanceProvider))
		}
		if cc.NativePriceUSD < 0 {
			return invalid(fmt.Sprintf("区块链 %s 的原生代币价格不能为负", chain))
		}
	}

	if c.Scoring == nil {
		return invalid("缺少评分配置")
	}
	if c.Scoring.Model != "" && !models.ScoreType(c.Scoring.Model).Valid() {
		return invalid(fmt.Sprintf("不支持的评分模型: %s", c.Scoring.Model))
	}
	if c.Cache == nil || c.Cache.TTL <= 0 {
		return invalid("缓存TTL必须大于0")
	}
	switch c.Cache.Backend {
	case "memory", "":
	case "bolt":
		if c.Cache.Path == "" {
			return invalid("bolt缓存需要指定path")
		}
	default:
		return invalid(fmt.Sprintf("不支持的缓存后端: %s", c.Cache.Backend))
	}
	return nil
}

// Validate 校验单个数据源配置
func (p *ProviderConfig) Validate() error {
	if p == nil {
		return invalid("数据源配置为空")
	}
	if p.Name == "" {
		return invalid("数据源名称不能为空")
	}
	u, err := url.Parse(p.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return invalid(fmt.Sprintf("数据源 %s 的base_url无效: %q", p.Name, p.BaseURL))
	}
	if p.Kind != "explorer" && p.Kind != "rpc" {
		return invalid(fmt.Sprintf("数据源 %s 的类型无效: %s", p.Name, p.Kind))
	}
	if p.RateLimit < 0 {
		return invalid(fmt.Sprintf("数据源 %s 的rate_limit不能为负", p.Name))
	}
	if p.Retry != nil && p.Retry.Enabled && p.Retry.MaxRetries < 1 {
		return invalid(fmt.Sprintf("数据源 %s 启用重试时max_retries必须大于0", p.Name))
	}
	for _, proxy := range p.Proxies {
		if proxy == nil || proxy.Name == "" {
			return invalid(fmt.Sprintf("数据源 %s 存在未命名的代理", p.Name))
		}
		if proxy.URI != "" {
			if _, err := url.Parse(proxy.URI); err != nil {
				return invalid(fmt.Sprintf("代理 %s 的uri无效: %v", proxy.Name, err))
			}
		}
	}
	return nil
}

func invalid(reason string) error {
	return errors.NewScoreError(errors.ErrorTypeConfig, errors.SeverityCritical,
		errors.ErrConfigInvalid.Code, reason)
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Chains: map[string]*ChainConfig{},
		Scoring: &ScoringConfig{
			Model:               "wallet",
			UseHistoricalMedian: false,
			EnableDiscount:      false,
			Weights: map[string]float64{
				"balance":      0.30,
				"recency":      0.15,
				"age":          0.15,
				"activity":     0.20,
				"counterparty": 0.10,
				"token":        0.10,
			},
			BalanceCapUSD:   100000,
			TxCountCap:      1000,
			CounterpartyCap: 200,
			TokenCap:        50,
			RecencyWindow:   180 * 24 * time.Hour,
			AgeWindow:       4 * 365 * 24 * time.Hour,
		},
		Cache: &CacheConfig{
			TTL:             10 * time.Minute,
			Backend:         "memory",
			CleanupInterval: time.Minute,
			ComputeTimeout:  2 * time.Minute,
		},
		Server: &ServerConfig{
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: &logging.LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

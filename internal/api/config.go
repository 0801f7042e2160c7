package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"trustscore/internal/config"
	"trustscore/internal/retry"
)

// providerView 数据源配置的对外视图，只给出密钥数量不给出密钥本身
type providerView struct {
	Name      string             `json:"name"`
	Kind      string             `json:"kind"`
	BaseURL   string             `json:"base_url"`
	ChainID   string             `json:"chain_id,omitempty"`
	RateLimit float64            `json:"rate_limit"`
	UseProxy  bool               `json:"use_proxy"`
	Keys      int                `json:"api_keys"`
	Proxies   []string           `json:"proxies,omitempty"`
	Retry     *retry.RetryConfig `json:"retry"`
}

func viewProviders(providers []*config.ProviderConfig) []providerView {
	out := make([]providerView, 0, len(providers))
	for _, p := range providers {
		v := providerView{
			Name:      p.Name,
			Kind:      p.Kind,
			BaseURL:   p.BaseURL,
			ChainID:   p.ChainID,
			RateLimit: p.RateLimit,
			UseProxy:  p.UseProxy,
			Keys:      len(p.APIKeys),
			Retry:     p.Retry,
		}
		for _, proxy := range p.Proxies {
			v.Proxies = append(v.Proxies, proxy.Name)
		}
		out = append(out, v)
	}
	return out
}

// getConfig 返回生效中的配置，API密钥和代理地址不会出现在响应中
func (s *Server) getConfig(c *gin.Context) {
	cfg := s.deps.Config
	if cfg == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "配置未初始化"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"providers": viewProviders(cfg.Providers),
		"chains":    cfg.Chains,
		"scoring":   cfg.Scoring,
		"cache":     cfg.Cache,
	})
}

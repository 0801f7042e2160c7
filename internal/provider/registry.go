package provider

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"trustscore/internal/config"
	"trustscore/internal/connection"
	"trustscore/internal/metrics"
	"trustscore/internal/ratelimit"
)

// Registry 按配置构建的数据源客户端和各区块链的Fetcher
type Registry struct {
	clients  map[string]*Client
	fetchers map[string]Fetcher
}

// NewRegistry 为配置中的每个数据源创建客户端，并按chains路由为每条链创建Fetcher
func NewRegistry(cfg *config.Config, pool *connection.Pool, limiters *ratelimit.Registry, m *metrics.Metrics, logger *logrus.Logger) (*Registry, error) {
	r := &Registry{
		clients:  make(map[string]*Client, len(cfg.Providers)),
		fetchers: make(map[string]Fetcher, len(cfg.Chains)),
	}

	for _, p := range cfg.Providers {
		transport, ok := pool.Get(p.Name)
		if !ok {
			return nil, fmt.Errorf("数据源 %s 没有可用的出口", p.Name)
		}
		limiter := limiters.GetOrCreate(p.Name, p.RateLimit, p.Burst)
		r.clients[p.Name] = NewClient(p, transport, limiter, m, logger)
	}

	for chain, cc := range cfg.Chains {
		client, ok := r.clients[cc.Provider]
		if !ok {
			return nil, fmt.Errorf("区块链 %s 引用了未知数据源 %s", chain, cc.Provider)
		}

		var balance BalanceSource
		if cc.BalanceProvider != "" {
			bc, ok := r.clients[cc.BalanceProvider]
			if !ok {
				return nil, fmt.Errorf("区块链 %s 引用了未知余额数据源 %s", chain, cc.BalanceProvider)
			}
			balance = NewRPCBalanceSource(bc)
		}
		r.fetchers[chain] = NewExplorerFetcher(chain, client, balance, logger)
	}

	logger.WithFields(logrus.Fields{
		"providers": len(r.clients),
		"chains":    len(r.fetchers),
	}).Info("数据源注册完成")
	return r, nil
}

// Fetchers 返回按链名称索引的Fetcher
func (r *Registry) Fetchers() map[string]Fetcher {
	out := make(map[string]Fetcher, len(r.fetchers))
	for k, v := range r.fetchers {
		out[k] = v
	}
	return out
}

// Client 按名称获取数据源客户端
func (r *Registry) Client(name string) (*Client, bool) {
	c, ok := r.clients[name]
	return c, ok
}

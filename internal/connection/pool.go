package connection

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"trustscore/internal/config"
	"trustscore/internal/errors"
	"trustscore/internal/rotation"
)

// DirectEndpoint 不经过代理的出口名称
const DirectEndpoint = "direct"

// ProxyEndpoint 命名的出口：可选的代理地址、自有的API密钥轮询池和自有的HTTP客户端。
// 作为一个整体释放；释放后继续使用属于编程错误，会直接panic。
type ProxyEndpoint struct {
	name   string
	uri    string
	keys   *rotation.Pool[string]
	client *http.Client

	mu     sync.RWMutex
	closed bool
	leases atomic.Uint64
}

// NewProxyEndpoint 创建出口。uri为空表示直连
func NewProxyEndpoint(name, uri string, keys []string, timeout time.Duration) (*ProxyEndpoint, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if uri != "" {
		proxyURL, err := url.Parse(uri)
		if err != nil || proxyURL.Host == "" {
			return nil, fmt.Errorf("代理 %s 的地址无效: %q", name, uri)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &ProxyEndpoint{
		name:   name,
		uri:    uri,
		keys:   rotation.NewPool(keys),
		client: &http.Client{Transport: transport, Timeout: timeout},
	}, nil
}

// Name 出口名称
func (e *ProxyEndpoint) Name() string {
	return e.name
}

// URI 代理地址，直连为空
func (e *ProxyEndpoint) URI() string {
	return e.uri
}

// HasOwnKeys 出口是否配置了自己的密钥池
func (e *ProxyEndpoint) HasOwnKeys() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	e.mustBeOpen()
	return e.keys.Len() > 0
}

// NextKey 从出口自有的密钥池中轮询取下一个密钥，池为空时返回空字符串
func (e *ProxyEndpoint) NextKey() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	e.mustBeOpen()
	return e.keys.Next()
}

// Client 出口的HTTP客户端
func (e *ProxyEndpoint) Client() *http.Client {
	e.mu.RLock()
	defer e.mu.RUnlock()
	e.mustBeOpen()
	return e.client
}

// Close 释放传输层连接并丢弃密钥池。重复调用无副作用
func (e *ProxyEndpoint) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.client.CloseIdleConnections()
	e.client = nil
	e.keys = nil
	e.closed = true
}

// Closed 是否已释放
func (e *ProxyEndpoint) Closed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

func (e *ProxyEndpoint) mustBeOpen() {
	if e.closed {
		panic(fmt.Sprintf("connection: 出口 %s 已释放后仍被使用", e.name))
	}
}

// Lease 一次调用使用的出口、客户端和密钥
type Lease struct {
	Client   *http.Client
	APIKey   string
	Endpoint string
}

// ProviderTransport 单个数据源的出口集合。
// 启用代理且配置了代理时按轮询选择代理出口，否则直连；
// 代理没有自己的密钥时使用数据源级别的密钥池。
type ProviderTransport struct {
	provider   string
	useProxy   bool
	requireKey bool
	direct     *ProxyEndpoint
	proxies    []*ProxyEndpoint
	selectors  *rotation.Registry[*ProxyEndpoint] // 代理轮询池，按index取本数据源的池
	index      int
	logger     *logrus.Logger
}

// NewProviderTransport 按数据源配置创建独立的出口集合
func NewProviderTransport(cfg *config.ProviderConfig, logger *logrus.Logger) (*ProviderTransport, error) {
	return newProviderTransport(cfg, 0, rotation.NewRegistry[*ProxyEndpoint](), logger)
}

// newProviderTransport 创建出口集合，代理轮询池以index注册到selectors
func newProviderTransport(cfg *config.ProviderConfig, index int, selectors *rotation.Registry[*ProxyEndpoint], logger *logrus.Logger) (*ProviderTransport, error) {
	direct, err := NewProxyEndpoint(DirectEndpoint, "", cfg.APIKeys, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	t := &ProviderTransport{
		provider:   cfg.Name,
		useProxy:   cfg.UseProxy,
		requireKey: cfg.Kind != "rpc",
		direct:     direct,
		selectors:  selectors,
		index:      index,
		logger:     logger,
	}

	for _, p := range cfg.Proxies {
		endpoint, err := NewProxyEndpoint(p.Name, p.URI, p.APIKeys, cfg.Timeout)
		if err != nil {
			t.Close()
			return nil, err
		}
		t.proxies = append(t.proxies, endpoint)
	}
	if !selectors.Register(index, t.proxies) {
		t.Close()
		return nil, fmt.Errorf("数据源 %s 的代理轮询池编号 %d 重复", cfg.Name, index)
	}

	logger.WithFields(logrus.Fields{
		"provider":  cfg.Name,
		"proxies":   len(t.proxies),
		"use_proxy": cfg.UseProxy,
		"keys":      len(cfg.APIKeys),
	}).Debug("数据源出口已初始化")
	return t, nil
}

// Provider 数据源名称
func (t *ProviderTransport) Provider() string {
	return t.provider
}

// Acquire 为一次调用选择出口和密钥。需要密钥而没有可用密钥时立即失败，绝不使用空密钥发起调用
func (t *ProviderTransport) Acquire() (Lease, error) {
	endpoint := t.direct
	if t.useProxy && len(t.proxies) > 0 {
		if proxy := t.selectors.Next(t.index); proxy != nil {
			endpoint = proxy
		}
	}

	var key string
	if endpoint.HasOwnKeys() {
		key = endpoint.NextKey()
	} else {
		key = t.direct.NextKey()
	}
	if key == "" && t.requireKey {
		return Lease{}, errors.NoCredentials(t.provider)
	}

	endpoint.leases.Add(1)
	return Lease{Client: endpoint.Client(), APIKey: key, Endpoint: endpoint.Name()}, nil
}

// EndpointStats 出口统计
type EndpointStats struct {
	Name    string `json:"name"`
	Proxied bool   `json:"proxied"`
	Keys    int    `json:"keys"`
	Cursor  int    `json:"cursor"`
	Leases  uint64 `json:"leases"`
}

// TransportStats 数据源出口统计
type TransportStats struct {
	Provider    string          `json:"provider"`
	UseProxy    bool            `json:"use_proxy"`
	ProxyCursor int             `json:"proxy_cursor"`
	Endpoints   []EndpointStats `json:"endpoints"`
}

// Stats 获取统计信息
func (t *ProviderTransport) Stats() TransportStats {
	stats := TransportStats{Provider: t.provider, UseProxy: t.useProxy, ProxyCursor: t.selectors.CurrentIndex(t.index)}
	for _, e := range append([]*ProxyEndpoint{t.direct}, t.proxies...) {
		e.mu.RLock()
		s := EndpointStats{Name: e.name, Proxied: e.uri != "", Leases: e.leases.Load()}
		if !e.closed {
			s.Keys = e.keys.Len()
			s.Cursor = e.keys.CurrentIndex()
		}
		e.mu.RUnlock()
		stats.Endpoints = append(stats.Endpoints, s)
	}
	return stats
}

// Close 释放所有出口。只应在进程退出或重新加载配置时调用，不能与进行中的调用并发
func (t *ProviderTransport) Close() {
	t.direct.Close()
	for _, e := range t.proxies {
		e.Close()
	}
}

// Pool 按数据源名称管理出口集合。各数据源的代理轮询池按配置顺序编号，登记在同一个注册表中
type Pool struct {
	transports map[string]*ProviderTransport
	selectors  *rotation.Registry[*ProxyEndpoint]
	logger     *logrus.Logger
	mu         sync.RWMutex
}

// NewPool 按配置为每个数据源创建出口集合
func NewPool(providers []*config.ProviderConfig, logger *logrus.Logger) (*Pool, error) {
	p := &Pool{
		transports: make(map[string]*ProviderTransport, len(providers)),
		selectors:  rotation.NewRegistry[*ProxyEndpoint](),
		logger:     logger,
	}
	for i, cfg := range providers {
		t, err := newProviderTransport(cfg, i, p.selectors, logger)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("初始化数据源 %s 出口失败: %w", cfg.Name, err)
		}
		p.transports[cfg.Name] = t
	}
	logger.Infof("出口池已初始化，共 %d 个数据源", len(p.transports))
	return p, nil
}

// Get 获取数据源的出口集合
func (p *Pool) Get(provider string) (*ProviderTransport, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.transports[provider]
	return t, ok
}

// Stats 获取所有数据源的出口统计
func (p *Pool) Stats() map[string]TransportStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := make(map[string]TransportStats, len(p.transports))
	for name, t := range p.transports {
		stats[name] = t.Stats()
	}
	return stats
}

// Close 关闭出口池
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, t := range p.transports {
		t.Close()
	}
	p.transports = make(map[string]*ProviderTransport)
	p.logger.Info("出口池已关闭")
	return nil
}

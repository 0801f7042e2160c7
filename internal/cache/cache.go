// Package cache 按(地址, 链, 计算模型)缓存评分结果，过期条目永不返回。
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"trustscore/internal/errors"
	"trustscore/pkg/models"
)

// Key 缓存键
type Key struct {
	Address string
	Chain   string
	Model   models.ScoreType
}

// String 链名统一小写；地址原样使用，调用方负责传入规范化后的地址（base58地址区分大小写）
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", strings.ToLower(k.Chain), k.Model, k.Address)
}

// DefaultComputeTimeout 共享计算的默认超时时间
const DefaultComputeTimeout = 2 * time.Minute

// ComputeFunc 缓存未命中时的计算函数
type ComputeFunc func(ctx context.Context) (*models.WalletScore, error)

// Stats 缓存统计
type Stats struct {
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	Computes uint64 `json:"computes"`
	Shared   uint64 `json:"shared"` // 等待同键计算结果的请求数
	Entries  int    `json:"entries"`
	TTL      string `json:"ttl"`
}

// ScoreCache 评分缓存
type ScoreCache struct {
	store          Store
	ttl            time.Duration
	computeTimeout time.Duration
	logger         *logrus.Logger
	group          singleflight.Group
	now            func() time.Time

	hits     atomic.Uint64
	misses   atomic.Uint64
	computes atomic.Uint64
	shared   atomic.Uint64

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewScoreCache 创建评分缓存
func NewScoreCache(store Store, ttl time.Duration, logger *logrus.Logger) *ScoreCache {
	return &ScoreCache{
		store:          store,
		ttl:            ttl,
		computeTimeout: DefaultComputeTimeout,
		logger:         logger,
		now:            time.Now,
		stopCh:         make(chan struct{}),
	}
}

// SetComputeTimeout 设置共享计算的超时时间，<=0时使用默认值
func (c *ScoreCache) SetComputeTimeout(timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultComputeTimeout
	}
	c.computeTimeout = timeout
}

// Get 读取未过期的条目；过期条目会被删除并视为未命中
func (c *ScoreCache) Get(key Key) (*models.WalletScore, bool) {
	k := key.String()
	entry, ok, err := c.store.Get(k)
	if err != nil {
		c.logger.Warnf("读取评分缓存失败，按未命中处理: %v", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if now := c.now(); entry.Expired(now) {
		// 读取之后可能已有新条目写入，只删除仍然过期的条目
		if _, err := c.store.DeleteIfExpired(k, now); err != nil {
			c.logger.Debugf("删除过期缓存条目 %s 失败: %v", k, err)
		}
		return nil, false
	}
	return entry.Score, true
}

// Set 写入条目，覆盖旧值
func (c *ScoreCache) Set(key Key, score *models.WalletScore) error {
	now := c.now()
	entry := &Entry{Score: score, StoredAt: now, ExpiresAt: now.Add(c.ttl)}
	if err := c.store.Set(key.String(), entry); err != nil {
		return errors.WrapError(err, errors.ErrorTypeCache, errors.SeverityMedium,
			"CACHE_WRITE_FAILED", "写入评分缓存失败")
	}
	return nil
}

// GetOrCompute 命中时直接返回；未命中时同一个键同一时刻最多只有一次计算，
// 并发的同键请求等待这次计算的结果。第二个返回值表示结果是否来自缓存。
// 计算不随任何一个调用方取消，调用方的ctx结束只让该调用方提前返回。
func (c *ScoreCache) GetOrCompute(ctx context.Context, key Key, compute ComputeFunc) (*models.WalletScore, bool, error) {
	if score, ok := c.Get(key); ok {
		c.hits.Add(1)
		return score, true, nil
	}
	c.misses.Add(1)

	k := key.String()
	ch := c.group.DoChan(k, func() (interface{}, error) {
		// 等锁期间可能已有其他计算写入
		if score, ok := c.Get(key); ok {
			return score, nil
		}

		c.computes.Add(1)
		computeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.computeTimeout)
		defer cancel()
		score, err := compute(computeCtx)
		if err != nil {
			return nil, err
		}
		if err := c.Set(key, score); err != nil {
			// 写缓存失败不影响本次结果
			c.logger.Warnf("评分结果未能缓存: %v", err)
		}
		return score, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.shared.Add(1)
		}
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*models.WalletScore), false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Invalidate 删除指定条目
func (c *ScoreCache) Invalidate(key Key) error {
	return c.store.Delete(key.String())
}

// Purge 清空缓存
func (c *ScoreCache) Purge() (int, error) {
	n, err := c.store.Purge()
	if err != nil {
		return 0, err
	}
	c.logger.Infof("评分缓存已清空，删除 %d 条", n)
	return n, nil
}

// StartJanitor 启动后台清理，定期删除过期条目
func (c *ScoreCache) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				n, err := c.store.DeleteExpired(c.now())
				if err != nil {
					c.logger.Warnf("清理过期缓存失败: %v", err)
					continue
				}
				if n > 0 {
					c.logger.Debugf("清理了 %d 条过期缓存", n)
				}
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stats 获取统计信息
func (c *ScoreCache) Stats() Stats {
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Computes: c.computes.Load(),
		Shared:   c.shared.Load(),
		Entries:  c.store.Len(),
		TTL:      c.ttl.String(),
	}
}

// Close 停止后台清理并关闭存储，可重复调用
func (c *ScoreCache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopCh)
		c.wg.Wait()
		err = c.store.Close()
	})
	return err
}

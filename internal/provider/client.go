// Package provider 封装对外部区块链数据源的调用：限流、出口与密钥轮询、重试，以及响应分类。
package provider

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"trustscore/internal/config"
	"trustscore/internal/connection"
	"trustscore/internal/errors"
	"trustscore/internal/logging"
	"trustscore/internal/metrics"
	"trustscore/internal/ratelimit"
	"trustscore/internal/retry"
)

// maxErrorBody 错误信息中保留的响应体长度
const maxErrorBody = 256

// AttemptFunc 单次调用，使用本次选中的出口和密钥
type AttemptFunc func(ctx context.Context, lease connection.Lease) error

// ResponseCheck 检查响应体是否为数据源层面的错误（例如HTTP 200中携带的限流提示）
type ResponseCheck func(body []byte) error

// Client 单个数据源的调用客户端。每次尝试都重新等待限流配额并重新选择出口和密钥
type Client struct {
	cfg       *config.ProviderConfig
	transport *connection.ProviderTransport
	limiter   *ratelimit.Limiter
	retrier   *retry.Retrier
	metrics   *metrics.Metrics
	logger    *logrus.Logger
}

// NewClient 创建数据源客户端
func NewClient(cfg *config.ProviderConfig, transport *connection.ProviderTransport, limiter *ratelimit.Limiter, m *metrics.Metrics, logger *logrus.Logger) *Client {
	return &Client{
		cfg:       cfg,
		transport: transport,
		limiter:   limiter,
		retrier:   retry.NewRetrier(cfg.Name, cfg.Retry, logger),
		metrics:   m,
		logger:    logger,
	}
}

// Name 数据源名称
func (c *Client) Name() string {
	return c.cfg.Name
}

// Do 在限流、轮询和重试的保护下执行调用，返回尝试次数
func (c *Client) Do(ctx context.Context, operation string, fn AttemptFunc) (int, error) {
	start := time.Now()
	attempts, err := c.retrier.Execute(ctx, operation, func(ctx context.Context) error {
		waitStart := time.Now()
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		c.metrics.RecordRateLimitWait(c.cfg.Name, time.Since(waitStart))

		lease, err := c.transport.Acquire()
		if err != nil {
			return err
		}
		logging.NewProviderLogger(c.logger, c.cfg.Name, lease.Endpoint).
			WithField("operation", operation).
			Debug("调用数据源")
		return fn(ctx, lease)
	})

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.metrics.RecordProviderCall(c.cfg.Name, outcome, attempts, time.Since(start))
	return attempts, err
}

// Get 以GET方式调用数据源，自动附加chainid和apikey参数
func (c *Client) Get(ctx context.Context, operation string, params url.Values, check ResponseCheck) ([]byte, error) {
	var body []byte
	_, err := c.Do(ctx, operation, func(ctx context.Context, lease connection.Lease) error {
		b, err := c.get(ctx, lease, params)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(b); err != nil {
				return err
			}
		}
		body = b
		return nil
	})
	return body, err
}

func (c *Client) get(ctx context.Context, lease connection.Lease, params url.Values) ([]byte, error) {
	query := url.Values{}
	for k, v := range params {
		query[k] = v
	}
	if c.cfg.ChainID != "" {
		query.Set("chainid", c.cfg.ChainID)
	}
	if lease.APIKey != "" {
		query.Set("apikey", lease.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := lease.Client.Do(req)
	if err != nil {
		return nil, c.transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.StatusError(resp.StatusCode, body)
	}
	return body, nil
}

// transportError 网络层故障，可重试
func (c *Client) transportError(err error) error {
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	errorType := errors.ErrorTypeTransport
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) && urlErr.Timeout() {
		errorType = errors.ErrorTypeTimeout
	}
	return errors.WrapError(err, errorType, errors.SeverityMedium, "PROVIDER_TRANSPORT",
		fmt.Sprintf("数据源 %s 网络请求失败", c.cfg.Name)).
		WithContext("provider", c.cfg.Name)
}

// StatusError 将非200响应分类为可重试或不可重试的错误
func (c *Client) StatusError(status int, body []byte) error {
	cause := fmt.Errorf("HTTP %d: %s", status, truncate(body))
	if c.cfg.Retry.IsTransientStatus(status) {
		errorType := errors.ErrorTypeTransport
		if status == http.StatusTooManyRequests {
			errorType = errors.ErrorTypeRateLimit
		}
		return errors.WrapError(cause, errorType, errors.SeverityMedium, "PROVIDER_STATUS",
			fmt.Sprintf("数据源 %s 返回 HTTP %d", c.cfg.Name, status)).
			WithStatus(status).
			WithContext("provider", c.cfg.Name)
	}
	return errors.ProviderRejected(c.cfg.Name, status, cause)
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}

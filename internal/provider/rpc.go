package provider

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"trustscore/internal/connection"
	"trustscore/internal/errors"
)

// APIKeyPlaceholder RPC地址中的密钥占位符，例如 https://mainnet.infura.io/v3/{apikey}
const APIKeyPlaceholder = "{apikey}"

// RPCBalanceSource 通过EVM节点的eth_getBalance读取原生代币余额
type RPCBalanceSource struct {
	client  *Client
	baseURL string
}

// NewRPCBalanceSource 创建节点余额来源
func NewRPCBalanceSource(client *Client) *RPCBalanceSource {
	return &RPCBalanceSource{client: client, baseURL: client.cfg.BaseURL}
}

// Balance 读取最新区块的余额
func (s *RPCBalanceSource) Balance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, errors.ProviderRejected(s.client.Name(), 0, fmt.Errorf("不是EVM地址: %s", address))
	}

	var balance *big.Int
	_, err := s.client.Do(ctx, "eth_getBalance", func(ctx context.Context, lease connection.Lease) error {
		endpoint := strings.ReplaceAll(s.baseURL, APIKeyPlaceholder, lease.APIKey)
		rc, err := rpc.DialOptions(ctx, endpoint, rpc.WithHTTPClient(lease.Client))
		if err != nil {
			return s.client.transportError(err)
		}
		defer rc.Close()

		b, err := ethclient.NewClient(rc).BalanceAt(ctx, common.HexToAddress(address), nil)
		if err != nil {
			return s.classify(err)
		}
		balance = b
		return nil
	})
	return balance, err
}

// classify 区分节点返回的HTTP错误、JSON-RPC错误和网络错误
func (s *RPCBalanceSource) classify(err error) error {
	var httpErr rpc.HTTPError
	if stderrors.As(err, &httpErr) {
		return s.client.StatusError(httpErr.StatusCode, httpErr.Body)
	}
	var rpcErr rpc.Error
	if stderrors.As(err, &rpcErr) {
		// -32005 是多数节点服务商使用的限流错误码
		if rpcErr.ErrorCode() == -32005 {
			return s.client.StatusError(429, []byte(rpcErr.Error()))
		}
		return errors.ProviderRejected(s.client.Name(), 200, err)
	}
	return s.client.transportError(err)
}

package validation

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"

	"trustscore/internal/errors"
	"trustscore/internal/units"
	"trustscore/pkg/models"
)

// Validator 地址与原始链上数据验证器
type Validator struct {
	logger     *logrus.Logger
	strictMode bool // 严格模式下数据警告视为错误
	rules      map[units.Family]AddressRule
}

// AddressRule 单个地址格式族的验证规则
type AddressRule interface {
	// Normalize 校验地址并返回规范形式
	Normalize(addr string) (string, error)
	Family() units.Family
	Description() string
}

// ValidationResult 验证结果
type ValidationResult struct {
	Valid    bool                 `json:"valid"`
	Errors   []*errors.ScoreError `json:"errors,omitempty"`
	Warnings []string             `json:"warnings,omitempty"`
}

// NewValidator 创建验证器
func NewValidator(logger *logrus.Logger, strictMode bool) *Validator {
	v := &Validator{
		logger:     logger,
		strictMode: strictMode,
		rules:      make(map[units.Family]AddressRule),
	}

	v.AddRule(&EVMAddressRule{})
	v.AddRule(&SolanaAddressRule{})
	v.AddRule(&TronAddressRule{})
	v.AddRule(&BitcoinAddressRule{})

	return v
}

// AddRule 添加或替换地址规则
func (v *Validator) AddRule(rule AddressRule) {
	v.rules[rule.Family()] = rule
	v.logger.Debugf("已注册地址规则: %s", rule.Family())
}

// NormalizeAddress 按链的地址格式校验并规范化地址
func (v *Validator) NormalizeAddress(chain units.Chain, addr string) (string, error) {
	rule, ok := v.rules[chain.Family]
	if !ok {
		return "", errors.NewScoreError(errors.ErrorTypeUnsupportedChain, errors.SeverityLow,
			errors.ErrUnsupportedChain.Code, fmt.Sprintf("区块链 %s 没有地址规则", chain.Name))
	}

	normalized, err := rule.Normalize(strings.TrimSpace(addr))
	if err != nil {
		return "", errors.WrapError(err, errors.ErrorTypeValidation, errors.SeverityLow,
			errors.ErrInvalidAddress.Code, fmt.Sprintf("%s 地址格式无效: %q", chain.Name, addr)).
			WithContext("chain", chain.Name)
	}
	return normalized, nil
}

// ValidateChainData 检查数据源返回的数据是否自洽。
// 问题默认记为警告，评分仍按尽力而为的方式继续；严格模式下警告升级为错误。
func (v *Validator) ValidateChainData(data *models.RawChainData, now time.Time) *ValidationResult {
	result := &ValidationResult{Valid: true}
	if data == nil {
		result.Valid = false
		result.Errors = append(result.Errors, errors.NewScoreError(errors.ErrorTypeNoData,
			errors.SeverityMedium, errors.ErrNoProviderData.Code, "数据为空"))
		return result
	}

	warn := func(format string, args ...interface{}) {
		result.Warnings = append(result.Warnings, fmt.Sprintf(format, args...))
	}

	if data.NativeBalance != nil && data.NativeBalance.Sign() < 0 {
		warn("原生余额为负: %s", data.NativeBalance)
	}

	// 允许少量时钟偏差
	horizon := now.Add(5 * time.Minute)
	seen := make(map[string]bool, len(data.Transactions))
	for i := range data.Transactions {
		tx := &data.Transactions[i]
		if tx.Timestamp.After(horizon) {
			warn("交易 %s 的时间戳在未来: %s", tx.Hash, tx.Timestamp.Format(time.RFC3339))
		}
		if tx.Value != nil && tx.Value.Sign() < 0 {
			warn("交易 %s 的金额为负", tx.Hash)
		}
		if tx.Hash != "" {
			if seen[tx.Hash] {
				warn("交易 %s 重复出现", tx.Hash)
			}
			seen[tx.Hash] = true
		}
	}

	for i := range data.TokenTransfers {
		tr := &data.TokenTransfers[i]
		if tr.ContractAddress == "" {
			warn("代币转账 %s 缺少合约地址", tr.Hash)
		}
		if tr.Timestamp.After(horizon) {
			warn("代币转账 %s 的时间戳在未来", tr.Hash)
		}
	}

	if v.strictMode && len(result.Warnings) > 0 {
		result.Valid = false
		for _, w := range result.Warnings {
			result.Errors = append(result.Errors, errors.NewScoreError(errors.ErrorTypeValidation,
				errors.SeverityMedium, "INCONSISTENT_CHAIN_DATA", w))
		}
	}
	return result
}

// SetStrictMode 设置严格模式
func (v *Validator) SetStrictMode(strict bool) {
	v.strictMode = strict
	v.logger.Infof("验证器严格模式设置为: %t", strict)
}

// EVMAddressRule 以太坊兼容链地址，规范形式为EIP-55校验和格式
type EVMAddressRule struct{}

func (r *EVMAddressRule) Family() units.Family { return units.FamilyEVM }

func (r *EVMAddressRule) Description() string { return "EVM地址验证规则" }

func (r *EVMAddressRule) Normalize(addr string) (string, error) {
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return "", fmt.Errorf("缺少0x前缀")
	}
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("不是20字节十六进制地址")
	}
	return common.HexToAddress(addr).Hex(), nil
}

// SolanaAddressRule Solana地址：base58编码的32字节公钥
type SolanaAddressRule struct{}

func (r *SolanaAddressRule) Family() units.Family { return units.FamilySolana }

func (r *SolanaAddressRule) Description() string { return "Solana地址验证规则" }

func (r *SolanaAddressRule) Normalize(addr string) (string, error) {
	decoded, err := base58.Decode(addr)
	if err != nil {
		return "", fmt.Errorf("base58解码失败: %w", err)
	}
	if len(decoded) != 32 {
		return "", fmt.Errorf("公钥长度应为32字节，实际为%d", len(decoded))
	}
	return addr, nil
}

// TronAddressRule Tron地址：base58check编码，版本字节0x41
type TronAddressRule struct{}

func (r *TronAddressRule) Family() units.Family { return units.FamilyTron }

func (r *TronAddressRule) Description() string { return "Tron地址验证规则" }

func (r *TronAddressRule) Normalize(addr string) (string, error) {
	payload, err := decodeBase58Check(addr)
	if err != nil {
		return "", err
	}
	if len(payload) != 21 || payload[0] != 0x41 {
		return "", fmt.Errorf("不是Tron主网地址")
	}
	return addr, nil
}

// BitcoinAddressRule 比特币地址：传统base58check（P2PKH/P2SH）或bech32
type BitcoinAddressRule struct{}

var bech32Pattern = regexp.MustCompile(`^bc1[qpzry9x8gf2tvdw0s3jn54khce6mua7l]{11,71}$`)

func (r *BitcoinAddressRule) Family() units.Family { return units.FamilyBitcoin }

func (r *BitcoinAddressRule) Description() string { return "比特币地址验证规则" }

func (r *BitcoinAddressRule) Normalize(addr string) (string, error) {
	if lower := strings.ToLower(addr); strings.HasPrefix(lower, "bc1") {
		// bech32不允许大小写混用
		if addr != lower && addr != strings.ToUpper(addr) {
			return "", fmt.Errorf("bech32地址大小写混用")
		}
		if !bech32Pattern.MatchString(lower) {
			return "", fmt.Errorf("bech32地址格式无效")
		}
		return lower, nil
	}

	payload, err := decodeBase58Check(addr)
	if err != nil {
		return "", err
	}
	if len(payload) != 21 || (payload[0] != 0x00 && payload[0] != 0x05) {
		return "", fmt.Errorf("不是比特币主网地址")
	}
	return addr, nil
}

// decodeBase58Check 解码base58check并校验4字节双SHA256校验和，返回去掉校验和的负载
func decodeBase58Check(addr string) ([]byte, error) {
	decoded, err := base58.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("base58解码失败: %w", err)
	}
	if len(decoded) < 5 {
		return nil, fmt.Errorf("地址过短")
	}
	payload, checksum := decoded[:len(decoded)-4], decoded[len(decoded)-4:]
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	if !bytes.Equal(second[:4], checksum) {
		return nil, fmt.Errorf("校验和不匹配")
	}
	return payload, nil
}

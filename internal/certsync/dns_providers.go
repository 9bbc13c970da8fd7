package certsync

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/providers/dns/alidns"
	"github.com/go-acme/lego/v4/providers/dns/dnspod"
	"go.uber.org/zap"
)

// createDNSProvider 为内嵌客户端创建DNS提供商实例
// 外部lego二进制支持全部提供商，内嵌模式只覆盖常用的几个
func createDNSProvider(providerName string, credentials map[string]string, logger *zap.Logger) (challenge.Provider, error) {
	switch strings.ToLower(providerName) {
	case "mock":
		// 测试用的模拟DNS提供商
		return newMockDNSProvider(logger), nil
	case "aliyun", "alidns":
		// 阿里云DNS提供商
		apiKey, ok1 := credentials["ALICLOUD_ACCESS_KEY"]
		secretKey, ok2 := credentials["ALICLOUD_SECRET_KEY"]
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("阿里云DNS需要ALICLOUD_ACCESS_KEY和ALICLOUD_SECRET_KEY凭证")
		}
		return newAliDNSProvider(apiKey, secretKey, logger)
	case "dnspod", "tencentcloud":
		// DNSPod/腾讯云DNS提供商
		secretId, ok1 := credentials["TENCENTCLOUD_SECRET_ID"]
		secretKey, ok2 := credentials["TENCENTCLOUD_SECRET_KEY"]
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("腾讯云DNS需要TENCENTCLOUD_SECRET_ID和TENCENTCLOUD_SECRET_KEY凭证")
		}
		return newDNSPodProvider(secretId, secretKey, logger)
	default:
		return nil, fmt.Errorf("内嵌模式不支持的DNS提供商: %s（可改用binary模式）", providerName)
	}
}

// legoProviderWrapper 包装lego库的DNS提供商，记录验证记录的增删
type legoProviderWrapper struct {
	provider challenge.Provider
	logger   *zap.Logger
}

// Present 添加DNS TXT记录
func (w *legoProviderWrapper) Present(domain, token, keyAuth string) error {
	w.logger.Info("添加DNS验证记录", zap.String("domain", domain))
	return w.provider.Present(domain, token, keyAuth)
}

// CleanUp 清理DNS TXT记录
func (w *legoProviderWrapper) CleanUp(domain, token, keyAuth string) error {
	w.logger.Info("清理DNS验证记录", zap.String("domain", domain))
	return w.provider.CleanUp(domain, token, keyAuth)
}

// mockDNSProvider 测试用的模拟DNS提供商
type mockDNSProvider struct {
	logger *zap.Logger
}

func newMockDNSProvider(logger *zap.Logger) *mockDNSProvider {
	return &mockDNSProvider{logger: logger}
}

// Present 模拟添加DNS记录
func (p *mockDNSProvider) Present(domain, token, keyAuth string) error {
	p.logger.Info("模拟添加DNS记录", zap.String("domain", domain))
	time.Sleep(100 * time.Millisecond)
	return nil
}

// CleanUp 模拟清理DNS记录
func (p *mockDNSProvider) CleanUp(domain, token, keyAuth string) error {
	p.logger.Info("模拟清理DNS记录", zap.String("domain", domain))
	return nil
}

// newAliDNSProvider 创建阿里云DNS提供商
func newAliDNSProvider(accessKey, secretKey string, logger *zap.Logger) (challenge.Provider, error) {
	cfg := alidns.NewDefaultConfig()
	cfg.APIKey = accessKey
	cfg.SecretKey = secretKey
	cfg.TTL = 600

	provider, err := alidns.NewDNSProviderConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("创建阿里云DNS提供商失败: %w", err)
	}

	return &legoProviderWrapper{provider: provider, logger: logger}, nil
}

// newDNSPodProvider 创建DNSPod/腾讯云DNS提供商
func newDNSPodProvider(secretId, secretKey string, logger *zap.Logger) (challenge.Provider, error) {
	cfg := dnspod.NewDefaultConfig()
	cfg.LoginToken = fmt.Sprintf("%s,%s", secretId, secretKey)
	cfg.TTL = 600

	provider, err := dnspod.NewDNSProviderConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("创建DNSPod DNS提供商失败: %w", err)
	}

	return &legoProviderWrapper{provider: provider, logger: logger}, nil
}

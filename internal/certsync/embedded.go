package certsync

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"go.uber.org/zap"

	"certsync/app/config"
	"certsync/pkg/common"
	"certsync/pkg/utils"
)

// acmeUser 实现lego的账户接口
type acmeUser struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

// GetEmail 实现账户接口
func (u *acmeUser) GetEmail() string {
	return u.email
}

// GetRegistration 实现账户接口
func (u *acmeUser) GetRegistration() *registration.Resource {
	return u.registration
}

// GetPrivateKey 实现账户接口
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey {
	return u.key
}

// embeddedClient 内嵌lego库的ACME客户端
// 与外部二进制写入相同的证书库布局，后续的新鲜度检测和部署路径完全一致
type embeddedClient struct {
	cfg     *config.AcmeConfig
	certDir string
	logger  *zap.Logger
	client  *lego.Client
}

// NewEmbeddedClient 创建内嵌lego库的ACME客户端
func NewEmbeddedClient(cfg *config.AcmeConfig, certDir string, logger *zap.Logger) AcmeClient {
	return &embeddedClient{
		cfg:     cfg,
		certDir: certDir,
		logger:  logger,
	}
}

// Obtain 首次签发
func (c *embeddedClient) Obtain(ctx context.Context) error {
	return c.issue(ctx)
}

// Renew 续期
// 与lego二进制的--days语义一致：剩余有效期大于阈值时不做任何操作、正常返回
func (c *embeddedClient) Renew(ctx context.Context) error {
	remaining, err := c.remainingDays()
	if err == nil && remaining > c.cfg.RenewDays {
		c.logger.Info("证书暂不需要续期",
			zap.Strings("domains", c.cfg.Domains),
			zap.Int("remaining_days", remaining),
			zap.Int("renew_days", c.cfg.RenewDays))
		return nil
	}

	return c.issue(ctx)
}

// remainingDays 读取现有证书的剩余有效天数
func (c *embeddedClient) remainingDays() (int, error) {
	store := NewCertificateStore(c.certDir)
	data, err := os.ReadFile(store.CertPath(c.cfg.Domains[0]))
	if err != nil {
		return 0, err
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return 0, fmt.Errorf("解析证书PEM失败")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return 0, err
	}

	return int(time.Until(cert.NotAfter).Hours() / 24), nil
}

// issue 申请证书并写入证书库
func (c *embeddedClient) issue(ctx context.Context) error {
	if err := c.ensureClient(); err != nil {
		return err
	}

	// 设置DNS提供商凭证环境变量
	for key, value := range c.cfg.Credentials {
		os.Setenv(key, value)
	}
	defer func() {
		for key := range c.cfg.Credentials {
			os.Unsetenv(key)
		}
	}()

	provider, err := createDNSProvider(c.cfg.DNSProvider, c.cfg.Credentials, c.logger)
	if err != nil {
		return common.NewAcmeClientError("创建DNS提供商失败", err)
	}

	// 添加公共DNS解析器，确保DNS记录传播验证正常工作
	resolvers := []string{"8.8.8.8:53", "1.1.1.1:53"}
	if c.cfg.Resolver != "" {
		resolvers = []string{c.cfg.Resolver}
	}
	dnsOptions := []dns01.ChallengeOption{
		dns01.AddRecursiveNameservers(resolvers),
		dns01.AddDNSTimeout(30 * time.Second),
	}

	if err := c.client.Challenge.SetDNS01Provider(provider, dnsOptions...); err != nil {
		return common.NewAcmeClientError("设置DNS验证提供商失败", err)
	}

	c.logger.Info("开始申请证书（使用DNS验证）",
		zap.Strings("domains", c.cfg.Domains),
		zap.String("dns_provider", c.cfg.DNSProvider))

	certificates, err := c.client.Certificate.Obtain(certificate.ObtainRequest{
		Domains: c.cfg.Domains,
		Bundle:  true,
	})
	if err != nil {
		return common.NewAcmeClientError("申请证书失败", err)
	}

	if err := c.writeArtifacts(certificates); err != nil {
		return err
	}

	return nil
}

// ensureClient 延迟初始化lego客户端并注册账户
func (c *embeddedClient) ensureClient() error {
	if c.client != nil {
		return nil
	}

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return common.NewAcmeClientError("生成账户私钥失败", err)
	}

	user := &acmeUser{
		email: c.cfg.Email,
		key:   privateKey,
	}

	legoCfg := lego.NewConfig(user)
	if c.cfg.Staging {
		legoCfg.CADirURL = lego.LEDirectoryStaging
	} else {
		legoCfg.CADirURL = lego.LEDirectoryProduction
	}
	legoCfg.Certificate.KeyType = parseKeyType(c.cfg.KeyType)

	client, err := lego.NewClient(legoCfg)
	if err != nil {
		return common.NewAcmeClientError("创建ACME客户端失败", err)
	}

	reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return common.NewAcmeClientError("注册ACME账户失败", err)
	}

	user.registration = reg
	c.client = client
	return nil
}

// writeArtifacts 按证书库布局写入签发产物
func (c *embeddedClient) writeArtifacts(res *certificate.Resource) error {
	name := CertName(c.cfg.Domains[0])
	store := NewCertificateStore(c.certDir)

	if _, err := utils.WriteContentToFile(store.CertPath(c.cfg.Domains[0]), res.Certificate, 0644); err != nil {
		return common.NewAcmeClientError("保存证书文件失败", err)
	}
	if _, err := utils.WriteContentToFile(store.KeyPath(c.cfg.Domains[0]), res.PrivateKey, 0600); err != nil {
		return common.NewAcmeClientError("保存私钥文件失败", err)
	}
	if len(res.IssuerCertificate) > 0 {
		issuerPath := store.CertPath(c.cfg.Domains[0]) + ".issuer"
		if _, err := utils.WriteContentToFile(issuerPath, res.IssuerCertificate, 0644); err != nil {
			return common.NewAcmeClientError("保存中间证书文件失败", err)
		}
	}

	// 解析证书记录有效期
	block, _ := pem.Decode(res.Certificate)
	if block != nil {
		if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
			c.logger.Info("证书申请成功",
				zap.String("name", name),
				zap.Time("issued_at", cert.NotBefore),
				zap.Time("expires_at", cert.NotAfter),
				zap.Int("valid_days", int(time.Until(cert.NotAfter).Hours()/24)))
		}
	}

	return nil
}

// parseKeyType 将配置的密钥类型转换为lego的密钥类型
func parseKeyType(keyType string) certcrypto.KeyType {
	switch keyType {
	case "rsa2048":
		return certcrypto.RSA2048
	case "rsa4096":
		return certcrypto.RSA4096
	case "ec256":
		return certcrypto.EC256
	case "ec384":
		return certcrypto.EC384
	default:
		return certcrypto.RSA2048
	}
}

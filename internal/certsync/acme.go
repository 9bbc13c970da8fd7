package certsync

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"certsync/app/config"
	"certsync/pkg/common"
)

// legoCommand 调用外部lego二进制的ACME客户端
// lego在"已签发/已续期"和"尚未到期"两种情况下都以0退出，
// 是否有新材料由新鲜度检测判断；非0退出视为致命错误，本轮不做任何部署
type legoCommand struct {
	cfg     *config.AcmeConfig
	baseDir string
	runner  commandRunner
	logger  *zap.Logger
}

// NewLegoCommand 创建基于外部lego二进制的ACME客户端
func NewLegoCommand(cfg *config.AcmeConfig, baseDir string, logger *zap.Logger) AcmeClient {
	return &legoCommand{
		cfg:     cfg,
		baseDir: baseDir,
		runner:  execRunner{},
		logger:  logger,
	}
}

// Obtain 首次签发，接受服务条款
func (c *legoCommand) Obtain(ctx context.Context) error {
	args := append(c.commonArgs(), "run")
	return c.invoke(ctx, args)
}

// Renew 续期，是否到期由lego按--days阈值判断
func (c *legoCommand) Renew(ctx context.Context) error {
	args := append(c.commonArgs(), "renew", "--days", strconv.Itoa(c.cfg.RenewDays))
	return c.invoke(ctx, args)
}

// commonArgs 构造两种入口共用的命令行参数
func (c *legoCommand) commonArgs() []string {
	args := []string{
		"--accept-tos",
		"--path", c.baseDir,
		"--email", c.cfg.Email,
		"--key-type", c.cfg.KeyType,
		"--dns", c.cfg.DNSProvider,
	}

	if c.cfg.Resolver != "" {
		args = append(args, "--dns.resolvers", c.cfg.Resolver)
	}
	if c.cfg.Staging {
		args = append(args, "--server", "https://acme-staging-v02.api.letsencrypt.org/directory")
	}

	for _, domain := range c.cfg.Domains {
		args = append(args, "--domains", domain)
	}

	return args
}

// invoke 执行lego命令
// DNS提供商凭证以环境变量形式传递，执行完成后清理
func (c *legoCommand) invoke(ctx context.Context, args []string) error {
	for key, value := range c.cfg.Credentials {
		os.Setenv(key, value)
	}
	defer func() {
		for key := range c.cfg.Credentials {
			os.Unsetenv(key)
		}
	}()

	c.logger.Info("调用ACME客户端",
		zap.String("binary", c.cfg.BinaryPath),
		zap.Strings("domains", c.cfg.Domains),
		zap.String("dns_provider", c.cfg.DNSProvider))

	output, err := c.runner.Run(ctx, c.cfg.BinaryPath, args...)
	if err != nil {
		return common.NewAcmeClientError(
			fmt.Sprintf("ACME客户端执行失败, 输出: %s", strings.TrimSpace(string(output))), err)
	}

	c.logger.Info("ACME客户端执行完成", zap.Strings("domains", c.cfg.Domains))
	return nil
}

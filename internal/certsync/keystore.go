package certsync

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"certsync/app/config"
	"certsync/pkg/common"
	"certsync/pkg/utils"
)

// execRunner 基于os/exec的命令执行器
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// KeystoreSynchronizer 将控制器密钥库与当前证书对齐
// 每次变更前都会生成带时间戳的备份文件，备份永不覆盖、无限累积（已知缺口，不在此处理）
type KeystoreSynchronizer struct {
	cfg    *config.KeystoreConfig
	runner commandRunner
	logger *zap.Logger
	now    func() time.Time
}

// NewKeystoreSynchronizer 创建密钥库同步器
func NewKeystoreSynchronizer(cfg *config.KeystoreConfig, logger *zap.Logger) *KeystoreSynchronizer {
	return &KeystoreSynchronizer{
		cfg:    cfg,
		runner: execRunner{},
		logger: logger,
		now:    time.Now,
	}
}

// Sync 按配置的模式同步密钥库
func (s *KeystoreSynchronizer) Sync(ctx context.Context, bundle *CertificateBundle) error {
	switch s.cfg.Mode {
	case config.KeystoreModeFullChain:
		return s.syncFullChain(ctx, bundle)
	case config.KeystoreModeLeafOnly:
		return s.syncLeafOnly(ctx, bundle)
	default:
		return common.NewKeystoreSyncError(fmt.Sprintf("不支持的密钥库同步模式: %s", s.cfg.Mode), nil)
	}
}

// syncFullChain 调用宿主机信任库导入命令导入完整证书链
// 导入工具自行处理同名alias的替换，一步完成
func (s *KeystoreSynchronizer) syncFullChain(ctx context.Context, bundle *CertificateBundle) error {
	keyPath, certPath, cleanup, err := s.writeTempMaterial(bundle.PrivateKey, bundle.FullChain)
	if err != nil {
		return err
	}
	defer cleanup()

	name := s.cfg.ImportCommand[0]
	args := append(append([]string{}, s.cfg.ImportCommand[1:]...), keyPath, certPath)

	s.logger.Info("导入完整证书链到宿主机信任库",
		zap.String("domain", bundle.Domain),
		zap.String("command", name))

	output, err := s.runner.Run(ctx, name, args...)
	if err != nil {
		return common.NewKeystoreSyncError(
			fmt.Sprintf("信任库导入命令执行失败, 输出: %s", strings.TrimSpace(string(output))), err)
	}

	s.logger.Info("完整证书链导入完成", zap.String("domain", bundle.Domain))
	return nil
}

// syncLeafOnly 仅导入叶子证书（实验性）
// 门户客户端无法解析多证书文件，存在中间CA证书时会失败，因此只打包叶子证书。
// 先删除旧alias再导入而不是就地替换：导入工具在full_chain和leaf_only内容间切换时
// 替换语义不可靠，显式删除消除歧义；alias短暂缺失可接受，因为紧接着就会重新导入。
func (s *KeystoreSynchronizer) syncLeafOnly(ctx context.Context, bundle *CertificateBundle) error {
	keyPath, leafPath, cleanup, err := s.writeTempMaterial(bundle.PrivateKey, bundle.Leaf)
	if err != nil {
		return err
	}
	defer cleanup()

	// 1. 打包叶子证书和私钥为PKCS12容器
	p12Path := filepath.Join(os.TempDir(), fmt.Sprintf("certsync-%s.p12", CertName(bundle.Domain)))
	defer os.Remove(p12Path)

	output, err := s.runner.Run(ctx, "openssl", "pkcs12", "-export",
		"-in", leafPath, "-inkey", keyPath,
		"-out", p12Path, "-name", s.cfg.Alias,
		"-passout", "pass:"+s.cfg.Password)
	if err != nil {
		return common.NewKeystoreSyncError(
			fmt.Sprintf("生成PKCS12容器失败, 输出: %s", strings.TrimSpace(string(output))), err)
	}

	// 2. 备份当前密钥库
	if err := s.backupKeystore(); err != nil {
		return err
	}

	// 3. 删除旧alias，alias不存在（首次同步）不视为失败
	output, err = s.runner.Run(ctx, "keytool", "-delete",
		"-alias", s.cfg.Alias,
		"-keystore", s.cfg.Path,
		"-storepass", s.cfg.Password,
		"-noprompt")
	if err != nil {
		if isAliasNotFound(string(output)) {
			s.logger.Warn("密钥库中不存在旧alias，跳过删除",
				zap.String("alias", s.cfg.Alias),
				zap.String("keystore", s.cfg.Path))
		} else {
			return common.NewKeystoreSyncError(
				fmt.Sprintf("删除旧alias失败, 输出: %s", strings.TrimSpace(string(output))), err)
		}
	}

	// 4. 导入新容器，源和目标使用相同密码
	output, err = s.runner.Run(ctx, "keytool", "-importkeystore",
		"-srckeystore", p12Path,
		"-srcstoretype", "PKCS12",
		"-srcstorepass", s.cfg.Password,
		"-destkeystore", s.cfg.Path,
		"-deststorepass", s.cfg.Password,
		"-destkeypass", s.cfg.Password,
		"-srcalias", s.cfg.Alias,
		"-destalias", s.cfg.Alias,
		"-noprompt")
	if err != nil {
		return common.NewKeystoreSyncError(
			fmt.Sprintf("导入新alias失败, 输出: %s", strings.TrimSpace(string(output))), err)
	}

	s.logger.Info("密钥库同步完成",
		zap.String("domain", bundle.Domain),
		zap.String("alias", s.cfg.Alias),
		zap.String("keystore", s.cfg.Path))

	return nil
}

// backupKeystore 复制当前密钥库到带时间戳的备份路径
// 并发运行只会产生不同的备份文件，不会互相覆盖
func (s *KeystoreSynchronizer) backupKeystore() error {
	if !utils.FileExists(s.cfg.Path) {
		s.logger.Warn("密钥库文件不存在，跳过备份", zap.String("keystore", s.cfg.Path))
		return nil
	}

	backupPath := filepath.Join(filepath.Dir(s.cfg.Path),
		fmt.Sprintf("keystore_%s.backup", s.now().Format("2006-01-02_15h04m05s")))

	if err := utils.CopyFile(s.cfg.Path, backupPath); err != nil {
		return common.NewKeystoreSyncError("备份密钥库失败", err)
	}

	s.logger.Info("密钥库已备份", zap.String("backup_path", backupPath))
	return nil
}

// writeTempMaterial 将私钥和证书写入临时文件，返回路径和清理函数
func (s *KeystoreSynchronizer) writeTempMaterial(key, cert []byte) (keyPath, certPath string, cleanup func(), err error) {
	base := filepath.Join(os.TempDir(), "certsync-material")
	keyPath = base + ".key"
	certPath = base + ".pem"

	cleanup = func() {
		os.Remove(keyPath)
		os.Remove(certPath)
	}

	if err := os.WriteFile(keyPath, key, 0600); err != nil {
		return "", "", func() {}, common.NewKeystoreSyncError("写入临时私钥文件失败", err)
	}
	if err := os.WriteFile(certPath, cert, 0600); err != nil {
		os.Remove(keyPath)
		return "", "", func() {}, common.NewKeystoreSyncError("写入临时证书文件失败", err)
	}

	return keyPath, certPath, cleanup, nil
}

// isAliasNotFound 判断keytool输出是否为"alias不存在"
func isAliasNotFound(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "does not exist") || strings.Contains(lower, "不存在")
}

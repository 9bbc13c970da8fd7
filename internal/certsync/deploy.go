package certsync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"certsync/app/config"
	"certsync/pkg/common"
	"certsync/pkg/utils"
)

// 部署目标名称
const (
	TargetController = "controller"
	TargetRadius     = "radius"
	TargetRemote     = "remote"
)

// DeploymentTarget 一个证书消费方的目标路径和权限
type DeploymentTarget struct {
	Name     string
	CertPath string
	KeyPath  string
	// FileMode 目标文件权限：控制器侧0644，RADIUS侧仅属主可读写0600
	FileMode os.FileMode
	Enabled  bool
}

// BuildTargets 根据配置构造部署目标列表
// 控制器目标始终启用，RADIUS目标由集成开关控制
func BuildTargets(cfg *config.DeployConfig) []DeploymentTarget {
	targets := []DeploymentTarget{
		{
			Name:     TargetController,
			CertPath: cfg.Controller.CertPath,
			KeyPath:  cfg.Controller.KeyPath,
			FileMode: 0644,
			Enabled:  true,
		},
	}

	if cfg.Radius != nil {
		targets = append(targets, DeploymentTarget{
			Name:     TargetRadius,
			CertPath: cfg.Radius.CertPath,
			KeyPath:  cfg.Radius.KeyPath,
			FileMode: 0600,
			Enabled:  cfg.Radius.Enabled,
		})
	}

	return targets
}

// Deployer 将证书材料分发到各个消费方
type Deployer struct {
	logger *zap.Logger
	// keystore 非nil时，控制器目标写入完成后触发密钥库同步（门户能力开关）
	keystore *KeystoreSynchronizer
	remote   *config.RemoteConfig
}

// NewDeployer 创建证书部署器
// keystore传nil表示未启用门户能力，不做密钥库同步
func NewDeployer(logger *zap.Logger, keystore *KeystoreSynchronizer, remote *config.RemoteConfig) *Deployer {
	return &Deployer{
		logger:   logger,
		keystore: keystore,
		remote:   remote,
	}
}

// Deploy 按顺序部署到各个启用的目标
// 任一目标失败则中止剩余目标；已完成的目标保持已部署状态，不回滚
func (d *Deployer) Deploy(ctx context.Context, bundle *CertificateBundle, targets []DeploymentTarget) (*DeployResult, error) {
	result := &DeployResult{}

	for _, target := range targets {
		if !target.Enabled {
			d.logger.Debug("部署目标未启用，跳过", zap.String("target", target.Name))
			continue
		}

		if err := d.deployTo(bundle, target); err != nil {
			d.logger.Error("证书部署失败，中止剩余目标",
				zap.String("target", target.Name),
				zap.Strings("deployed", result.Deployed),
				zap.Error(err))
			return result, common.NewDeploymentError(
				fmt.Sprintf("部署到目标 %s 失败", target.Name), err).WithField("target", target.Name)
		}

		result.Changed = true
		result.Deployed = append(result.Deployed, target.Name)

		// 控制器目标写入后，若启用门户能力则同步密钥库
		if target.Name == TargetController && d.keystore != nil {
			if err := d.keystore.Sync(ctx, bundle); err != nil {
				return result, err
			}
		}
	}

	if d.remote != nil && d.remote.Enabled {
		if err := d.deployToRemote(ctx, bundle); err != nil {
			d.logger.Error("远程部署失败",
				zap.String("host", d.remote.Host),
				zap.Error(err))
			return result, common.NewDeploymentError("部署到远程服务器失败", err).WithField("target", TargetRemote)
		}
		result.Changed = true
		result.Deployed = append(result.Deployed, TargetRemote)
	}

	return result, nil
}

// deployTo 将证书和私钥写入目标路径并设置权限
func (d *Deployer) deployTo(bundle *CertificateBundle, target DeploymentTarget) error {
	d.logger.Info("开始部署证书",
		zap.String("target", target.Name),
		zap.String("cert_path", target.CertPath),
		zap.String("key_path", target.KeyPath))

	if _, err := utils.WriteContentToFile(target.CertPath, bundle.FullChain, target.FileMode); err != nil {
		return fmt.Errorf("写入证书文件失败: %v", err)
	}

	if _, err := utils.WriteContentToFile(target.KeyPath, bundle.PrivateKey, target.FileMode); err != nil {
		return fmt.Errorf("写入私钥文件失败: %v", err)
	}

	d.logger.Info("证书部署完成",
		zap.String("target", target.Name),
		zap.String("domain", bundle.Domain))

	return nil
}

// deployToRemote 通过SSH将控制器证书镜像到远程服务器
func (d *Deployer) deployToRemote(ctx context.Context, bundle *CertificateBundle) error {
	sshConfig := &ssh.ClientConfig{
		User:            d.remote.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}

	if d.remote.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(d.remote.PrivateKey))
		if err != nil {
			return fmt.Errorf("解析SSH私钥失败: %v", err)
		}
		sshConfig.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	} else {
		sshConfig.Auth = []ssh.AuthMethod{ssh.Password(d.remote.Password)}
	}

	addr := fmt.Sprintf("%s:%d", d.remote.Host, d.remote.Port)
	client, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return fmt.Errorf("连接SSH服务器失败: %v", err)
	}
	defer client.Close()

	if err := d.uploadFileViaSSH(client, bundle.FullChain, d.remote.CertPath); err != nil {
		return fmt.Errorf("上传证书文件失败: %v", err)
	}

	if err := d.uploadFileViaSSH(client, bundle.PrivateKey, d.remote.KeyPath); err != nil {
		return fmt.Errorf("上传私钥文件失败: %v", err)
	}

	d.logger.Info("远程部署完成",
		zap.String("host", d.remote.Host),
		zap.String("domain", bundle.Domain))

	// 执行部署后命令
	for i, cmd := range d.remote.PostDeployCommands {
		if cmd == "" {
			continue
		}

		session, err := client.NewSession()
		if err != nil {
			return fmt.Errorf("创建SSH会话失败: %v", err)
		}

		output, err := session.CombinedOutput(cmd)
		session.Close()
		if err != nil {
			return fmt.Errorf("命令 %d 执行失败: %s, 输出: %s", i+1, err.Error(), string(output))
		}

		d.logger.Info("远程部署后命令执行成功",
			zap.Int("index", i+1),
			zap.String("command", cmd))
	}

	return nil
}

// uploadFileViaSSH 通过SSH上传文件（SCP协议）
func (d *Deployer) uploadFileViaSSH(client *ssh.Client, content []byte, remotePath string) error {
	remoteDir := filepath.Dir(remotePath)
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("创建SSH会话失败: %v", err)
	}

	// 确保远程目录存在
	if err := session.Run(fmt.Sprintf("mkdir -p %s", remoteDir)); err != nil {
		d.logger.Warn("创建远程目录失败（可能已存在）", zap.String("dir", remoteDir), zap.Error(err))
	}
	session.Close()

	session, err = client.NewSession()
	if err != nil {
		return fmt.Errorf("创建SSH会话失败: %v", err)
	}
	defer session.Close()

	go func() {
		w, _ := session.StdinPipe()
		defer w.Close()

		fmt.Fprintf(w, "C0644 %d %s\n", len(content), filepath.Base(remotePath))
		w.Write(content)
		fmt.Fprint(w, "\x00")
	}()

	if err := session.Run(fmt.Sprintf("scp -t %s", remotePath)); err != nil {
		return fmt.Errorf("SCP上传失败: %v", err)
	}

	return nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"certsync/pkg/common"
)

// AcmeMode ACME客户端运行模式
type AcmeMode string

const (
	// AcmeModeBinary 调用外部lego二进制
	AcmeModeBinary AcmeMode = "binary"
	// AcmeModeEmbedded 使用内嵌的lego库
	AcmeModeEmbedded AcmeMode = "embedded"
)

// KeystoreMode 密钥库同步模式
type KeystoreMode string

const (
	// KeystoreModeFullChain 导入完整证书链
	KeystoreModeFullChain KeystoreMode = "full_chain"
	// KeystoreModeLeafOnly 仅导入叶子证书（实验性：缺少中间证书可能导致部分客户端校验失败）
	KeystoreModeLeafOnly KeystoreMode = "leaf_only"
)

// Duration 支持"5m"样式字符串的时长配置
type Duration time.Duration

// UnmarshalYAML 实现yaml反序列化
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("无效的时长配置 %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Std 转换为标准库时长
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// SystemConfig 系统配置
type SystemConfig struct {
	// DataDir 数据目录，.lego证书库位于其下
	DataDir string `yaml:"data_dir"`
	// FreshWindow 证书新鲜度判定窗口
	FreshWindow Duration `yaml:"fresh_window"`
}

// AcmeConfig ACME客户端配置
type AcmeConfig struct {
	Mode        AcmeMode          `yaml:"mode"`         // binary或embedded
	BinaryPath  string            `yaml:"binary_path"`  // lego二进制路径（binary模式）
	DownloadURL string            `yaml:"download_url"` // lego发布包下载地址（install_lego使用）
	Email       string            `yaml:"email"`        // ACME账户邮箱
	KeyType     string            `yaml:"key_type"`     // 证书密钥类型
	Domains     []string          `yaml:"domains"`      // 域名列表，第一个为主域名
	DNSProvider string            `yaml:"dns_provider"` // DNS验证提供商标识
	Credentials map[string]string `yaml:"credentials"`  // DNS提供商凭证（环境变量形式）
	Resolver    string            `yaml:"resolver"`     // DNS解析器覆盖（可选）
	Staging     bool              `yaml:"staging"`      // 使用Let's Encrypt测试环境
	RenewDays   int               `yaml:"renew_days"`   // 续期阈值天数，交由ACME客户端判断
}

// TargetConfig 单个部署目标的证书/私钥目标路径
type TargetConfig struct {
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
}

// RadiusConfig RADIUS部署目标配置
type RadiusConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
}

// RemoteConfig 远程SSH部署目标配置
type RemoteConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	Username           string   `yaml:"username"`
	Password           string   `yaml:"password"`
	PrivateKey         string   `yaml:"private_key"`
	CertPath           string   `yaml:"cert_path"`
	KeyPath            string   `yaml:"key_path"`
	PostDeployCommands []string `yaml:"post_deploy_commands"`
}

// DeployConfig 证书部署配置
type DeployConfig struct {
	Controller *TargetConfig `yaml:"controller"`
	Radius     *RadiusConfig `yaml:"radius"`
	Remote     *RemoteConfig `yaml:"remote"`
}

// KeystoreConfig 密钥库同步配置
type KeystoreConfig struct {
	// Enabled 门户（captive portal）能力开关，控制器部署完成后触发密钥库同步
	Enabled  bool         `yaml:"enabled"`
	Path     string       `yaml:"path"`
	Alias    string       `yaml:"alias"`
	Password string       `yaml:"password"`
	Mode     KeystoreMode `yaml:"mode"`
	// ImportCommand 宿主机信任库导入命令（full_chain模式），追加私钥路径和证书路径两个参数
	ImportCommand []string `yaml:"import_command"`
}

// ServiceConfig 依赖服务配置
type ServiceConfig struct {
	Name           string `yaml:"name"`
	RestartCommand string `yaml:"restart_command"`
}

// ServicesConfig 依赖服务集合
type ServicesConfig struct {
	Controller *ServiceConfig `yaml:"controller"`
	Radius     *ServiceConfig `yaml:"radius"`
}

// ScheduleConfig 续期计划配置
type ScheduleConfig struct {
	// Cron 标准五段cron表达式
	Cron string `yaml:"cron"`
	// CronFile 生成的cron.d条目路径
	CronFile string `yaml:"cron_file"`
	// Command 计划任务执行的命令行
	Command string `yaml:"command"`
	// User 计划任务执行用户
	User string `yaml:"user"`
}

// Config 应用程序配置，进程入口加载一次后只读
type Config struct {
	System   *SystemConfig     `yaml:"system"`
	Logger   *common.LogConfig `yaml:"logger"`
	Acme     *AcmeConfig       `yaml:"acme"`
	Deploy   *DeployConfig     `yaml:"deploy"`
	Keystore *KeystoreConfig   `yaml:"keystore"`
	Services *ServicesConfig   `yaml:"services"`
	Schedule *ScheduleConfig   `yaml:"schedule"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		System: &SystemConfig{
			DataDir:     "/data/certsync",
			FreshWindow: Duration(5 * time.Minute),
		},
		Logger: common.DefaultLogConfig(),
		Acme: &AcmeConfig{
			Mode:       AcmeModeBinary,
			BinaryPath: "/usr/local/bin/lego",
			KeyType:    "rsa2048",
			RenewDays:  60,
		},
		Deploy: &DeployConfig{
			Controller: &TargetConfig{
				CertPath: "/usr/lib/controller/data/cert.pem",
				KeyPath:  "/usr/lib/controller/data/cert.key",
			},
			Radius: &RadiusConfig{
				Enabled:  false,
				CertPath: "/etc/freeradius/certs/server.pem",
				KeyPath:  "/etc/freeradius/certs/server-key.pem",
			},
			Remote: &RemoteConfig{Enabled: false, Port: 22},
		},
		Keystore: &KeystoreConfig{
			Enabled:  false,
			Path:     "/usr/lib/controller/data/keystore",
			Alias:    "controller",
			Password: "changeit",
			Mode:     KeystoreModeFullChain,
		},
		Services: &ServicesConfig{
			Controller: &ServiceConfig{Name: "controller", RestartCommand: "systemctl restart controller"},
			Radius:     &ServiceConfig{Name: "freeradius", RestartCommand: "systemctl restart freeradius"},
		},
		Schedule: &ScheduleConfig{
			Cron:     "30 2 * * *",
			CronFile: "/etc/cron.d/certsync",
			Command:  "/usr/local/bin/certsync renew",
			User:     "root",
		},
	}
}

// LoadConfig 从文件中加载配置
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// 确保数据目录存在
	if err := os.MkdirAll(cfg.System.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	return cfg, nil
}

// Validate 验证配置完整性
func (c *Config) Validate() error {
	if c.System == nil || c.System.DataDir == "" {
		return fmt.Errorf("system.data_dir不能为空")
	}
	if c.System.FreshWindow <= 0 {
		c.System.FreshWindow = Duration(5 * time.Minute)
	}

	if c.Acme == nil {
		return fmt.Errorf("acme配置不能为空")
	}
	if c.Acme.Email == "" {
		return fmt.Errorf("acme.email不能为空")
	}
	if len(c.Acme.Domains) == 0 {
		return fmt.Errorf("acme.domains不能为空")
	}
	if c.Acme.DNSProvider == "" {
		return fmt.Errorf("acme.dns_provider不能为空")
	}
	if c.Acme.Mode != AcmeModeBinary && c.Acme.Mode != AcmeModeEmbedded {
		return fmt.Errorf("不支持的ACME模式: %s", c.Acme.Mode)
	}
	if c.Acme.RenewDays <= 0 {
		c.Acme.RenewDays = 60
	}

	if c.Deploy == nil || c.Deploy.Controller == nil {
		return fmt.Errorf("deploy.controller配置不能为空")
	}
	if c.Deploy.Controller.CertPath == "" || c.Deploy.Controller.KeyPath == "" {
		return fmt.Errorf("deploy.controller的证书和私钥路径不能为空")
	}
	if c.Deploy.Radius != nil && c.Deploy.Radius.Enabled {
		if c.Deploy.Radius.CertPath == "" || c.Deploy.Radius.KeyPath == "" {
			return fmt.Errorf("启用RADIUS集成时，deploy.radius的证书和私钥路径不能为空")
		}
	}

	if c.Keystore != nil && c.Keystore.Enabled {
		if c.Keystore.Path == "" || c.Keystore.Alias == "" || c.Keystore.Password == "" {
			return fmt.Errorf("启用密钥库同步时，keystore的path、alias和password不能为空")
		}
		switch c.Keystore.Mode {
		case KeystoreModeFullChain, KeystoreModeLeafOnly:
		default:
			return fmt.Errorf("不支持的密钥库同步模式: %s", c.Keystore.Mode)
		}
		if c.Keystore.Mode == KeystoreModeFullChain && len(c.Keystore.ImportCommand) == 0 {
			return fmt.Errorf("full_chain模式需要配置keystore.import_command")
		}
	}

	if c.Services == nil || c.Services.Controller == nil || c.Services.Controller.RestartCommand == "" {
		return fmt.Errorf("services.controller的重启命令不能为空")
	}

	return nil
}

// LegoBaseDir 返回lego证书库的基础目录
func (c *Config) LegoBaseDir() string {
	return filepath.Join(c.System.DataDir, ".lego")
}

// CertificatesDir 返回证书存放目录
func (c *Config) CertificatesDir() string {
	return filepath.Join(c.LegoBaseDir(), "certificates")
}

// PrimaryDomain 返回主域名（SAN集合的第一个域名）
func (c *Config) PrimaryDomain() string {
	if len(c.Acme.Domains) == 0 {
		return ""
	}
	return c.Acme.Domains[0]
}

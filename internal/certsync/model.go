package certsync

import (
	"context"
	"time"
)

// CertificateBundle 表示一次签发产出的证书材料
// 由外部ACME客户端写入磁盘，本子系统只读
type CertificateBundle struct {
	// Domain 主域名
	Domain string
	// FullChain 完整证书链（叶子证书+中间证书）
	FullChain []byte
	// Leaf 叶子证书（证书链的第一个PEM块）
	Leaf []byte
	// PrivateKey 私钥
	PrivateKey []byte
	// ModTime 证书文件的最后修改时间
	ModTime time.Time
}

// DeployResult 部署结果
type DeployResult struct {
	// Changed 是否有任一目标的材料被更新
	Changed bool
	// Deployed 已完成部署的目标名称
	Deployed []string
}

// AcmeClient ACME客户端抽象，签发/续期成功后将证书材料写入证书库
// 退出成功不区分"已签发"和"尚未到期"两种情况，由新鲜度检测做区分
type AcmeClient interface {
	// Obtain 首次签发（等同接受服务条款）
	Obtain(ctx context.Context) error
	// Renew 续期，是否到期由客户端按续期阈值自行判断
	Renew(ctx context.Context) error
}

// ChangeDetector 证书变更检测抽象，方便测试替换
type ChangeDetector interface {
	// Fresh 判断域名对应的证书材料是否刚刚被写入
	Fresh(domain string) (bool, error)
}

// commandRunner 外部命令执行抽象，方便测试替换
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

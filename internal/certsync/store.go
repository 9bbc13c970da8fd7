package certsync

import (
	"bytes"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CertName 将域名转换为证书库中的文件标识
// 通配符标记"*"替换为文件系统安全的"_"，同一域名集合在多次续期间保持稳定
func CertName(domain string) string {
	return strings.ReplaceAll(domain, "*", "_")
}

// CertificateStore 证书库的只读视图
// 目录布局: <base>/.lego/certificates/<name>.{crt,key}，.crt为完整证书链
type CertificateStore struct {
	certDir string
}

// NewCertificateStore 创建证书库视图
func NewCertificateStore(certDir string) *CertificateStore {
	return &CertificateStore{certDir: certDir}
}

// CertPath 返回域名对应的证书链文件路径
func (s *CertificateStore) CertPath(domain string) string {
	return filepath.Join(s.certDir, CertName(domain)+".crt")
}

// KeyPath 返回域名对应的私钥文件路径
func (s *CertificateStore) KeyPath(domain string) string {
	return filepath.Join(s.certDir, CertName(domain)+".key")
}

// Load 读取域名对应的证书材料
func (s *CertificateStore) Load(domain string) (*CertificateBundle, error) {
	certPath := s.CertPath(domain)

	info, err := os.Stat(certPath)
	if err != nil {
		return nil, fmt.Errorf("读取证书文件信息失败: %w", err)
	}

	fullChain, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("读取证书文件失败: %w", err)
	}

	privateKey, err := os.ReadFile(s.KeyPath(domain))
	if err != nil {
		return nil, fmt.Errorf("读取私钥文件失败: %w", err)
	}

	leaf, err := extractLeafPEM(fullChain)
	if err != nil {
		return nil, err
	}

	return &CertificateBundle{
		Domain:     domain,
		FullChain:  fullChain,
		Leaf:       leaf,
		PrivateKey: privateKey,
		ModTime:    info.ModTime(),
	}, nil
}

// extractLeafPEM 从完整证书链中提取叶子证书（第一个PEM块）
// 部分门户客户端无法解析包含中间证书的多证书文件
func extractLeafPEM(chain []byte) ([]byte, error) {
	block, _ := pem.Decode(chain)
	if block == nil {
		return nil, fmt.Errorf("解析证书链PEM失败")
	}
	if block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("证书链的第一个PEM块不是证书: %s", block.Type)
	}

	var buf bytes.Buffer
	if err := pem.Encode(&buf, block); err != nil {
		return nil, fmt.Errorf("编码叶子证书失败: %w", err)
	}
	return buf.Bytes(), nil
}

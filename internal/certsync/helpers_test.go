package certsync

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeCall 记录一次外部命令调用
type fakeCall struct {
	name string
	args []string
}

// fakeRunner 记录外部命令调用的测试替身
// respond不为nil时由它决定每次调用的输出和错误
type fakeRunner struct {
	calls   []fakeCall
	respond func(name string, args []string) ([]byte, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, fakeCall{name: name, args: args})
	if f.respond != nil {
		return f.respond(name, args)
	}
	return nil, nil
}

// testLogger 创建测试用的日志器
func testLogger(t *testing.T) *zap.Logger {
	t.Helper()
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("创建测试日志器失败: %v", err)
	}
	return logger
}

// generateCertPEM 生成自签名证书和私钥的PEM编码
func generateCertPEM(t *testing.T, commonName string, notAfter time.Time) (certPEM, keyPEM []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("生成测试私钥失败: %v", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
		DNSNames:     []string{commonName},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("生成测试证书失败: %v", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("编码测试私钥失败: %v", err)
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	return certPEM, keyPEM
}

// writeCertStore 在临时证书库中写入一套证书材料，返回证书库目录
// chain为叶子证书加一个模拟中间证书
func writeCertStore(t *testing.T, domain string, mtime time.Time) (certDir string, leafPEM []byte) {
	t.Helper()

	certDir = t.TempDir()
	leafPEM, keyPEM := generateCertPEM(t, domain, time.Now().Add(90*24*time.Hour))
	issuerPEM, _ := generateCertPEM(t, "Test Intermediate CA", time.Now().Add(5*365*24*time.Hour))
	chain := append(append([]byte{}, leafPEM...), issuerPEM...)

	store := NewCertificateStore(certDir)
	if err := os.WriteFile(store.CertPath(domain), chain, 0644); err != nil {
		t.Fatalf("写入测试证书失败: %v", err)
	}
	if err := os.WriteFile(store.KeyPath(domain), keyPEM, 0600); err != nil {
		t.Fatalf("写入测试私钥失败: %v", err)
	}
	if err := os.Chtimes(store.CertPath(domain), mtime, mtime); err != nil {
		t.Fatalf("设置测试证书修改时间失败: %v", err)
	}

	return certDir, leafPEM
}

// readFileMode 读取文件权限位
func readFileMode(t *testing.T, path string) os.FileMode {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("读取文件信息失败: %v", err)
	}
	return info.Mode().Perm()
}

// tempTargetPath 在临时目录下构造目标文件路径
func tempTargetPath(t *testing.T, elems ...string) string {
	t.Helper()
	return filepath.Join(append([]string{t.TempDir()}, elems...)...)
}

package certsync

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"certsync/app/config"
	"certsync/pkg/common"
)

// Installer 外部ACME客户端安装器
// 只负责把lego二进制放到位，不做签名校验
type Installer struct {
	cfg        *config.AcmeConfig
	logger     *zap.Logger
	httpClient *http.Client
}

// NewInstaller 创建安装器
func NewInstaller(cfg *config.AcmeConfig, logger *zap.Logger) *Installer {
	return &Installer{
		cfg:    cfg,
		logger: logger,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// EnsureInstalled 确保lego二进制存在，不存在则从配置的发布包地址下载安装
func (i *Installer) EnsureInstalled(ctx context.Context) error {
	if _, err := os.Stat(i.cfg.BinaryPath); err == nil {
		i.logger.Info("ACME客户端已安装", zap.String("binary", i.cfg.BinaryPath))
		return nil
	}

	if i.cfg.DownloadURL == "" {
		return common.NewValidationError(
			fmt.Sprintf("ACME客户端不存在且未配置下载地址: %s", i.cfg.BinaryPath), nil)
	}

	i.logger.Info("开始下载ACME客户端",
		zap.String("url", i.cfg.DownloadURL),
		zap.String("binary", i.cfg.BinaryPath))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.cfg.DownloadURL, nil)
	if err != nil {
		return common.NewInternalError("构造下载请求失败", err)
	}

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return common.NewInternalError("下载ACME客户端失败", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return common.NewInternalError(
			fmt.Sprintf("下载ACME客户端失败, 状态码: %d", resp.StatusCode), nil)
	}

	if err := i.extractBinary(resp.Body); err != nil {
		return err
	}

	i.logger.Info("ACME客户端安装完成", zap.String("binary", i.cfg.BinaryPath))
	return nil
}

// extractBinary 从tar.gz发布包中提取lego二进制并安装为0755
func (i *Installer) extractBinary(r io.Reader) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return common.NewInternalError("解压发布包失败", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return common.NewInternalError("读取发布包内容失败", err)
		}

		if hdr.Typeflag != tar.TypeReg || filepath.Base(hdr.Name) != "lego" {
			continue
		}

		if err := os.MkdirAll(filepath.Dir(i.cfg.BinaryPath), 0755); err != nil {
			return common.NewInternalError("创建安装目录失败", err)
		}

		out, err := os.OpenFile(i.cfg.BinaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0755)
		if err != nil {
			return common.NewInternalError("创建二进制文件失败", err)
		}

		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return common.NewInternalError("写入二进制文件失败", err)
		}

		return out.Close()
	}

	return common.NewInternalError("发布包中未找到lego二进制", nil)
}

package certsync

import (
	"fmt"
	"os"
	"time"
)

// MtimeDetector 基于文件修改时间的证书变更检测
// 外部ACME客户端在"已签发"和"尚未到期"两种情况下都以0退出，
// 无法从退出码区分，改用"证书文件是否在最近窗口内被写入"作为信号。
// 时钟偏差或慢速文件系统可能产生漏报，可接受的失败形态是跳过本轮、下轮重试。
type MtimeDetector struct {
	store  *CertificateStore
	window time.Duration
	now    func() time.Time
}

// NewMtimeDetector 创建修改时间检测器，window为新鲜度判定窗口
func NewMtimeDetector(store *CertificateStore, window time.Duration) *MtimeDetector {
	return &MtimeDetector{
		store:  store,
		window: window,
		now:    time.Now,
	}
}

// Fresh 判断域名对应的证书文件是否在窗口期内被写入
func (d *MtimeDetector) Fresh(domain string) (bool, error) {
	info, err := os.Stat(d.store.CertPath(domain))
	if err != nil {
		return false, fmt.Errorf("读取证书文件信息失败: %w", err)
	}

	age := d.now().Sub(info.ModTime())
	return age <= d.window, nil
}

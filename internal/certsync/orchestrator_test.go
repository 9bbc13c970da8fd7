package certsync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certsync/app/config"
	"certsync/pkg/common"
)

// fakeAcme ACME客户端测试替身
type fakeAcme struct {
	obtainCalls int
	renewCalls  int
	err         error
}

func (f *fakeAcme) Obtain(ctx context.Context) error {
	f.obtainCalls++
	return f.err
}

func (f *fakeAcme) Renew(ctx context.Context) error {
	f.renewCalls++
	return f.err
}

// fakeDetector 新鲜度检测测试替身
type fakeDetector struct {
	fresh bool
	err   error
}

func (f *fakeDetector) Fresh(domain string) (bool, error) {
	return f.fresh, f.err
}

// orchestratorFixture 编排器测试环境
type orchestratorFixture struct {
	orch           *Orchestrator
	acme           *fakeAcme
	detector       *fakeDetector
	restartRunner  *fakeRunner
	controllerCert string
	cronFile       string
}

// newOrchestratorFixture 构造注入了测试替身的编排器
// 证书库、部署器和计划注册器是真实实现，落在临时目录
func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()

	domain := "gw.example.com"
	certDir, _ := writeCertStore(t, domain, time.Now())
	deployDir := t.TempDir()
	binaryPath := filepath.Join(t.TempDir(), "lego")
	require.NoError(t, os.WriteFile(binaryPath, []byte("#!/bin/sh\n"), 0755))

	cfg := config.DefaultConfig()
	cfg.System.DataDir = t.TempDir()
	cfg.Acme.Email = "admin@example.com"
	cfg.Acme.Domains = []string{domain}
	cfg.Acme.DNSProvider = "cloudflare"
	cfg.Acme.BinaryPath = binaryPath
	cfg.Deploy.Controller = &config.TargetConfig{
		CertPath: filepath.Join(deployDir, "cert.pem"),
		KeyPath:  filepath.Join(deployDir, "cert.key"),
	}
	cfg.Deploy.Radius.Enabled = false
	cfg.Deploy.Remote = nil
	cfg.Schedule.CronFile = filepath.Join(t.TempDir(), "certsync")

	logger := testLogger(t)
	acme := &fakeAcme{}
	detector := &fakeDetector{}
	restartRunner := &fakeRunner{}

	orch := &Orchestrator{
		cfg:      cfg,
		logger:   logger,
		acme:     acme,
		detector: detector,
		store:    NewCertificateStore(certDir),
		deployer: NewDeployer(logger, nil, nil),
		restarter: &RestartCoordinator{
			cfg:           cfg.Services,
			runner:        restartRunner,
			logger:        logger,
			radiusEnabled: false,
		},
		installer: NewInstaller(cfg.Acme, logger),
		schedule:  NewScheduleRegistrar(cfg.Schedule, logger),
	}

	return &orchestratorFixture{
		orch:           orch,
		acme:           acme,
		detector:       detector,
		restartRunner:  restartRunner,
		controllerCert: cfg.Deploy.Controller.CertPath,
		cronFile:       cfg.Schedule.CronFile,
	}
}

// TestOrchestrator_Renew_Fresh 测试检测到新证书时的续期流程
func TestOrchestrator_Renew_Fresh(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.detector.fresh = true

	err := f.orch.Renew(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, f.acme.renewCalls)
	// 证书已部署到控制器目标
	_, statErr := os.Stat(f.controllerCert)
	assert.NoError(t, statErr)
	// 材料变更触发了控制器重启
	require.Len(t, f.restartRunner.calls, 1)
	assert.Contains(t, f.restartRunner.calls[0].args[2], "restart controller")
}

// TestOrchestrator_Renew_Stale 测试证书未更新时跳过部署
func TestOrchestrator_Renew_Stale(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.detector.fresh = false

	err := f.orch.Renew(context.Background())
	// "尚未到期"是正常结果，以成功退出
	require.NoError(t, err)

	_, statErr := os.Stat(f.controllerCert)
	assert.True(t, os.IsNotExist(statErr), "未检测到新证书时不应部署")
	assert.Empty(t, f.restartRunner.calls, "未检测到新证书时不应重启服务")
}

// TestOrchestrator_Renew_StaleForceRestart 测试--restart-services强制重启
func TestOrchestrator_Renew_StaleForceRestart(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.detector.fresh = false
	f.orch.forceRestart = true

	require.NoError(t, f.orch.Renew(context.Background()))

	// 即使没有新证书也强制重启
	_, statErr := os.Stat(f.controllerCert)
	assert.True(t, os.IsNotExist(statErr))
	assert.Len(t, f.restartRunner.calls, 1)
}

// TestOrchestrator_Renew_AcmeFailure 测试ACME客户端失败对本轮是致命的
func TestOrchestrator_Renew_AcmeFailure(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.acme.err = common.NewAcmeClientError("ACME客户端执行失败", errors.New("exit status 1"))

	err := f.orch.Renew(context.Background())
	require.Error(t, err)
	assert.True(t, common.IsErrorType(err, common.ErrorTypeAcmeClient))

	// 不做任何部署和重启
	_, statErr := os.Stat(f.controllerCert)
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, f.restartRunner.calls)
}

// TestOrchestrator_Renew_DetectorError 测试检测失败按"未更新"处理
func TestOrchestrator_Renew_DetectorError(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.detector.err = errors.New("stat失败")

	err := f.orch.Renew(context.Background())
	require.NoError(t, err)

	_, statErr := os.Stat(f.controllerCert)
	assert.True(t, os.IsNotExist(statErr))
}

// TestOrchestrator_Initial 测试首次签发的完整时序
func TestOrchestrator_Initial(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.detector.fresh = true

	err := f.orch.Initial(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, f.acme.obtainCalls)
	// 证书已部署
	_, statErr := os.Stat(f.controllerCert)
	assert.NoError(t, statErr)
	// 签发成功后续期计划处于启用状态（条目未注释）
	data, err := os.ReadFile(f.cronFile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "#")
	assert.Contains(t, string(data), "renew")
}

// TestOrchestrator_Initial_ObtainFailure 测试首次签发失败时计划保持未启用
func TestOrchestrator_Initial_ObtainFailure(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.acme.err = common.NewAcmeClientError("申请证书失败", errors.New("dns error"))

	err := f.orch.Initial(context.Background())
	require.Error(t, err)

	// 计划已注册但条目保持注释状态
	data, readErr := os.ReadFile(f.cronFile)
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "# ")
}

// TestOrchestrator_UpdateKeystore_Disabled 测试密钥库同步未启用时为空操作
func TestOrchestrator_UpdateKeystore_Disabled(t *testing.T) {
	f := newOrchestratorFixture(t)

	err := f.orch.UpdateKeystore(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.restartRunner.calls)
}

// TestOrchestrator_UpdateKeystore 测试密钥库同步入口
func TestOrchestrator_UpdateKeystore(t *testing.T) {
	f := newOrchestratorFixture(t)

	keystoreRunner := &fakeRunner{}
	f.orch.keystore = &KeystoreSynchronizer{
		cfg: &config.KeystoreConfig{
			Enabled:       true,
			Mode:          config.KeystoreModeFullChain,
			ImportCommand: []string{"import_cert"},
		},
		runner: keystoreRunner,
		logger: testLogger(t),
		now:    time.Now,
	}

	err := f.orch.UpdateKeystore(context.Background())
	require.NoError(t, err)

	// 执行了一次信任库导入，未强制时不重启
	assert.Len(t, keystoreRunner.calls, 1)
	assert.Empty(t, f.restartRunner.calls)

	// 强制时重启控制器
	f.orch.forceRestart = true
	require.NoError(t, f.orch.UpdateKeystore(context.Background()))
	assert.Len(t, f.restartRunner.calls, 1)
}

// TestOrchestrator_CreateServices 测试计划注册入口
func TestOrchestrator_CreateServices(t *testing.T) {
	f := newOrchestratorFixture(t)

	require.NoError(t, f.orch.CreateServices(context.Background()))

	data, err := os.ReadFile(f.cronFile)
	require.NoError(t, err)
	assert.Equal(t, "30 2 * * * root /usr/local/bin/certsync renew\n", string(data))
}

// TestOrchestrator_InstallClient_AlreadyInstalled 测试客户端已存在时安装为空操作
func TestOrchestrator_InstallClient_AlreadyInstalled(t *testing.T) {
	f := newOrchestratorFixture(t)

	require.NoError(t, f.orch.InstallClient(context.Background()))
}

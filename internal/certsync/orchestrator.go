package certsync

import (
	"context"

	"go.uber.org/zap"

	"certsync/app/config"
)

// Orchestrator 续期编排器
// 时序：调用ACME客户端 → 新鲜度检测 → 部署 →（部署内委托）密钥库同步 → 重启决策
// ACME客户端失败对本轮是致命的：不做任何部署，错误上抛
type Orchestrator struct {
	cfg       *config.Config
	logger    *zap.Logger
	acme      AcmeClient
	detector  ChangeDetector
	store     *CertificateStore
	deployer  *Deployer
	keystore  *KeystoreSynchronizer
	restarter *RestartCoordinator
	installer *Installer
	schedule  *ScheduleRegistrar
	// forceRestart 由--restart-services显式强制重启，无论材料是否变更
	// 对update_keystore入口同样生效（与部署入口共用同一开关，保持原有语义）
	forceRestart bool
}

// NewOrchestrator 按配置装配所有组件
func NewOrchestrator(cfg *config.Config, logger *zap.Logger, forceRestart bool) *Orchestrator {
	store := NewCertificateStore(cfg.CertificatesDir())

	var keystore *KeystoreSynchronizer
	if cfg.Keystore != nil && cfg.Keystore.Enabled {
		keystore = NewKeystoreSynchronizer(cfg.Keystore, logger)
	}

	var acme AcmeClient
	if cfg.Acme.Mode == config.AcmeModeEmbedded {
		acme = NewEmbeddedClient(cfg.Acme, cfg.CertificatesDir(), logger)
	} else {
		acme = NewLegoCommand(cfg.Acme, cfg.LegoBaseDir(), logger)
	}

	radiusEnabled := cfg.Deploy.Radius != nil && cfg.Deploy.Radius.Enabled

	return &Orchestrator{
		cfg:          cfg,
		logger:       logger,
		acme:         acme,
		detector:     NewMtimeDetector(store, cfg.System.FreshWindow.Std()),
		store:        store,
		deployer:     NewDeployer(logger, keystore, cfg.Deploy.Remote),
		keystore:     keystore,
		restarter:    NewRestartCoordinator(cfg.Services, radiusEnabled, logger),
		installer:    NewInstaller(cfg.Acme, logger),
		schedule:     NewScheduleRegistrar(cfg.Schedule, logger),
		forceRestart: forceRestart,
	}
}

// Initial 首次签发入口
// 安装客户端（如缺失）→ 注册续期计划 → 签发 → 部署 → 签发成功后启用计划
func (o *Orchestrator) Initial(ctx context.Context) error {
	if err := o.installer.EnsureInstalled(ctx); err != nil {
		return err
	}

	if err := o.schedule.Register(false); err != nil {
		return err
	}

	if err := o.acme.Obtain(ctx); err != nil {
		return err
	}

	if err := o.deployFresh(ctx); err != nil {
		return err
	}

	// 首次签发成功，启用续期计划触发器
	return o.schedule.Register(true)
}

// Renew 周期续期入口
// 续期阈值判断交给ACME客户端；客户端成功返回后由新鲜度检测区分"已续期"和"尚未到期"
func (o *Orchestrator) Renew(ctx context.Context) error {
	if err := o.acme.Renew(ctx); err != nil {
		return err
	}

	return o.deployFresh(ctx)
}

// deployFresh 新鲜度检测通过后执行部署和重启决策
func (o *Orchestrator) deployFresh(ctx context.Context) error {
	domain := o.cfg.PrimaryDomain()

	fresh, err := o.detector.Fresh(domain)
	if err != nil {
		// 检测失败按"未更新"处理：跳过本轮，等待下次计划运行
		o.logger.Warn("新鲜度检测失败，跳过本轮部署", zap.Error(err))
		fresh = false
	}

	if !fresh {
		o.logger.Info("未检测到新签发的证书，跳过部署", zap.String("domain", domain))
		o.restarter.Restart(ctx, o.forceRestart)
		return nil
	}

	bundle, err := o.store.Load(domain)
	if err != nil {
		return err
	}

	result, err := o.deployer.Deploy(ctx, bundle, BuildTargets(o.cfg.Deploy))
	if err != nil {
		return err
	}

	o.restarter.Restart(ctx, result.Changed || o.forceRestart)
	return nil
}

// UpdateKeystore 仅同步密钥库入口，不触发ACME调用和部署
func (o *Orchestrator) UpdateKeystore(ctx context.Context) error {
	if o.keystore == nil {
		o.logger.Info("密钥库同步未启用，无事可做")
		return nil
	}

	bundle, err := o.store.Load(o.cfg.PrimaryDomain())
	if err != nil {
		return err
	}

	if err := o.keystore.Sync(ctx, bundle); err != nil {
		return err
	}

	// 仅当显式强制时才重启（含RADIUS，与部署入口共用同一开关）
	o.restarter.Restart(ctx, o.forceRestart)
	return nil
}

// CreateServices 注册并启用续期计划
func (o *Orchestrator) CreateServices(ctx context.Context) error {
	return o.schedule.Register(true)
}

// InstallClient 安装外部ACME客户端
func (o *Orchestrator) InstallClient(ctx context.Context) error {
	return o.installer.EnsureInstalled(ctx)
}

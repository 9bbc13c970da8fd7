package certsync

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"

	"certsync/app/config"
)

// RestartCoordinator 依赖服务重启协调器
// 仅当本轮有材料被更新（或被显式强制）时才重启；
// 重启失败不影响整体结果，证书文件已正确就位，只记录日志
type RestartCoordinator struct {
	cfg    *config.ServicesConfig
	runner commandRunner
	logger *zap.Logger
	// radiusEnabled RADIUS服务重启与RADIUS部署目标共用同一个集成开关
	radiusEnabled bool
}

// NewRestartCoordinator 创建服务重启协调器
func NewRestartCoordinator(cfg *config.ServicesConfig, radiusEnabled bool, logger *zap.Logger) *RestartCoordinator {
	return &RestartCoordinator{
		cfg:           cfg,
		runner:        execRunner{},
		logger:        logger,
		radiusEnabled: radiusEnabled,
	}
}

// Restart 根据脏标记决定是否重启依赖服务
// dirty为false时不做任何操作
func (r *RestartCoordinator) Restart(ctx context.Context, dirty bool) {
	if !dirty {
		r.logger.Info("证书材料未变更，跳过服务重启")
		return
	}

	r.restartService(ctx, r.cfg.Controller)

	if r.radiusEnabled && r.cfg.Radius != nil {
		r.restartService(ctx, r.cfg.Radius)
	} else {
		r.logger.Debug("RADIUS集成未启用，跳过RADIUS服务重启")
	}
}

// restartService 重启单个服务，失败仅记录（尽力而为）
func (r *RestartCoordinator) restartService(ctx context.Context, svc *config.ServiceConfig) {
	if svc == nil || svc.RestartCommand == "" {
		return
	}

	cmd := enhanceCommand(svc.RestartCommand)

	r.logger.Info("重启依赖服务",
		zap.String("service", svc.Name),
		zap.String("command", cmd))

	output, err := r.runner.Run(ctx, "bash", "-l", "-c", cmd)
	if err != nil {
		r.logger.Error("服务重启失败（不影响证书部署结果）",
			zap.String("service", svc.Name),
			zap.String("output", strings.TrimSpace(string(output))),
			zap.Error(err))
		return
	}

	r.logger.Info("服务重启成功", zap.String("service", svc.Name))
}

// findCommandPath 查找命令的完整路径
func findCommandPath(cmdName string) string {
	paths := []string{
		"/usr/sbin/" + cmdName,
		"/usr/bin/" + cmdName,
		"/sbin/" + cmdName,
		"/bin/" + cmdName,
		"/usr/local/sbin/" + cmdName,
		"/usr/local/bin/" + cmdName,
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return cmdName // 如果找不到，返回原始命令名
}

// enhanceCommand 增强命令，处理常见的服务管理命令路径问题
func enhanceCommand(cmd string) string {
	commonCommands := map[string]bool{
		"systemctl":     true,
		"service":       true,
		"supervisorctl": true,
	}

	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return cmd
	}

	cmdName := parts[0]
	if commonCommands[cmdName] {
		fullPath := findCommandPath(cmdName)
		if fullPath != cmdName {
			parts[0] = fullPath
			return strings.Join(parts, " ")
		}
	}

	return cmd
}

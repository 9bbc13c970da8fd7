package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"certsync/app/config"
	"certsync/internal/certsync"
	"certsync/pkg/common"
)

const usageText = `用法: certsync [选项] <子命令>

子命令:
  initial          首次签发：安装客户端、注册续期计划、签发并部署证书
  renew            周期续期：调用ACME客户端，有新证书时部署并重启服务
  update_keystore  仅同步密钥库，不调用ACME客户端
  create_services  注册并启用续期计划
  install_lego     安装外部ACME客户端

选项:
  -config <path>       配置文件路径（默认 /etc/certsync/config.yaml）
  -restart-services    无论证书是否变更都重启依赖服务
`

func main() {
	configPath := flag.String("config", "/etc/certsync/config.yaml", "配置文件路径")
	restartServices := flag.Bool("restart-services", false, "无论证书是否变更都重启依赖服务")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usageText)
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	subcommand := flag.Arg(0)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(2)
	}

	logger, err := common.NewLogger(*cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	common.SetLogger(logger)
	defer logger.Sync()

	zapLogger := logger.GetZapLogger("certsync")
	orchestrator := certsync.NewOrchestrator(cfg, zapLogger, *restartServices)
	ctx := context.Background()

	switch subcommand {
	case "initial":
		err = orchestrator.Initial(ctx)
	case "renew":
		err = orchestrator.Renew(ctx)
	case "update_keystore":
		err = orchestrator.UpdateKeystore(ctx)
	case "create_services":
		err = orchestrator.CreateServices(ctx)
	case "install_lego":
		err = orchestrator.InstallClient(ctx)
	default:
		fmt.Fprintf(os.Stderr, "未知子命令: %s\n\n", subcommand)
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		zapLogger.Error("执行失败",
			zap.String("subcommand", subcommand),
			zap.Error(err))
		os.Exit(common.ExitCode(err))
	}

	zapLogger.Info("执行完成", zap.String("subcommand", subcommand))
}

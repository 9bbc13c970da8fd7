package certsync

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"certsync/app/config"
	"certsync/pkg/common"
	"certsync/pkg/utils"
)

// ScheduleRegistrar 续期计划注册器
// 生成cron.d条目定期执行续期，互斥由外部调度器保证
type ScheduleRegistrar struct {
	cfg    *config.ScheduleConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewScheduleRegistrar 创建续期计划注册器
func NewScheduleRegistrar(cfg *config.ScheduleConfig, logger *zap.Logger) *ScheduleRegistrar {
	return &ScheduleRegistrar{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Register 写入cron.d条目
// active为false时条目以注释形式写入（已注册未启用），首次签发成功后再激活
func (r *ScheduleRegistrar) Register(active bool) error {
	schedule, err := cron.ParseStandard(r.cfg.Cron)
	if err != nil {
		return common.NewValidationError(
			fmt.Sprintf("无效的cron表达式: %s", r.cfg.Cron), err)
	}

	prefix := ""
	if !active {
		prefix = "# "
	}

	entry := fmt.Sprintf("%s%s %s %s\n", prefix, r.cfg.Cron, r.cfg.User, r.cfg.Command)

	if _, err := utils.WriteContentToFile(r.cfg.CronFile, []byte(entry), 0644); err != nil {
		return common.NewInternalError("写入cron.d条目失败", err)
	}

	if active {
		r.logger.Info("续期计划已启用",
			zap.String("cron_file", r.cfg.CronFile),
			zap.String("cron", r.cfg.Cron),
			zap.Time("next_run", schedule.Next(r.now())))
	} else {
		r.logger.Info("续期计划已注册（待首次签发成功后启用）",
			zap.String("cron_file", r.cfg.CronFile),
			zap.String("cron", r.cfg.Cron))
	}

	return nil
}

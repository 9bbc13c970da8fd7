package certsync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certsync/app/config"
)

func testServicesConfig() *config.ServicesConfig {
	return &config.ServicesConfig{
		Controller: &config.ServiceConfig{Name: "controller", RestartCommand: "systemctl restart controller"},
		Radius:     &config.ServiceConfig{Name: "freeradius", RestartCommand: "systemctl restart freeradius"},
	}
}

// TestRestartCoordinator_CleanSkips 测试脏标记为false时不重启
func TestRestartCoordinator_CleanSkips(t *testing.T) {
	runner := &fakeRunner{}
	r := &RestartCoordinator{cfg: testServicesConfig(), runner: runner, logger: testLogger(t), radiusEnabled: true}

	r.Restart(context.Background(), false)

	assert.Empty(t, runner.calls, "材料未变更时不应执行任何重启命令")
}

// TestRestartCoordinator_DirtyRestartsController 测试RADIUS未启用时仅重启控制器
func TestRestartCoordinator_DirtyRestartsController(t *testing.T) {
	runner := &fakeRunner{}
	r := &RestartCoordinator{cfg: testServicesConfig(), runner: runner, logger: testLogger(t), radiusEnabled: false}

	r.Restart(context.Background(), true)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "bash", runner.calls[0].name)
	// 命令通过登录shell执行
	assert.Equal(t, "-l", runner.calls[0].args[0])
	assert.Equal(t, "-c", runner.calls[0].args[1])
	assert.Contains(t, runner.calls[0].args[2], "restart controller")
}

// TestRestartCoordinator_RadiusEnabled 测试启用RADIUS集成时重启两个服务
func TestRestartCoordinator_RadiusEnabled(t *testing.T) {
	runner := &fakeRunner{}
	r := &RestartCoordinator{cfg: testServicesConfig(), runner: runner, logger: testLogger(t), radiusEnabled: true}

	r.Restart(context.Background(), true)

	require.Len(t, runner.calls, 2)
	assert.Contains(t, runner.calls[0].args[2], "restart controller")
	assert.Contains(t, runner.calls[1].args[2], "restart freeradius")
}

// TestRestartCoordinator_FailureIsNonFatal 测试重启失败不中断流程
func TestRestartCoordinator_FailureIsNonFatal(t *testing.T) {
	runner := &fakeRunner{
		respond: func(name string, args []string) ([]byte, error) {
			return []byte("Failed to restart controller.service"), errors.New("exit status 1")
		},
	}
	r := &RestartCoordinator{cfg: testServicesConfig(), runner: runner, logger: testLogger(t), radiusEnabled: true}

	// 失败仅记录日志，两个服务都会尝试
	r.Restart(context.Background(), true)
	assert.Len(t, runner.calls, 2)
}

// TestEnhanceCommand 测试服务管理命令的路径增强
func TestEnhanceCommand(t *testing.T) {
	// 非服务管理命令原样返回
	assert.Equal(t, "/opt/custom/restart.sh", enhanceCommand("/opt/custom/restart.sh"))
	assert.Equal(t, "", enhanceCommand(""))
}

package certsync

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certsync/app/config"
	"certsync/pkg/common"
)

func testAcmeConfig() *config.AcmeConfig {
	return &config.AcmeConfig{
		Mode:        config.AcmeModeBinary,
		BinaryPath:  "/usr/local/bin/lego",
		Email:       "admin@example.com",
		KeyType:     "rsa2048",
		Domains:     []string{"gw.example.com", "*.gw.example.com"},
		DNSProvider: "cloudflare",
		Credentials: map[string]string{"CLOUDFLARE_DNS_API_TOKEN": "test-token"},
		RenewDays:   60,
	}
}

// TestLegoCommand_Obtain 测试首次签发的命令行构造
func TestLegoCommand_Obtain(t *testing.T) {
	runner := &fakeRunner{}
	c := &legoCommand{cfg: testAcmeConfig(), baseDir: "/data/.lego", runner: runner, logger: testLogger(t)}

	err := c.Obtain(context.Background())
	require.NoError(t, err)

	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	assert.Equal(t, "/usr/local/bin/lego", call.name)
	assert.Contains(t, call.args, "--accept-tos")
	assert.Contains(t, call.args, "/data/.lego")
	assert.Contains(t, call.args, "admin@example.com")
	assert.Contains(t, call.args, "cloudflare")
	assert.Contains(t, call.args, "gw.example.com")
	assert.Contains(t, call.args, "*.gw.example.com")
	assert.Equal(t, "run", call.args[len(call.args)-1])
}

// TestLegoCommand_Renew 测试续期的命令行构造
func TestLegoCommand_Renew(t *testing.T) {
	runner := &fakeRunner{}
	c := &legoCommand{cfg: testAcmeConfig(), baseDir: "/data/.lego", runner: runner, logger: testLogger(t)}

	err := c.Renew(context.Background())
	require.NoError(t, err)

	require.Len(t, runner.calls, 1)
	args := runner.calls[0].args
	// 续期阈值判断交由lego的--days
	assert.Contains(t, args, "renew")
	assert.Contains(t, args, "--days")
	assert.Contains(t, args, "60")
}

// TestLegoCommand_Staging 测试测试环境的服务器地址
func TestLegoCommand_Staging(t *testing.T) {
	cfg := testAcmeConfig()
	cfg.Staging = true
	cfg.Resolver = "223.5.5.5:53"

	runner := &fakeRunner{}
	c := &legoCommand{cfg: cfg, baseDir: "/data/.lego", runner: runner, logger: testLogger(t)}

	require.NoError(t, c.Obtain(context.Background()))

	args := runner.calls[0].args
	assert.Contains(t, args, "https://acme-staging-v02.api.letsencrypt.org/directory")
	assert.Contains(t, args, "223.5.5.5:53")
}

// TestLegoCommand_CredentialsEnv 测试凭证环境变量的设置与清理
func TestLegoCommand_CredentialsEnv(t *testing.T) {
	runner := &fakeRunner{
		respond: func(name string, args []string) ([]byte, error) {
			// 执行期间凭证必须在环境变量中
			assert.Equal(t, "test-token", os.Getenv("CLOUDFLARE_DNS_API_TOKEN"))
			return nil, nil
		},
	}
	c := &legoCommand{cfg: testAcmeConfig(), baseDir: "/data/.lego", runner: runner, logger: testLogger(t)}

	require.NoError(t, c.Obtain(context.Background()))

	// 执行结束后凭证已清理
	_, present := os.LookupEnv("CLOUDFLARE_DNS_API_TOKEN")
	assert.False(t, present)
}

// TestLegoCommand_Failure 测试非0退出视为致命错误
func TestLegoCommand_Failure(t *testing.T) {
	runner := &fakeRunner{
		respond: func(name string, args []string) ([]byte, error) {
			return []byte("acme: error presenting token"), errors.New("exit status 1")
		},
	}
	c := &legoCommand{cfg: testAcmeConfig(), baseDir: "/data/.lego", runner: runner, logger: testLogger(t)}

	err := c.Renew(context.Background())
	require.Error(t, err)
	assert.True(t, common.IsErrorType(err, common.ErrorTypeAcmeClient))
	assert.Contains(t, err.Error(), "error presenting token")
}

package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leozw/blueprint-sot/internal/clone"
	"github.com/leozw/blueprint-sot/internal/config"
	"github.com/leozw/blueprint-sot/internal/core"
	"github.com/leozw/blueprint-sot/internal/queue"
	"github.com/leozw/blueprint-sot/internal/templates"
)

func testConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Driver: "memory"},
		Instance: config.InstanceConfig{
			ID:               "inst-acme-0001",
			Type:             "template",
			TenantID:         "tenant-acme",
			BlueprintVersion: "1.1.1",
			CallbackURL:      "https://acme.example.com",
			ToolsSupported:   []string{"crm", "blog"},
		},
		SOT:   config.SOTConfig{Timeout: time.Second, FreshnessWindow: 24 * time.Hour, CheckInInterval: 30 * time.Minute},
		Clone: config.CloneConfig{ProvisioningTimeout: time.Minute, WorkerCount: 1},
	}
}

func TestNewWithMemoryStore(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Queue)
	require.NoError(t, a.Store.Ping(ctx))

	require.NoError(t, a.EnsureLocalProfile(ctx))
	require.NoError(t, a.EnsureLocalProfile(ctx))

	profile, err := a.Store.GetClientProfile(ctx, "inst-acme-0001")
	require.NoError(t, err)
	assert.Equal(t, "inst-acme-0001", profile.Name)
	assert.Equal(t, []string{"crm", "blog"}, profile.InstalledTools())

	decl := a.LocalDeclaration()
	assert.True(t, decl.IsTemplate)
	assert.True(t, decl.IsCloneable)
	assert.Equal(t, "1.1.1", decl.BlueprintVersion)
}

// Without Redis a clone is provisioned in-process.
func TestCloneWithoutQueue(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.EnsureLocalProfile(ctx))

	tmpl, err := a.Templates.Register(ctx, templates.RegisterRequest{InstanceID: "inst-acme-0001", Name: "T1"})
	require.NoError(t, err)

	op, err := a.Orchestrator.RequestClone(ctx, clone.Request{
		TemplateID:    tmpl.ID,
		InstanceName:  "Acme Co",
		AdminEmail:    "a@acme.com",
		AdminPassword: "longenough",
	})
	require.NoError(t, err)
	a.Orchestrator.Wait()

	got, err := a.Orchestrator.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CloneSucceeded, got.Status)
}

func TestNewWithRedisUsesQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Redis = config.RedisConfig{URL: mr.Addr(), QueueName: "test_clone_jobs"}

	ctx := context.Background()
	a, err := New(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.EnsureLocalProfile(ctx))

	require.IsType(t, &queue.RedisQueue{}, a.Queue)

	tmpl, err := a.Templates.Register(ctx, templates.RegisterRequest{InstanceID: "inst-acme-0001", Name: "T1"})
	require.NoError(t, err)
	op, err := a.Orchestrator.RequestClone(ctx, clone.Request{
		TemplateID:    tmpl.ID,
		InstanceName:  "Acme Co",
		AdminEmail:    "a@acme.com",
		AdminPassword: "longenough",
	})
	require.NoError(t, err)
	assert.True(t, mr.Exists("test_clone_jobs"))

	job, err := a.Queue.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, op.ID, job.OperationID)
	assert.Equal(t, queue.JobCloneProvision, job.Type)
}

func TestNewFailsOnUnreachableRedis(t *testing.T) {
	cfg := testConfig()
	cfg.Redis.URL = "redis://127.0.0.1:1"

	_, err := New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

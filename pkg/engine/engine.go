// pkg/engine/engine.go
//
// Assembly of the deployment engine from settings and CLI inputs. Shared by
// every subcommand so they agree on wiring.

package engine

import (
	"github.com/fulcrumsec/tenantctl/pkg/backup"
	"github.com/fulcrumsec/tenantctl/pkg/config"
	"github.com/fulcrumsec/tenantctl/pkg/deploy"
	"github.com/fulcrumsec/tenantctl/pkg/directory"
	"github.com/fulcrumsec/tenantctl/pkg/settings"
	"github.com/fulcrumsec/tenantctl/pkg/state"
	"github.com/fulcrumsec/tenantctl/pkg/tenant_io"
	cerr "github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Inputs are the per-invocation CLI inputs.
type Inputs struct {
	Environment string
	ConfigPath  string
	DryRun      bool
}

// Engine bundles the wired components for one invocation.
type Engine struct {
	Settings     *settings.Settings
	Environment  config.Environment
	Client       directory.Client
	Store        *state.Store
	Backups      *backup.Manager
	Orchestrator *deploy.Orchestrator
}

// Build loads settings and wires the orchestrator. With DryRun the engine
// targets an in-memory tenant, so no remote mutation can occur.
func Build(rc *tenant_io.RuntimeContext, in Inputs) (*Engine, error) {
	cfg, err := settings.Load()
	if err != nil {
		return nil, err
	}

	env, err := config.ParseEnvironment(in.Environment)
	if err != nil {
		return nil, err
	}

	store, err := state.NewStore(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	var client directory.Client
	switch {
	case in.DryRun:
		rc.Log.Info("Dry run: targeting an in-memory tenant, no remote calls will be made")
		client = directory.NewFake()
	case cfg.TenantURL == "":
		return nil, cerr.WithHint(
			cerr.New("no tenant URL configured"),
			"set tenant_url in tenantctl.yaml or TENANTCTL_TENANT_URL, or pass --dry-run")
	default:
		client = directory.NewHTTPClient(directory.HTTPClientOptions{
			BaseURL:        cfg.TenantURL,
			Token:          cfg.TenantToken,
			PerCallTimeout: cfg.PerCallTimeout,
			MaxRetries:     cfg.MaxRetries,
			RequestsPerSec: cfg.RequestsPerSec,
		})
	}

	backups := backup.NewManager(client, store, cfg.BackupRetention)
	orch := deploy.NewOrchestrator(client, store, backups, deploy.Options{
		Environment:     env,
		ConfigPath:      in.ConfigPath,
		BreakGlassGroup: cfg.BreakGlassGroup,
		WorkerLimit:     cfg.WorkerLimit,
	})

	rc.Log.Debug("Engine assembled",
		zap.String("environment", string(env)),
		zap.String("state_dir", cfg.StateDir),
		zap.Bool("dry_run", in.DryRun))

	return &Engine{
		Settings:     cfg,
		Environment:  env,
		Client:       client,
		Store:        store,
		Backups:      backups,
		Orchestrator: orch,
	}, nil
}

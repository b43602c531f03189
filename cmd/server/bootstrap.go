package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/peoplehub/internal/api/handler"
	"github.com/kiranshivaraju/peoplehub/internal/config"
	"github.com/kiranshivaraju/peoplehub/internal/lifecycle"
	"github.com/kiranshivaraju/peoplehub/pkg/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const bootstrapActor = "bootstrap"

type bootstrapOptions struct {
	Name    string
	Domain  string
	KeyName string
}

// bootstrapResult is printed once. The raw key cannot be recovered later.
type bootstrapResult struct {
	TenantID uuid.UUID `json:"tenant_id"`
	KeyID    uuid.UUID `json:"key_id"`
	Key      string    `json:"key"`
}

func newBootstrapCmd() *cobra.Command {
	var opts bootstrapOptions
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the operator tenant and its first platform_admin API key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBootstrap(cmd.Context(), cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "operator tenant name")
	cmd.Flags().StringVar(&opts.Domain, "domain", "", "operator tenant domain")
	cmd.Flags().StringVar(&opts.KeyName, "key-name", "bootstrap", "name recorded on the issued key")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func runBootstrap(parent context.Context, cmd *cobra.Command, opts bootstrapOptions) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()
	if cfg.Database.Driver == config.DriverMemory {
		log.Warn("bootstrapping against the in-memory store; the key only lives for this process")
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()
	a.dispatcher.Start()

	res, err := bootstrap(ctx, a, opts)

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if cerr := a.dispatcher.Close(drainCtx); cerr != nil {
		log.Warn("notification queue not fully drained", zap.Error(cerr))
	}
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// bootstrap creates an active operator tenant and issues it a key carrying
// platform_admin, which the HTTP API never grants.
func bootstrap(ctx context.Context, a *app, opts bootstrapOptions) (*bootstrapResult, error) {
	t, err := a.manager.Create(ctx, lifecycle.NewTenant{Name: opts.Name, Domain: opts.Domain})
	if err != nil {
		return nil, err
	}
	t, err = a.manager.Activate(ctx, t.ID, bootstrapActor)
	if err != nil {
		return nil, err
	}

	keyName := opts.KeyName
	if keyName == "" {
		keyName = bootstrapActor
	}
	created, err := handler.IssueKey(ctx, a.store, t, keyName,
		[]string{models.RolePlatformAdmin, models.RoleAdmin}, bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	a.log.Info("operator tenant bootstrapped",
		zap.String("tenant_id", t.ID.String()),
		zap.String("api_key_id", created.ID.String()),
		zap.String("key_prefix", created.KeyPrefix),
	)
	return &bootstrapResult{TenantID: t.ID, KeyID: created.ID, Key: created.Key}, nil
}

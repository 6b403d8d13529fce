// Package bootstrap seeds the initial identities on first start.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/cuemby/artstore/pkg/admin/accounts"
	"github.com/cuemby/artstore/pkg/admin/users"
	"github.com/cuemby/artstore/pkg/config"
	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/log"
	"github.com/cuemby/artstore/pkg/types"
)

// Seed creates the initial super_admin user and system service account
// from configuration when they do not exist yet. Both are marked
// is_system so they cannot be deleted through the API.
func Seed(ctx context.Context, cfg *config.Admin, userSvc *users.Service, accountSvc *accounts.Service) error {
	logger := log.WithComponent("bootstrap")

	if cfg.InitialAdminUsername != "" {
		_, err := userSvc.GetByUsername(ctx, cfg.InitialAdminUsername)
		switch {
		case err == nil:
			// Already seeded.
		case errdefs.Is(err, errdefs.KindNotFound):
			if cfg.InitialAdminPassword == "" {
				return fmt.Errorf("INITIAL_ADMIN_PASSWORD is required to seed the initial admin")
			}
			_, err := userSvc.Create(ctx, users.CreateInput{
				Username: cfg.InitialAdminUsername,
				Email:    cfg.InitialAdminEmail,
				Password: cfg.InitialAdminPassword,
				Role:     types.AdminRoleSuperAdmin,
				IsSystem: true,
			})
			if err != nil {
				return fmt.Errorf("failed to seed initial admin user: %w", err)
			}
			logger.Info().Str("username", cfg.InitialAdminUsername).Msg("seeded initial admin user")
		default:
			return err
		}
	}

	if cfg.InitialAccountName != "" {
		_, err := accountSvc.GetByName(ctx, cfg.InitialAccountName)
		switch {
		case err == nil:
			// Already seeded.
		case errdefs.Is(err, errdefs.KindNotFound):
			created, err := accountSvc.Create(ctx, accounts.CreateInput{
				Name:     cfg.InitialAccountName,
				Role:     types.SARoleAdmin,
				IsSystem: true,
				Secret:   cfg.InitialAccountSecret,
			})
			if err != nil {
				return fmt.Errorf("failed to seed initial service account: %w", err)
			}
			logger.Info().
				Str("name", cfg.InitialAccountName).
				Str("client_id", created.Account.ClientID).
				Msg("seeded initial service account")
		default:
			return err
		}
	}

	return nil
}

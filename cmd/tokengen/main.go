// Command tokengen mints HS256 identity tokens for local development and
// manual testing against a running server.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	jwttoken "gridsync/internal/jwt_token"
	"gridsync/internal/scope"
)

type options struct {
	signingKey string
	issuer     string
	actorID    int64
	login      string
	role       string
	regionID   int64
	districtID int64
	ttl        time.Duration
}

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:          "tokengen",
		Short:        "Mint an identity token",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := mint(opts, cmd.Flags().Changed("region"), cmd.Flags().Changed("district"))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.signingKey, "key", envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"), "HS256 signing key")
	f.StringVar(&opts.issuer, "issuer", os.Getenv("JWT_ISSUER"), "token issuer")
	f.Int64Var(&opts.actorID, "id", 0, "actor id")
	f.StringVar(&opts.login, "login", "", "actor login")
	f.StringVar(&opts.role, "role", string(scope.RoleManager), "role: admin, manager, executor or inspector")
	f.Int64Var(&opts.regionID, "region", 0, "region id")
	f.Int64Var(&opts.districtID, "district", 0, "district id, required for non-admin roles")
	f.DurationVar(&opts.ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("login")
	return cmd
}

// mint validates the identity the same way the server will before signing it.
func mint(opts options, hasRegion, hasDistrict bool) (string, error) {
	identity := jwttoken.Identity{
		ActorID: opts.actorID,
		Login:   opts.login,
		Role:    opts.role,
	}
	if hasRegion {
		identity.RegionID = &opts.regionID
	}
	if hasDistrict {
		identity.DistrictID = &opts.districtID
	}

	if _, err := scope.Resolve(scope.Claims{
		ActorID:    identity.ActorID,
		Login:      identity.Login,
		Role:       identity.Role,
		RegionID:   identity.RegionID,
		DistrictID: identity.DistrictID,
	}); err != nil {
		return "", fmt.Errorf("identity would be rejected: %w", err)
	}

	svc := jwttoken.NewJWTService(opts.signingKey, opts.issuer)
	return svc.GenerateAccessToken(identity, opts.ttl)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

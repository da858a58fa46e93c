package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/suas/interop/auth"
	"github.com/suas/interop/config"
	"github.com/suas/interop/rbac"
)

var (
	tokenUser      string
	tokenAccountID int64
	tokenSuperuser bool
	tokenTTL       time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a session token",
	Long:  `Sign a bearer session token for a user with the configured SESSION_SECRET.`,
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenUser, "user", "u", "", "Username embedded in the token")
	tokenCmd.Flags().Int64Var(&tokenAccountID, "account-id", 0, "Account id embedded in the token")
	tokenCmd.Flags().BoolVar(&tokenSuperuser, "superuser", false, "Grant superuser capability")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
}

func runToken(cmd *cobra.Command, args []string) error {
	token, err := mintToken(cfg.SessionSecret, tokenUser, tokenAccountID, tokenSuperuser, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func mintToken(secret, user string, accountID int64, superuser bool, ttl time.Duration) (string, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return "", errors.New("--user is required")
	}
	if secret == "" {
		secret = config.DevSessionSecret
	}

	sessions, err := auth.NewSessionManager(secret, false)
	if err != nil {
		return "", err
	}
	sessions.SetLifetime(ttl)

	roles := []rbac.Role{rbac.RoleUser}
	if superuser {
		roles = append(roles, rbac.RoleSuperuser)
	}
	return sessions.Token(auth.Claims{AccountID: accountID, Username: user, Roles: roles})
}

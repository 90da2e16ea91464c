package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/richoz-sanitaire/intervention-service/internal/handler"
	"github.com/richoz-sanitaire/intervention-service/internal/model"
	"github.com/spf13/cobra"
)

var (
	tokenUser string
	tokenRole string
	tokenTTL  time.Duration
)

var issueTokenCmd = &cobra.Command{
	Use:   "issue-token",
	Short: "Sign an operator JWT with JWT_SECRET (local testing, service accounts)",
	RunE:  runIssueToken,
}

func init() {
	issueTokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id (uuid)")
	issueTokenCmd.Flags().StringVar(&tokenRole, "role", string(model.RoleSecretary), "admin|secretary|technician")
	issueTokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "token lifetime")
	_ = issueTokenCmd.MarkFlagRequired("user")
}

func runIssueToken(cmd *cobra.Command, args []string) error {
	cfg, _, err := bootstrap()
	if err != nil {
		return err
	}
	id, err := uuid.Parse(tokenUser)
	if err != nil {
		return fmt.Errorf("--user: %w", err)
	}
	role := model.Role(tokenRole)
	switch role {
	case model.RoleAdmin, model.RoleSecretary, model.RoleTechnician:
	default:
		return errors.New("--role must be admin, secretary or technician")
	}
	token, err := handler.IssueToken(cfg.JWTSecret, id, role, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/solatis/rewardkeeper/internal/core/auth"
	"github.com/solatis/rewardkeeper/internal/core/config"
	"github.com/solatis/rewardkeeper/internal/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Issue and revoke project API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue an API key, creating the project when --project-id is omitted",
	RunE:  runAPIKeyCreate,
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke <api-key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyRevoke,
}

func init() {
	rootCmd.AddCommand(apikeyCmd)
	apikeyCmd.AddCommand(apikeyCreateCmd, apikeyRevokeCmd)

	apikeyCreateCmd.Flags().String("project-id", "", "existing project ID")
	apikeyCreateCmd.Flags().String("project-name", "default", "name for a newly created project")
	apikeyCreateCmd.Flags().String("name", "", "key label")
	apikeyCreateCmd.Flags().String("secret-id", "", "HMAC secret ID to sign with (required when several are configured)")

	apikeyRevokeCmd.Flags().String("project-id", "", "project owning the key")
	apikeyRevokeCmd.MarkFlagRequired("project-id")
}

// pickSecret selects the signing secret, defaulting to the only one configured.
func pickSecret(secrets map[string][]byte, secretID string) (string, []byte, error) {
	if secretID != "" {
		secret, ok := secrets[secretID]
		if !ok {
			return "", nil, fmt.Errorf("secret_id %s not configured", secretID)
		}
		return secretID, secret, nil
	}
	switch len(secrets) {
	case 0:
		return "", nil, fmt.Errorf("no HMAC secrets configured (set RK_HMAC_SECRET environment variable)")
	case 1:
		for id, secret := range secrets {
			return id, secret, nil
		}
	}
	ids := make([]string, 0, len(secrets))
	for id := range secrets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return "", nil, fmt.Errorf("several HMAC secrets configured, pass --secret-id (one of %v)", ids)
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	flagSecret, _ := cmd.Flags().GetString("secret-id")
	secretID, secret, err := pickSecret(secrets, flagSecret)
	if err != nil {
		return err
	}

	database, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	rawProject, _ := cmd.Flags().GetString("project-id")
	var projectID types.ProjectID
	if rawProject == "" {
		name, _ := cmd.Flags().GetString("project-name")
		if projectID, err = store.CreateProject(ctx, name); err != nil {
			return err
		}
		log.Info("project created", zap.String("project_id", string(projectID)), zap.String("name", name))
	} else {
		if projectID, err = types.ParseProjectID(rawProject); err != nil {
			return fmt.Errorf("invalid --project-id: %w", err)
		}
		ok, err := store.ProjectExists(ctx, projectID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("project %s %w", projectID, types.ErrNotFound)
		}
	}

	key, keyHash, err := auth.GenerateAPIKey(secretID, secret)
	if err != nil {
		return err
	}
	name, _ := cmd.Flags().GetString("name")
	keyID, err := store.CreateAPIKey(ctx, projectID, secretID, keyHash, name)
	if err != nil {
		return err
	}
	log.Info("api key issued",
		zap.String("project_id", string(projectID)),
		zap.String("api_key_id", keyID),
		zap.String("secret_id", secretID))

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "project_id: %s\n", projectID)
	fmt.Fprintf(out, "api_key_id: %s\n", keyID)
	fmt.Fprintf(out, "api_key:    %s\n", key)
	return nil
}

func runAPIKeyRevoke(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	database, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	rawProject, _ := cmd.Flags().GetString("project-id")
	projectID, err := types.ParseProjectID(rawProject)
	if err != nil {
		return fmt.Errorf("invalid --project-id: %w", err)
	}
	if err := store.RevokeAPIKey(ctx, projectID, args[0]); err != nil {
		return err
	}
	log.Info("api key revoked", zap.String("project_id", string(projectID)), zap.String("api_key_id", args[0]))
	return nil
}

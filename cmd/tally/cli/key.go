package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/store"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and revoke API keys used to authenticate against the Tally REST API and MCP server.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		email   string
		label   string
		expires time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key for a user",
		Long:  "Generate a new API key that acts as the given user. The raw key is shown once and cannot be retrieved again.",
		Example: `  tally key create --user rep@example.com --label "Zapier"
  tally key create --user admin@example.com --expires 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(email, label, expires)
		},
	}

	cmd.Flags().StringVar(&email, "user", "", "Email of the user the key acts as (required)")
	cmd.Flags().StringVar(&label, "label", "", "Human-readable label for the key")
	cmd.Flags().DurationVar(&expires, "expires", 0, "Key lifetime, e.g. 720h (default: never expires)")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runKeyCreate(email, label string, expires time.Duration) error {
	if expires < 0 {
		return fmt.Errorf("--expires must not be negative")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, authSvc, err := openAuth(cfg, quietLogger())
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	user, err := st.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("user %q not found", email)
	}
	if err != nil {
		return fmt.Errorf("look up user: %w", err)
	}
	if !user.IsActive {
		return fmt.Errorf("user %q is disabled", email)
	}

	var expiresAt *time.Time
	if expires > 0 {
		t := time.Now().Add(expires).UTC()
		expiresAt = &t
	}

	issued, err := authSvc.IssueAPIKey(ctx, user.ID, label, expiresAt)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API Key created:")
	fmt.Println()
	fmt.Printf("  Key:     %s\n", issued.Raw)
	fmt.Printf("  User:    %s (%s)\n", user.Email, user.Role)
	if label != "" {
		fmt.Printf("  Label:   %s\n", label)
	}
	if expiresAt != nil {
		fmt.Printf("  Expires: %s\n", expiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		email      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(email, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&email, "user", "", "Only list keys of this user")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

type keyRow struct {
	Prefix   string     `json:"prefix"`
	User     string     `json:"user"`
	Label    string     `json:"label"`
	Active   bool       `json:"active"`
	Expires  *time.Time `json:"expires_at,omitempty"`
	LastUsed *time.Time `json:"last_used,omitempty"`
}

func runKeyList(email string, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	users, err := st.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	emails := make(map[int64]string, len(users))
	var userID int64
	for _, u := range users {
		emails[u.ID] = u.Email
		if u.Email == email {
			userID = u.ID
		}
	}
	if email != "" && userID == 0 {
		return fmt.Errorf("user %q not found", email)
	}

	keys, err := st.ListAPIKeys(ctx, userID)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	rows := make([]keyRow, len(keys))
	for i, k := range keys {
		rows[i] = keyRow{
			Prefix:   k.KeyPrefix,
			User:     emails[k.UserID],
			Label:    k.Label,
			Active:   k.IsActive && !k.Expired(time.Now()),
			Expires:  k.ExpiresAt,
			LastUsed: k.LastUsed,
		}
	}

	if jsonOutput {
		return printJSON(os.Stdout, rows)
	}

	if len(rows) == 0 {
		fmt.Println("No API keys issued. Use 'tally key create' to create one.")
		return nil
	}

	fmt.Printf("%-14s %-28s %-20s %-8s %-20s\n", "PREFIX", "USER", "LABEL", "ACTIVE", "LAST USED")
	fmt.Printf("%-14s %-28s %-20s %-8s %-20s\n", "------", "----", "-----", "------", "---------")
	for _, k := range rows {
		active := "yes"
		if !k.Active {
			active = "no"
		}
		fmt.Printf("%-14s %-28s %-20s %-8s %-20s\n", k.Prefix, k.User, k.Label, active, formatTime(k.LastUsed))
	}

	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <prefix>",
		Short: "Revoke an API key by its prefix",
		Long:  "Deactivate an API key, preventing any further authenticated requests using that key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(args[0])
		},
	}
}

func runKeyRevoke(prefix string) error {
	if len(prefix) != model.APIKeyPrefixLen {
		return fmt.Errorf("prefix must be the %d characters shown by 'tally key list'", model.APIKeyPrefixLen)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	err = st.RevokeAPIKeyByPrefix(context.Background(), prefix)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no API key found with prefix %q", prefix)
	}
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Printf("Revoked API key with prefix %q\n", prefix)
	return nil
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/service"
	"github.com/tallycrm/tally/internal/store"
)

const minPasswordLen = 8

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage CRM users",
		Long:  "Create, list, enable and disable the people who sign in to Tally.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserActiveCmd("disable", false))
	cmd.AddCommand(newUserActiveCmd("enable", true))

	return cmd
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		email    string
		password string
		name     string
		role     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new user",
		Example: `  tally user create --email admin@example.com --role admin
  tally user create --email rep@example.com --name "Sam Rep" --password secret123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(email, password, name, role)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&role, "role", string(model.RoleSalesRep), "Role: sales_rep, manager or admin")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runUserCreate(email, password, name, roleName string) error {
	email = strings.TrimSpace(email)
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address: %q", email)
	}
	role, err := model.ParseRole(roleName)
	if err != nil {
		return err
	}

	if password == "" {
		if password, err = promptPassword(); err != nil {
			return err
		}
	}
	if len(password) < minPasswordLen {
		return fmt.Errorf("password must be at least %d characters", minPasswordLen)
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

	hash, err := service.HashPassword(password)
	if err != nil {
		return err
	}
	user := &model.User{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	err = st.CreateUser(context.Background(), user)
	if errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("a user with email %q already exists", email)
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("Created %s user %q (id %d)\n", user.Role, user.Email, user.ID)
	fmt.Printf("  Next: tally key create --user %s\n", user.Email)
	return nil
}

func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("--password is required when stdin is not a terminal")
	}

	fmt.Print("Password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}

	if string(pw) != string(confirm) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(pw), nil
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runUserList(jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	users, err := st.ListUsers(context.Background())
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	if jsonOutput {
		return printJSON(os.Stdout, users)
	}

	if len(users) == 0 {
		fmt.Println("No users yet. Use 'tally user create' to create one.")
		return nil
	}

	fmt.Printf("%-6s %-30s %-24s %-10s %-8s %-18s\n", "ID", "EMAIL", "NAME", "ROLE", "ACTIVE", "LAST LOGIN")
	fmt.Printf("%-6s %-30s %-24s %-10s %-8s %-18s\n", "--", "-----", "----", "----", "------", "----------")
	for _, u := range users {
		active := "yes"
		if !u.IsActive {
			active = "no"
		}
		fmt.Printf("%-6d %-30s %-24s %-10s %-8s %-18s\n", u.ID, u.Email, u.Name, u.Role, active, formatTime(u.LastLoginAt))
	}

	return nil
}

// ---------- user enable / disable ----------

func newUserActiveCmd(verb string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <email>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a user account",
		Long:  "A disabled user cannot sign in, and requests with their API keys or sessions are rejected.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserSetActive(args[0], active)
		},
	}
}

func runUserSetActive(email string, active bool) error {
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
	user, err := st.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("user %q not found", email)
	}
	if err != nil {
		return fmt.Errorf("look up user: %w", err)
	}
	if err := st.SetUserActive(ctx, user.ID, active); err != nil {
		return fmt.Errorf("update user: %w", err)
	}

	state := "disabled"
	if active {
		state = "enabled"
	}
	fmt.Printf("User %q %s\n", user.Email, state)
	return nil
}

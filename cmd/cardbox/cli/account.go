package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardbox/cardbox/internal/model"
	"github.com/cardbox/cardbox/internal/store"
)

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage inbox accounts",
		Long:  "Register, list, update, and remove the accounts that own inboxes and card keys.",
	}

	cmd.AddCommand(newAccountAddCmd())
	cmd.AddCommand(newAccountListCmd())
	cmd.AddCommand(newAccountUpdateCmd())
	cmd.AddCommand(newAccountRemoveCmd())

	return cmd
}

// ---------- account add ----------

func newAccountAddCmd() *cobra.Command {
	var (
		label      string
		ttlSeconds int64
	)

	cmd := &cobra.Command{
		Use:   "add <owner>",
		Short: "Register a new inbox account",
		Example: `  cardbox account add alice --label "Alice's phone"
  cardbox account add bob --ttl-seconds 7200`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountAdd(args[0], label, ttlSeconds)
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "Human-readable label for the account")
	cmd.Flags().Int64Var(&ttlSeconds, "ttl-seconds", 0, "Card-key validity window override in seconds (0 = server default)")

	return cmd
}

func runAccountAdd(owner, label string, ttlSeconds int64) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	acct := &model.Account{Owner: owner, Label: label}
	if ttlSeconds > 0 {
		acct.TTLSeconds = &ttlSeconds
	}

	if err := st.CreateAccount(context.Background(), acct); err != nil {
		if err == store.ErrDuplicate {
			return fmt.Errorf("account %q already exists", owner)
		}
		return fmt.Errorf("create account: %w", err)
	}

	fmt.Printf("Registered account %q\n", owner)
	return nil
}

// ---------- account list ----------

func newAccountListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all registered accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runAccountList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	accounts, err := st.ListAccounts(context.Background())
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(accounts)
	}

	if len(accounts) == 0 {
		fmt.Println("No accounts registered. Use 'cardbox account add' to create one.")
		return nil
	}

	fmt.Printf("%-16s %-24s %-12s %-20s\n", "OWNER", "LABEL", "TTL", "CREATED")
	fmt.Printf("%-16s %-24s %-12s %-20s\n", "-----", "-----", "---", "-------")
	for _, a := range accounts {
		ttl := "default"
		if a.TTLSeconds != nil {
			ttl = (time.Duration(*a.TTLSeconds) * time.Second).String()
		}
		fmt.Printf("%-16s %-24s %-12s %-20s\n", a.Owner, a.Label, ttl, a.CreatedAt.UTC().Format(time.RFC3339))
	}

	return nil
}

// ---------- account update ----------

func newAccountUpdateCmd() *cobra.Command {
	var (
		label      string
		ttlSeconds int64
	)

	cmd := &cobra.Command{
		Use:   "update <owner>",
		Short: "Update an account's label or TTL override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountUpdate(cmd, args[0], label, ttlSeconds)
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "New label")
	cmd.Flags().Int64Var(&ttlSeconds, "ttl-seconds", 0, "New TTL override in seconds (0 clears the override)")

	return cmd
}

func runAccountUpdate(cmd *cobra.Command, owner, label string, ttlSeconds int64) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	acct, err := st.GetAccount(ctx, owner)
	if err != nil {
		if err == store.ErrNotFound {
			return fmt.Errorf("account %q not found", owner)
		}
		return fmt.Errorf("get account: %w", err)
	}

	if cmd.Flags().Changed("label") {
		acct.Label = label
	}
	if cmd.Flags().Changed("ttl-seconds") {
		if ttlSeconds > 0 {
			acct.TTLSeconds = &ttlSeconds
		} else {
			acct.TTLSeconds = nil
		}
	}

	if err := st.UpdateAccount(ctx, acct); err != nil {
		return fmt.Errorf("update account: %w", err)
	}

	fmt.Printf("Updated account %q\n", owner)
	return nil
}

// ---------- account remove ----------

func newAccountRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "remove <owner>",
		Aliases: []string{"rm"},
		Short:   "Remove an account and everything bound to it",
		Long:    "Delete an account. Its card keys and retained messages go with it.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountRemove(args[0])
		},
	}

	return cmd
}

func runAccountRemove(owner string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.DeleteAccount(context.Background(), owner); err != nil {
		if err == store.ErrNotFound {
			return fmt.Errorf("account %q not found", owner)
		}
		return fmt.Errorf("delete account: %w", err)
	}

	fmt.Printf("Removed account %q\n", owner)
	return nil
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardbox/cardbox/internal/model"
	"github.com/cardbox/cardbox/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage card keys",
		Long:  "Issue, list, validate, and sweep the card keys that gate inbox access.",
	}

	cmd.AddCommand(newKeyIssueCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyValidateCmd())
	cmd.AddCommand(newKeySweepCmd())
	cmd.AddCommand(newKeyAuditCmd())

	return cmd
}

// ---------- key issue ----------

func newKeyIssueCmd() *cobra.Command {
	var (
		owner string
		count int
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Mint fresh card keys for an account",
		Long:  "Generate a batch of card keys bound to one account. Keys stay dormant until first validated.",
		Example: `  cardbox key issue --owner alice
  cardbox key issue --owner alice --count 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyIssue(owner, count)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Account owner to bind the keys to (required)")
	cmd.Flags().IntVar(&count, "count", 1, "Number of keys to mint")
	cmd.MarkFlagRequired("owner")

	return cmd
}

func runKeyIssue(owner string, count int) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	keys := service.NewKeyService(st, keyConfigFromViper())

	minted, err := keys.Issue(context.Background(), owner, count)
	if err != nil {
		switch err {
		case service.ErrInvalidCount:
			return fmt.Errorf("count must be between 1 and %d", keyConfigFromViper().MaxIssuePerCall)
		case service.ErrUnknownAccount:
			return fmt.Errorf("account %q not found (use 'cardbox account add' first)", owner)
		}
		return fmt.Errorf("issue keys: %w", err)
	}

	fmt.Printf("Issued %d key(s) for %q:\n\n", len(minted), owner)
	for _, k := range minted {
		fmt.Printf("  %s\n", k)
	}
	fmt.Println()
	fmt.Println("  Hand these out now - the window starts on first validation.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all outstanding card keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	svc := service.NewKeyService(st, keyConfigFromViper())

	keys, err := svc.List(ctx)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}

	// Resolve per-account TTL overrides for accurate statuses.
	ttls := make(map[string]time.Duration)
	if accounts, err := st.ListAccounts(ctx); err == nil {
		for i := range accounts {
			ttls[accounts[i].Owner] = accounts[i].TTL(svc.DefaultTTL())
		}
	}

	type keyRow struct {
		Key       string `json:"key"`
		Owner     string `json:"owner"`
		Status    string `json:"status"`
		FirstUsed string `json:"first_used_at,omitempty"`
	}

	now := time.Now().UTC()
	rows := make([]keyRow, len(keys))
	for i, k := range keys {
		ttl, ok := ttls[k.Owner]
		if !ok {
			ttl = svc.DefaultTTL()
		}
		rows[i] = keyRow{
			Key:    k.Key,
			Owner:  k.Owner,
			Status: string(k.Status(now, ttl)),
		}
		if k.FirstUsedAt != nil {
			rows[i].FirstUsed = k.FirstUsedAt.UTC().Format(time.RFC3339)
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No card keys outstanding. Use 'cardbox key issue' to mint some.")
		return nil
	}

	fmt.Printf("%-22s %-16s %-8s %-20s\n", "KEY", "OWNER", "STATUS", "FIRST USED")
	fmt.Printf("%-22s %-16s %-8s %-20s\n", "---", "-----", "------", "----------")
	for _, r := range rows {
		firstUsed := r.FirstUsed
		if firstUsed == "" {
			firstUsed = "-"
		}
		fmt.Printf("%-22s %-16s %-8s %-20s\n", r.Key, r.Owner, r.Status, firstUsed)
	}

	return nil
}

// ---------- key validate ----------

func newKeyValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <key>",
		Short: "Validate a card key",
		Long: "Run a key through the validation state machine. This is the real thing, " +
			"not a dry run: a successful validation anchors the key's validity window " +
			"and the attempt is recorded in the audit trail.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyValidate(args[0])
		},
	}

	return cmd
}

func runKeyValidate(key string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	svc := service.NewKeyService(st, keyConfigFromViper())

	v, err := svc.Validate(context.Background(), key)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	fmt.Printf("Outcome: %s\n", v.Outcome)
	if v.Owner != "" {
		fmt.Printf("Owner:   %s\n", v.Owner)
	}
	if v.Remaining > 0 {
		fmt.Printf("Remaining: %s\n", v.Remaining.Round(time.Second))
	}
	return nil
}

// ---------- key sweep ----------

func newKeySweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete all expired card keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeySweep()
		},
	}

	return cmd
}

func runKeySweep() error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	svc := service.NewKeyService(st, keyConfigFromViper())

	deleted, err := svc.Sweep(context.Background())
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	fmt.Printf("Swept %d expired key(s)\n", deleted)
	return nil
}

// ---------- key audit ----------

func newKeyAuditCmd() *cobra.Command {
	var (
		owner      string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the validation audit trail",
		Long:  "Print recent validation attempts, newest first. Every attempt is recorded, including failures.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyAudit(owner, limit, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Restrict to one account owner")
	cmd.Flags().IntVar(&limit, "limit", 25, "Maximum number of entries to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyAudit(owner string, limit int, jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	svc := service.NewKeyService(st, keyConfigFromViper())

	var entries []model.UsageLogEntry
	if owner != "" {
		entries, err = svc.AuditLog(ctx, owner, limit)
	} else {
		entries, err = svc.AuditLogAll(ctx, limit)
	}
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No validation attempts recorded.")
		return nil
	}

	fmt.Printf("%-22s %-16s %-8s %-20s\n", "KEY", "OWNER", "OUTCOME", "AT")
	fmt.Printf("%-22s %-16s %-8s %-20s\n", "---", "-----", "-------", "--")
	for _, e := range entries {
		owner := e.Owner
		if owner == "" {
			owner = "-"
		}
		fmt.Printf("%-22s %-16s %-8s %-20s\n", e.Key, owner, e.Outcome, e.At.UTC().Format(time.RFC3339))
	}

	return nil
}

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cardbox/cardbox/internal/server"
	"github.com/cardbox/cardbox/internal/service"
	"github.com/cardbox/cardbox/internal/store"
	"github.com/cardbox/cardbox/internal/telemetry"
)

const banner = `
  ___ ___ ___ ___  ___  _____  __
 / __| _ | _ \   \| _ )/ _ \ \/ /
| (__|   |   / |) | _ \ (_) >  <
 \___|_|_|_|_\___/|___/\___/_/\_\
`

// sweepInterval is how often the background expiry sweep runs. Expiry
// is enforced lazily on validation anyway, so this only trims rows
// nobody presents anymore.
const sweepInterval = 15 * time.Minute

func newServeCmd() *cobra.Command {
	var (
		port        int
		host        string
		dev         bool
		ingestToken string
		singleUse   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Cardbox API server",
		Long:  "Start the HTTP server that exposes the ingest, validation, and inbox endpoints.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging, CORS *)")
	cmd.Flags().StringVar(&ingestToken, "ingest-token", "", "Shared secret for the agent ingest endpoint")
	cmd.Flags().BoolVar(&singleUse, "single-use", false, "Consume keys on first successful validation")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	viper.BindPFlag("ingest.token", cmd.Flags().Lookup("ingest-token"))
	viper.BindPFlag("keys.single_use", cmd.Flags().Lookup("single-use"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	// Set up logger
	logLevel := slog.LevelInfo
	if dev {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	// 1. Open the store
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	logger.Info("store opened", "driver", st.Driver())

	// 2. Build domain services
	keyCfg := keyConfigFromViper()
	keys := service.NewKeyService(st, keyCfg)
	inbox := service.NewInboxService(st, inboxConfigFromViper())
	authSvc := service.NewAuthService(st, jwtSecretFromViper(), defaultSessionTTL)

	// 3. Check for first-run (no admin exists)
	hasAdmin, err := st.HasAnyAdmin(context.Background())
	if err != nil {
		logger.Warn("failed to check for admin", "error", err)
	}
	if !hasAdmin {
		logger.Warn("no admin account found - run: cardbox admin create")
	}

	// 4. Telemetry (opt-out via settings or CARDBOX_TELEMETRY=0)
	tracker := telemetry.New(context.Background(), st, func() telemetry.Properties {
		return gatherTelemetry(st, keyCfg.SingleUse)
	})
	if tracker != nil {
		telemetry.PrintNotice()
		tracker.Start()
		defer tracker.Shutdown()
	}

	// 5. Background expiry sweep
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go runSweepLoop(sweepCtx, keys, logger)

	// 6. Build and start HTTP server
	srvCfg := server.DefaultConfig()
	srvCfg.Host = host
	srvCfg.Port = port
	srvCfg.IngestToken = viper.GetString("ingest.token")
	if origins := viper.GetStringSlice("server.cors.allowed_origins"); len(origins) > 0 && !dev {
		srvCfg.CORSOrigins = origins
	}
	if limit := viper.GetInt("server.card_rate_limit"); limit > 0 {
		srvCfg.CardRateLimit = limit
	}

	srv := server.New(srvCfg, st, authSvc, keys, inbox, logger)

	fmt.Printf("→ Cardbox %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ OpenAPI:  http://%s:%d/openapi.json\n", host, port)
	fmt.Printf("→ Health:   http://%s:%d/healthz\n", host, port)
	fmt.Printf("→ Key TTL:  %s (single-use: %v)\n", keyCfg.DefaultTTL, keyCfg.SingleUse)
	fmt.Println()

	return srv.ListenAndServe()
}

// runSweepLoop deletes elapsed keys on a fixed interval until ctx is
// cancelled.
func runSweepLoop(ctx context.Context, keys *service.KeyService, logger *slog.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deleted, err := keys.Sweep(ctx)
			if err != nil {
				logger.Warn("expiry sweep failed", "error", err)
				continue
			}
			if deleted > 0 {
				logger.Info("expiry sweep", "deleted", deleted)
			}
		case <-ctx.Done():
			return
		}
	}
}

func gatherTelemetry(st *store.Store, singleUse bool) telemetry.Properties {
	props := telemetry.Properties{
		Version:   versionString(),
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Driver:    st.Driver(),
		SingleUse: singleUse,
	}

	ctx := context.Background()
	if accounts, err := st.ListAccounts(ctx); err == nil {
		props.Accounts = len(accounts)
	}
	if keys, err := st.ListCardKeys(ctx); err == nil {
		props.Keys = len(keys)
	}
	if admins, err := st.ListAdmins(ctx); err == nil {
		props.Admins = len(admins)
	}
	return props
}

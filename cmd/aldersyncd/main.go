package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/InsereNomen/AlderSync/pkg/api"
	"github.com/InsereNomen/AlderSync/pkg/auth"
	"github.com/InsereNomen/AlderSync/pkg/blob"
	"github.com/InsereNomen/AlderSync/pkg/lock"
	"github.com/InsereNomen/AlderSync/pkg/log"
	"github.com/InsereNomen/AlderSync/pkg/metrics"
	"github.com/InsereNomen/AlderSync/pkg/settings"
	"github.com/InsereNomen/AlderSync/pkg/storage"
	"github.com/InsereNomen/AlderSync/pkg/txn"
	"github.com/InsereNomen/AlderSync/pkg/types"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "aldersyncd",
	Short: "AlderSync - transactional versioned file synchronization server",
	Long: `AlderSync is the authoritative store for a pair of parallel content
trees kept in sync by a small population of trusted operators. It keeps a
revision history for every file, coordinates writers through an exclusive
lock, and exposes a JSON-over-HTTP sync protocol.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"AlderSync version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(userCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func loadConfigFromFlags() (Config, error) {
	path, _ := rootCmd.PersistentFlags().GetString("config")
	return LoadConfig(path)
}

// openEngine wires the full engine stack from a config
func openEngine(cfg Config) (storage.Store, *blob.Store, *txn.Manager, *settings.Settings, error) {
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	if password, err := auth.Bootstrap(store); err != nil {
		store.Close()
		return nil, nil, nil, nil, err
	} else if password != "" {
		fmt.Println("Created default admin user")
		fmt.Println("Username: admin")
		fmt.Printf("Password: %s\n", password)
		fmt.Println("IMPORTANT: Change this password after first login!")
	}

	blobs, err := blob.NewStore(cfg.StorageRoot)
	if err != nil {
		store.Close()
		return nil, nil, nil, nil, err
	}

	cfgSettings := settings.New(store)
	locks := lock.NewManager()
	txns, err := txn.NewManager(store, blobs, locks, cfgSettings, cfg.StagingRoot)
	if err != nil {
		store.Close()
		return nil, nil, nil, nil, err
	}
	return store, blobs, txns, cfgSettings, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfigFromFlags()
		if err != nil {
			return err
		}
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			cfg.Listen = listen
		}

		store, blobs, txns, cfgSettings, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		// Reclaim staging debris from a previous crash before serving
		if err := txns.CleanStagingRoot(); err != nil {
			mainLogger := log.WithComponent("main")
			mainLogger.Error().Err(err).Msg("Staging cleanup failed")
		}

		metrics.Register()

		secret := []byte(cfgSettings.JWTSecret())
		issuer := auth.NewTokenIssuer(secret, cfgSettings.JWTExpiration())
		authenticator := auth.NewAuthenticator(store, issuer)
		sessions := auth.NewSessionManager()

		server := api.NewServer(store, blobs, txns, authenticator, issuer, sessions, cfgSettings)

		txns.Start()
		defer txns.Stop()

		// Periodic admin-session GC
		sessionGC := time.NewTicker(time.Hour)
		defer sessionGC.Stop()
		go func() {
			for range sessionGC.C {
				sessions.CleanupExpired()
			}
		}()

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.Listen)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			mainLogger := log.WithComponent("main")
			mainLogger.Info().Str("signal", sig.String()).Msg("Shutting down")
			return server.Stop(context.Background())
		}
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and print the generated admin password",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfigFromFlags()
		if err != nil {
			return err
		}
		store, _, _, _, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		fmt.Println("Database initialized")
		return nil
	},
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage sync users",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username> <password>",
	Short: "Create a sync user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfigFromFlags()
		if err != nil {
			return err
		}
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		if _, err := auth.Bootstrap(store); err != nil {
			return err
		}

		roleName, _ := cmd.Flags().GetString("role")
		role, err := store.GetRoleByName(roleName)
		if err != nil {
			return fmt.Errorf("unknown role %q", roleName)
		}

		hash, err := auth.HashPassword(args[1])
		if err != nil {
			return err
		}
		user := &types.User{
			Username:     args[0],
			PasswordHash: hash,
			RoleID:       role.ID,
			IsActive:     true,
			CreatedAt:    time.Now().UTC(),
		}
		if err := store.CreateUser(user); err != nil {
			return err
		}
		fmt.Printf("Created user %s with role %s\n", user.Username, role.Name)
		return nil
	},
}

var userDisableCmd = &cobra.Command{
	Use:   "disable <username>",
	Short: "Disable a sync user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfigFromFlags()
		if err != nil {
			return err
		}
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		user, err := store.GetUserByUsername(args[0])
		if err != nil {
			return err
		}
		user.IsActive = false
		if err := store.UpdateUser(user); err != nil {
			return err
		}
		fmt.Printf("Disabled user %s\n", user.Username)
		return nil
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "Listen address (overrides config file)")
	userAddCmd.Flags().String("role", "Standard User", "Role to assign")
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userDisableCmd)
}

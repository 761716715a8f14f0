package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/amigadave/kdbus/internal/config"
	"github.com/amigadave/kdbus/internal/logger"
	"github.com/amigadave/kdbus/pkg/ipc"
	"github.com/amigadave/kdbus/pkg/kdbus"
	"github.com/spf13/cobra"
)

// DefaultVersion is the daemon's version string.
const DefaultVersion = "0.1.0"

var (
	// CLI flags
	cfgFile   string
	logLevel  string
	logFormat string
	busName   string
	socketFlag string
	versionFlag bool

	// rootLog is the process-wide logger, set once runDaemon starts and
	// swapped in place by reloadLogLevel on SIGHUP.
	rootLogMu sync.Mutex
	rootLog   *logger.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kdbusd",
	Short: "kdbusd - a userspace kdbus broker core",
	Long: `kdbusd hosts the kdbus broker core outside the kernel: a root
namespace, its buses, endpoints, connections, and name registries, exposed
over a Unix domain socket front end instead of the real driver's ioctl()
interface.`,
	Version: DefaultVersion,
	RunE:    runDaemon,
}

// runDaemon loads configuration, stands up the root namespace and a bus
// with its default endpoint, starts the IPC front end, and blocks until a
// termination signal arrives.
func runDaemon(cmd *cobra.Command, args []string) error {
	if versionFlag {
		fmt.Printf("kdbusd version %s\n", DefaultVersion)
		return nil
	}

	if err := initLogger(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	rootLog.Info("starting kdbusd", "version", DefaultVersion)

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ns := kdbus.NewRootNamespace()
	rootLog.Info("root namespace ready", "devpath", cfg.Kdbus.RootDevpath)

	bus, err := kdbus.MakeBus(ns, kdbus.BusMakeParams{
		Name:      busName,
		BloomSize: cfg.Kdbus.DefaultBloomSize,
		Mode:      cfg.Kdbus.DefaultEndpointMode,
		Flags:     kdbus.BusFlagPolicyOpen,
	}, uint32(os.Getuid()))
	if err != nil {
		return fmt.Errorf("failed to create bus %q: %w", busName, err)
	}
	defer bus.Disconnect()
	rootLog.Info("bus created", "name", bus.Name(), "id", bus.ID())

	broker, err := ipc.New(cfg.IPC, bus, bus.Endpoints()[0], rootLog)
	if err != nil {
		return fmt.Errorf("failed to create ipc front end: %w", err)
	}
	defer broker.Close()

	reloader := config.NewReloader(cfgFile, cfg)
	reloader.AddCallback(reloadLogLevel)
	reloader.Start()
	defer reloader.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := broker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start ipc front end: %w", err)
	}
	rootLog.Info("kdbusd is running", "socket", cfg.IPC.SocketPath)

	<-ctx.Done()
	rootLog.Info("shutdown signal received, stopping")
	return nil
}

// initLogger initializes the global logger based on CLI flags and config.
func initLogger() error {
	cfg := config.DefaultLoggingConfig()
	if loaded, err := loadConfig(); err == nil {
		cfg = loaded.Logging
	}

	if logLevel != "" {
		cfg.Level = logLevel
	}
	if logFormat != "" {
		cfg.Format = logFormat
	}

	log, err := logger.New(cfg)
	if err != nil {
		return err
	}

	rootLog = log
	logger.SetGlobal(log)
	return nil
}

// reloadLogLevel is a config.ReloadCallback that re-applies the logging
// section of a SIGHUP-triggered config reload. The bus name and socket path
// are fixed for the process lifetime, so this is the only part of the
// daemon's configuration a reload can actually change.
func reloadLogLevel(ctx context.Context, newConfig *config.Config) error {
	log, err := logger.New(newConfig.Logging)
	if err != nil {
		return fmt.Errorf("failed to build logger from reloaded config: %w", err)
	}

	rootLogMu.Lock()
	rootLog = log
	rootLogMu.Unlock()
	logger.SetGlobal(log)

	log.Info("logging configuration reloaded", "level", newConfig.Logging.Level, "format", newConfig.Logging.Format)
	return nil
}

// loadConfig loads the configuration from the config file, environment
// variables, and CLI overrides, in that order of increasing precedence.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if socketFlag != "" {
		cfg.IPC.SocketPath = socketFlag
	}

	return cfg, nil
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if rootLog != nil {
			rootLog.Error("command execution failed", "error", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Config file path (default: kdbusd/config.yaml in the user config directory if present, plus environment variables)")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error (default: from config or env)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format: json, text (default: from config or env)")

	rootCmd.PersistentFlags().StringVar(&busName, "bus-name", fmt.Sprintf("%d-kdbusd", os.Getuid()),
		"Name of the bus to create at startup, must begin with \"<uid>-\"")
	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "",
		"IPC front end socket path (default: from config or env)")

	rootCmd.Flags().BoolVar(&versionFlag, "version", false,
		"Show version information")
}

package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trusdx/trusdxd/pkg/audio"
	"github.com/trusdx/trusdxd/pkg/config"
	"github.com/trusdx/trusdxd/pkg/logging"
)

const (
	Version = "0.1.0-dev"
	Build   = "development"
)

var (
	configPath     string
	verboseFlag    bool
	voxFlag        bool
	mockFlag       bool
	noPowerMonitor bool
)

var rootCmd = &cobra.Command{
	Use:   "trusdxd",
	Short: "truSDX driver daemon with TS-480 CAT emulation",
	Long: `trusdxd drives a truSDX transceiver over its USB serial port and exposes
a Kenwood TS-480 compatible CAT endpoint for programs like JS8Call and
WSJT-X, relaying receive and transmit audio over the same serial link.`,
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("trusdxd version %s (%s)\n", Version, Build)
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio and serial devices",
	Run: func(cmd *cobra.Command, args []string) {
		listDevices()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Configuration file path")
	rootCmd.Flags().BoolVar(&verboseFlag, "verbose", false, "Enable debug and wire trace logging")
	rootCmd.Flags().BoolVar(&voxFlag, "vox", false, "Force VOX keying on")
	rootCmd.Flags().BoolVar(&mockFlag, "mock", false, "Use a mock radio instead of real hardware")
	rootCmd.Flags().BoolVar(&noPowerMonitor, "no-power-monitor", false, "Disable the power disconnect poller")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(devicesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configured file, falling back to built-in defaults
// when the default path simply does not exist.
func loadConfig(cmd *cobra.Command) *config.Config {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
			log.Printf("No %s found, using built-in defaults", configPath)
			return config.DefaultConfig()
		}
		log.Fatalf("Failed to load configuration: %v", err)
	}
	return cfg
}

func runDaemon(cmd *cobra.Command) {
	cfg := loadConfig(cmd)

	// Command line switches override the file.
	if verboseFlag {
		cfg.Logging.Level = "debug"
		cfg.Logging.Trace = true
	}
	if voxFlag {
		cfg.Audio.VOX.Enabled = true
	}
	if mockFlag {
		cfg.Radio.UseMock = true
	}
	if noPowerMonitor {
		cfg.PowerMonitor.Disabled = true
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logging.Init(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    cfg.Logging.Console,
		Structured: cfg.Logging.Structured,
	})
	logging.SetTraceEnabled(cfg.Logging.Trace)

	logging.Infof("trusdxd version %s starting...", Version)
	if cfg.Radio.UseMock {
		logging.Infof("Radio: mock transceiver")
	} else {
		logging.Infof("Radio: %s at %d baud", cfg.Radio.Device, cfg.Radio.BaudRate)
	}
	logging.Infof("CAT endpoint: %s", cfg.CAT.PortPath)
	if !cfg.Web.Disabled {
		logging.Infof("Web interface: http://%s:%d", cfg.Web.BindAddress, cfg.Web.Port)
	}

	daemon, err := NewDaemon(cfg, configPath)
	if err != nil {
		logging.Errorf("Failed to create daemon: %v", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := daemon.Start(); err != nil {
		logging.Errorf("Failed to start daemon: %v", err)
		os.Exit(1)
	}

	logging.Infof("trusdxd started successfully")

	select {
	case <-sigChan:
		logging.Infof("Shutting down...")
	case err := <-daemon.Failed():
		logging.Errorf("Radio connection failed permanently: %v", err)
		daemon.Stop()
		os.Exit(1)
	}

	if err := daemon.Stop(); err != nil {
		logging.Errorf("Error during shutdown: %v", err)
	}

	logging.Infof("trusdxd stopped")
}

// listDevices prints what the daemon can see without starting it.
func listDevices() {
	fmt.Println("Audio devices:")
	if err := audio.Initialize(); err != nil {
		fmt.Printf("  (audio unavailable: %v)\n", err)
	} else {
		defer audio.Terminate()
		devices, err := audio.ListDevices()
		if err != nil {
			fmt.Printf("  (enumeration failed: %v)\n", err)
		}
		for _, dev := range devices {
			dir := ""
			if dev.MaxInputs > 0 {
				dir += "in"
			}
			if dev.MaxOutputs > 0 {
				if dir != "" {
					dir += "/"
				}
				dir += "out"
			}
			marks := ""
			if dev.DefaultIn || dev.DefaultOut {
				marks = " *"
			}
			fmt.Printf("  [%d] %s (%s, %s)%s\n", dev.Index, dev.Name, dev.HostAPI, dir, marks)
		}
	}

	fmt.Println("Serial devices:")
	devices := listSerialDevices()
	if len(devices) == 0 {
		fmt.Println("  (none found)")
	}
	for _, dev := range devices {
		fmt.Printf("  %s\n", dev)
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/trusdx/trusdxd/pkg/client"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "trusdxctl",
	Short: "Control a running trusdxd daemon",
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := client.New(serverURL).Status()
		if err != nil {
			return err
		}
		printMap(status)
		return nil
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the emulated radio state",
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := client.New(serverURL).RadioState()
		if err != nil {
			return err
		}
		printMap(state)
		return nil
	},
}

var pttCmd = &cobra.Command{
	Use:   "ptt on|off",
	Short: "Key or unkey the transmitter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var on bool
		switch strings.ToLower(args[0]) {
		case "on":
			on = true
		case "off":
			on = false
		default:
			return fmt.Errorf("argument must be on or off, got %q", args[0])
		}

		if err := client.New(serverURL).SetPTT(on); err != nil {
			return err
		}
		fmt.Printf("PTT %s\n", args[0])
		return nil
	},
}

var freqCmd = &cobra.Command{
	Use:   "freq <hertz>",
	Short: "Tune VFO A",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hz, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("frequency must be an integer in hertz: %w", err)
		}

		if err := client.New(serverURL).SetFrequency(hz); err != nil {
			return err
		}
		fmt.Printf("Tuned to %d Hz\n", hz)
		return nil
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the daemon's audio and serial devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(serverURL)

		audio, err := c.AudioDevices()
		if err != nil {
			fmt.Printf("Audio: %v\n", err)
		} else {
			fmt.Println("Audio devices:")
			printMap(audio)
		}

		serial, err := c.SerialDevices()
		if err != nil {
			return err
		}
		fmt.Println("Serial devices:")
		for _, dev := range serial {
			fmt.Printf("  %s\n", dev)
		}
		return nil
	},
}

var levelsCmd = &cobra.Command{
	Use:   "levels",
	Short: "Show TX audio meters",
	RunE: func(cmd *cobra.Command, args []string) error {
		levels, err := client.New(serverURL).AudioLevels()
		if err != nil {
			return err
		}
		printMap(levels)
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream daemon events until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		wsURL := strings.Replace(serverURL, "http", "ws", 1) + "/api/v1/events/ws"
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			return fmt.Errorf("failed to reach daemon: %w", err)
		}
		defer conn.Close()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigChan
			conn.Close()
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return nil
			}
			fmt.Println(string(data))
		}
	},
}

// printMap renders a JSON object with stable key order.
func printMap(m map[string]interface{}) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := m[k]
		switch val := v.(type) {
		case map[string]interface{}, []interface{}:
			data, _ := json.Marshal(val)
			fmt.Printf("  %-14s %s\n", k+":", data)
		default:
			fmt.Printf("  %-14s %v\n", k+":", val)
		}
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Daemon API base URL")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(pttCmd)
	rootCmd.AddCommand(freqCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(levelsCmd)
	rootCmd.AddCommand(eventsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

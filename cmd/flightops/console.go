package main

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/fentz26/flightops/internal/tui"
	"github.com/spf13/cobra"
)

var consoleCmd = &cobra.Command{
	Use:     "console",
	Aliases: []string{"tui"},
	Short:   "Launch the interactive operator console",
	RunE:    runConsole,
}

var noStart bool

func init() {
	consoleCmd.Flags().BoolVar(&noStart, "no-start", false, "Do not start a local daemon when none is reachable")
}

func runConsole(cmd *cobra.Command, args []string) error {
	if !isDaemonRunning() {
		if noStart {
			return fmt.Errorf("daemon not reachable at %s", apiAddr)
		}
		fmt.Println("flightops daemon not running. Starting background service...")
		if err := startDaemon(); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
	}

	app := tui.New(apiAddr)
	if err := app.Run(); err != nil {
		return fmt.Errorf("console error: %w", err)
	}
	return nil
}

func isDaemonRunning() bool {
	health, err := CheckHealth()
	return err == nil && health.OK
}

func startDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	args := []string{"daemon"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	cmd := exec.Command(exe, args...)
	// Detach process so it survives console exit
	configureDaemonProc(cmd)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return err
	}

	fmt.Print("   Waiting for daemon...")
	for i := 0; i < 20; i++ { // Wait up to 5 seconds
		if isDaemonRunning() {
			fmt.Println(" Done.")
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" Timeout!")
	return fmt.Errorf("daemon started but API not reachable at %s", apiAddr)
}

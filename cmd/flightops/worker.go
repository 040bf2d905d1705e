package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fentz26/flightops/internal/models"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Manage the worker pool",
}

var workerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workers",
	RunE:  runWorkerList,
}

var workerAddCmd = &cobra.Command{
	Use:   "add [name] [address]",
	Short: "Register a worker or update its address",
	Args:  cobra.ExactArgs(2),
	RunE:  runWorkerAdd,
}

var workerSetCmd = &cobra.Command{
	Use:   "set [worker-id] [available|busy]",
	Short: "Override a worker's availability",
	Long: `Marks a worker available or busy. Marking a worker busy drains it: the
scheduler stops assigning plans to it. Marking it available returns any plan
still in progress on it to the queue.`,
	Args: cobra.ExactArgs(2),
	RunE: runWorkerSet,
}

var workerRemoveCmd = &cobra.Command{
	Use:     "rm [worker-id]",
	Aliases: []string{"remove"},
	Short:   "Remove a worker, requeueing any plan it was running",
	Args:    cobra.ExactArgs(1),
	RunE:    runWorkerRemove,
}

func init() {
	workerCmd.AddCommand(workerListCmd, workerAddCmd, workerSetCmd, workerRemoveCmd)
}

func runWorkerList(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/workers")
	if err != nil {
		return err
	}

	var workers []models.Worker
	if err := json.Unmarshal(resp, &workers); err != nil {
		return err
	}

	if len(workers) == 0 {
		fmt.Println("No workers registered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tADDRESS\tAVAILABILITY\tUPDATED")
	for _, wk := range workers {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			wk.ID, wk.Name, wk.Address, wk.Availability, wk.UpdatedAt.Local().Format(time.DateTime))
	}
	w.Flush()
	return nil
}

func runWorkerAdd(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/workers", models.WorkerSpec{Name: args[0], Address: args[1]})
	if err != nil {
		return err
	}

	var wk models.Worker
	if err := json.Unmarshal(resp, &wk); err != nil {
		return err
	}
	fmt.Printf("Worker %d %s at %s (%s)\n", wk.ID, wk.Name, wk.Address, wk.Availability)
	return nil
}

func runWorkerSet(cmd *cobra.Command, args []string) error {
	if _, err := parseID(args[0]); err != nil {
		return err
	}
	a := models.Availability(args[1])
	if !a.Valid() {
		return fmt.Errorf("availability must be %q or %q", models.AvailabilityAvailable, models.AvailabilityBusy)
	}

	if _, err := apiPut("/workers/"+args[0]+"/status", map[string]string{"availability": string(a)}); err != nil {
		return err
	}
	fmt.Printf("Worker %s is %s\n", args[0], a)
	return nil
}

func runWorkerRemove(cmd *cobra.Command, args []string) error {
	if _, err := parseID(args[0]); err != nil {
		return err
	}
	if err := apiDelete("/workers/" + args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed worker %s\n", args[0])
	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fentz26/flightops/internal/models"
	"github.com/fentz26/flightops/internal/trajectory"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Manage flight plans",
}

var planAddCmd = &cobra.Command{
	Use:   "add [file]",
	Short: "Enqueue a flight plan file",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanAdd,
}

var planListCmd = &cobra.Command{
	Use:   "list",
	Short: "List flight plans",
	RunE:  runPlanList,
}

var planShowCmd = &cobra.Command{
	Use:   "show [plan-id]",
	Short: "Show plan details and assignment history",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanShow,
}

var planRetryCmd = &cobra.Command{
	Use:   "retry [plan-id]",
	Short: "Return a plan to the queue, discarding any result",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanRetry,
}

var planReferenceCmd = &cobra.Command{
	Use:   "reference [plan-id] [response-number]",
	Short: "Set the authority response number of a plan",
	Args:  cobra.ExactArgs(2),
	RunE:  runPlanReference,
}

var planResultCmd = &cobra.Command{
	Use:   "result [plan-id]",
	Short: "Download or summarize a plan's result",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanResult,
}

var (
	planName     string
	planOwner    string
	planFolder   string
	planRef      string
	planHold     bool
	planStatus   string
	resultOut    string
	resultSumm   bool
	resultRemove bool
)

func init() {
	planCmd.AddCommand(planAddCmd, planListCmd, planShowCmd, planRetryCmd, planReferenceCmd, planResultCmd)

	planAddCmd.Flags().StringVar(&planName, "name", "", "Plan name (defaults to the file name)")
	planAddCmd.Flags().StringVar(&planOwner, "owner", "", "Owning user")
	planAddCmd.Flags().StringVar(&planFolder, "folder", "", "Folder the plan is filed under")
	planAddCmd.Flags().StringVar(&planRef, "ref", "", "Authority response number")
	planAddCmd.Flags().BoolVar(&planHold, "hold", false, "Create the plan unprocessed instead of queued")

	planListCmd.Flags().StringVar(&planStatus, "status", "", "Filter by status (unprocessed, queued, in-progress, done, error)")

	planResultCmd.Flags().StringVarP(&resultOut, "output", "o", "", "Write the result to this file instead of stdout")
	planResultCmd.Flags().BoolVar(&resultSumm, "summary", false, "Print a trajectory summary instead of the raw result")
	planResultCmd.Flags().BoolVar(&resultRemove, "delete", false, "Discard the result and requeue the plan")
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func runPlanAdd(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	name := planName
	if name == "" {
		name = filepath.Base(args[0])
	}

	body := map[string]interface{}{
		"name":                     name,
		"payload":                  string(data),
		"owner":                    planOwner,
		"folder":                   planFolder,
		"external_response_number": planRef,
		"hold":                     planHold,
	}
	resp, err := apiPost("/plans", body)
	if err != nil {
		return err
	}

	var plan models.FlightPlan
	if err := json.Unmarshal(resp, &plan); err != nil {
		return err
	}
	fmt.Printf("Created plan %d (%s)\n", plan.ID, plan.Status)
	return nil
}

func runPlanList(cmd *cobra.Command, args []string) error {
	path := "/plans"
	if planStatus != "" {
		path += "?status=" + url.QueryEscape(planStatus)
	}

	resp, err := apiGet(path)
	if err != nil {
		return err
	}

	var plans []models.FlightPlan
	if err := json.Unmarshal(resp, &plans); err != nil {
		return err
	}

	if len(plans) == 0 {
		fmt.Println("No plans found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tWORKER\tAUTHORIZATION\tUPDATED")
	for _, p := range plans {
		worker := "-"
		if p.WorkerID != nil {
			worker = strconv.FormatInt(*p.WorkerID, 10)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, truncate(p.Name, 40), p.Status, worker, p.AuthorizationStatus, p.UpdatedAt.Local().Format(time.DateTime))
	}
	w.Flush()
	return nil
}

func runPlanShow(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	resp, err := apiGet("/plans/" + args[0])
	if err != nil {
		return err
	}

	var p models.FlightPlan
	if err := json.Unmarshal(resp, &p); err != nil {
		return err
	}

	fmt.Printf("ID:            %d\n", p.ID)
	fmt.Printf("Name:          %s\n", p.Name)
	fmt.Printf("Status:        %s\n", p.Status)
	if p.WorkerID != nil {
		fmt.Printf("Worker:        %d\n", *p.WorkerID)
	}
	fmt.Printf("Authorization: %s\n", p.AuthorizationStatus)
	if p.AuthorizationMessage != "" {
		fmt.Printf("Authority:     %s\n", p.AuthorizationMessage)
	}
	if p.ExternalResponseNumber != "" {
		fmt.Printf("Reference:     %s\n", p.ExternalResponseNumber)
	}
	if p.Owner != "" {
		fmt.Printf("Owner:         %s\n", p.Owner)
	}
	if p.Folder != "" {
		fmt.Printf("Folder:        %s\n", p.Folder)
	}
	fmt.Printf("Result:        %v\n", p.ResultID != nil)
	fmt.Printf("Created:       %s\n", p.CreatedAt.Local().Format(time.DateTime))
	fmt.Printf("Updated:       %s\n", p.UpdatedAt.Local().Format(time.DateTime))

	resp, err = apiGet(fmt.Sprintf("/audit?plan_id=%d&limit=20", id))
	if err != nil {
		return err
	}
	var records []models.AssignmentRecord
	if err := json.Unmarshal(resp, &records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	fmt.Println("\n--- HISTORY ---")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tWORKER\tOUTCOME\tDETAILS")
	for _, r := range records {
		worker := "-"
		if r.WorkerID > 0 {
			worker = strconv.FormatInt(r.WorkerID, 10)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.Timestamp.Local().Format(time.DateTime), r.Action, worker, r.Outcome, truncate(r.Details, 60))
	}
	w.Flush()
	return nil
}

func runPlanRetry(cmd *cobra.Command, args []string) error {
	if _, err := parseID(args[0]); err != nil {
		return err
	}
	if _, err := apiPost("/plans/"+args[0]+"/queue", nil); err != nil {
		return err
	}
	fmt.Printf("Requeued plan %s\n", args[0])
	return nil
}

func runPlanReference(cmd *cobra.Command, args []string) error {
	if _, err := parseID(args[0]); err != nil {
		return err
	}
	body := map[string]string{"external_response_number": args[1]}
	if _, err := apiPut("/plans/"+args[0]+"/reference", body); err != nil {
		return err
	}
	fmt.Printf("Plan %s now answers to %s\n", args[0], args[1])
	return nil
}

func runPlanResult(cmd *cobra.Command, args []string) error {
	if _, err := parseID(args[0]); err != nil {
		return err
	}
	path := "/plans/" + args[0] + "/result"

	if resultRemove {
		if err := apiDelete(path); err != nil {
			return err
		}
		fmt.Printf("Discarded result of plan %s; plan requeued\n", args[0])
		return nil
	}

	if resultSumm {
		resp, err := apiGet(path + "/summary")
		if err != nil {
			return err
		}
		var s trajectory.Summary
		if err := json.Unmarshal(resp, &s); err != nil {
			return err
		}
		printSummary(&s)
		return nil
	}

	resp, err := apiGet(path)
	if err != nil {
		return err
	}
	if resultOut == "" {
		_, err = os.Stdout.Write(resp)
		return err
	}
	if err := os.WriteFile(resultOut, resp, 0o644); err != nil {
		return err
	}
	fmt.Printf("Wrote %d bytes to %s\n", len(resp), resultOut)
	return nil
}

func printSummary(s *trajectory.Summary) {
	fmt.Printf("Waypoints:   %d (%d lines skipped)\n", s.Waypoints, s.SkippedLines)
	fmt.Printf("Flight time: %s\n", s.FlightTime())
	fmt.Printf("Altitude:    %.1f .. %.1f\n", s.MinAlt, s.MaxAlt)
	fmt.Printf("Takeoff:     %.6f, %.6f\n", s.Takeoff.Lat, s.Takeoff.Lon)
	fmt.Printf("Landing:     %.6f, %.6f\n", s.Landing.Lat, s.Landing.Lon)
}

// --- Helpers ---

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

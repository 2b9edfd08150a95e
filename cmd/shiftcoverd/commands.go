package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/carebridge/shiftcover/internal/arbiter"
	"github.com/carebridge/shiftcover/internal/domain"
	"github.com/carebridge/shiftcover/internal/queue"
	"github.com/carebridge/shiftcover/pkg/logger"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// initializeForCLI loads config, a text-formatted logger, and every
// service a command might touch, without starting any listener.
func initializeForCLI(ctx context.Context) error {
	if err := loadConfig(); err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	logConfig := logger.Config{
		Level:  viper.GetString("monitoring.logging.level"),
		Format: "text",
		Output: "stdout",
	}
	if logConfig.Level == "" {
		logConfig.Level = "warn"
	}
	if err := logger.Init(logConfig); err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}

	if err := initializeServices(ctx); err != nil {
		return fmt.Errorf("failed to initialize services: %v", err)
	}
	return nil
}

func formatBool(b bool) string {
	if b {
		return green("Yes")
	}
	return red("No")
}

func formatStatus(status domain.OccurrenceStatus) string {
	switch status {
	case domain.StatusAssigned, domain.StatusScheduled, domain.StatusCompleted:
		return green(string(status))
	case domain.StatusOpen, domain.StatusRescheduled:
		return yellow(string(status))
	default:
		return red(string(status))
	}
}

func createProviderCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Manage care providers",
	}
	cmd.AddCommand(createProviderListCommand())
	return cmd
}

func createProviderListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			if err := initializeForCLI(ctx); err != nil {
				return err
			}

			providers, err := repo.ListProviders(ctx)
			if err != nil {
				return fmt.Errorf("failed to list providers: %v", err)
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "Name", "Phone", "Timezone", "On-call window", "Outbound calling"})
			table.SetBorder(false)
			for _, p := range providers {
				table.Append([]string{
					fmt.Sprintf("%d", p.ID),
					p.Name,
					p.PhoneNumber,
					p.Timezone,
					fmt.Sprintf("%s-%s", p.OnCallWindow.StartLocal, p.OnCallWindow.EndLocal),
					formatBool(p.OutboundCalling.Enabled),
				})
			}
			table.Render()
			return nil
		},
	}
}

func createEmployeeCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "employee",
		Short: "Manage provider staff",
	}
	cmd.AddCommand(createEmployeeListCommand())
	return cmd
}

func createEmployeeListCommand() *cobra.Command {
	var providerID int64

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a provider's employees",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			if err := initializeForCLI(ctx); err != nil {
				return err
			}

			employees, err := repo.ListEmployees(ctx, providerID)
			if err != nil {
				return fmt.Errorf("failed to list employees: %v", err)
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "Name", "Phone", "Active", "Outbound opt-in"})
			table.SetBorder(false)
			for _, e := range employees {
				table.Append([]string{
					fmt.Sprintf("%d", e.ID),
					e.DisplayName,
					e.Phone,
					formatBool(e.Active),
					formatBool(e.OutboundCallOptIn),
				})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().Int64VarP(&providerID, "provider", "p", 0, "Provider id (required)")
	cmd.MarkFlagRequired("provider")
	return cmd
}

func createOccurrenceCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "occurrence",
		Short: "Inspect and manually resolve shift occurrences",
	}
	cmd.AddCommand(
		createOccurrenceListCommand(),
		createOccurrenceReleaseCommand(),
		createOccurrenceRescheduleCommand(),
	)
	return cmd
}

func createOccurrenceListCommand() *cobra.Command {
	var (
		providerID int64
		status     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a provider's occurrences in a given status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			if err := initializeForCLI(ctx); err != nil {
				return err
			}

			occurrences, err := repo.ListOccurrencesByStatus(ctx, providerID, domain.OccurrenceStatus(status))
			if err != nil {
				return fmt.Errorf("failed to list occurrences: %v", err)
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "Date", "Start", "End", "Assigned employee", "Status"})
			table.SetBorder(false)
			for _, o := range occurrences {
				assigned := "-"
				if o.AssignedEmployeeID != nil {
					assigned = fmt.Sprintf("%d", *o.AssignedEmployeeID)
				}
				table.Append([]string{
					fmt.Sprintf("%d", o.ID),
					o.ScheduledDate,
					o.StartTime,
					o.EndTime,
					assigned,
					formatStatus(o.Status),
				})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().Int64VarP(&providerID, "provider", "p", 0, "Provider id (required)")
	cmd.Flags().StringVarP(&status, "status", "s", string(domain.StatusOpen), "Occurrence status to filter on")
	cmd.MarkFlagRequired("provider")
	return cmd
}

func createOccurrenceReleaseCommand() *cobra.Command {
	var employeeID int64

	cmd := &cobra.Command{
		Use:   "release <occurrence-id>",
		Short: "Release an occurrence back to the staff pool, as if the assigned employee called in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			if err := initializeForCLI(ctx); err != nil {
				return err
			}

			var occurrenceID int64
			if _, err := fmt.Sscanf(args[0], "%d", &occurrenceID); err != nil {
				return fmt.Errorf("invalid occurrence id %q", args[0])
			}

			result, err := arb.Submit(ctx, arbiter.Intent{
				OccurrenceID: occurrenceID,
				Kind:         arbiter.IntentRelease,
				EmployeeID:   employeeID,
			})
			if err != nil {
				return fmt.Errorf("failed to release occurrence: %v", err)
			}

			fmt.Printf("%s occurrence %d: %s -> %s\n", green("released"), occurrenceID, result.FromStatus, result.ToStatus)
			return nil
		},
	}
	cmd.Flags().Int64VarP(&employeeID, "employee", "e", 0, "Employee id releasing the shift (required)")
	cmd.MarkFlagRequired("employee")
	return cmd
}

func createOccurrenceRescheduleCommand() *cobra.Command {
	var (
		employeeID int64
		newDate    string
		newTime    string
	)

	cmd := &cobra.Command{
		Use:   "reschedule <occurrence-id>",
		Short: "Move an occurrence to a new date and time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			if err := initializeForCLI(ctx); err != nil {
				return err
			}

			var occurrenceID int64
			if _, err := fmt.Sscanf(args[0], "%d", &occurrenceID); err != nil {
				return fmt.Errorf("invalid occurrence id %q", args[0])
			}

			result, err := arb.Submit(ctx, arbiter.Intent{
				OccurrenceID: occurrenceID,
				Kind:         arbiter.IntentReschedule,
				EmployeeID:   employeeID,
				NewDate:      newDate,
				NewTime:      newTime,
			})
			if err != nil {
				return fmt.Errorf("failed to reschedule occurrence: %v", err)
			}

			fmt.Printf("%s occurrence %d: %s -> %s\n", green("rescheduled"), occurrenceID, result.FromStatus, result.ToStatus)
			return nil
		},
	}
	cmd.Flags().Int64VarP(&employeeID, "employee", "e", 0, "Employee id the shift stays assigned to (required)")
	cmd.Flags().StringVar(&newDate, "date", "", "New date, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&newTime, "time", "", "New start time, HH:MM (required)")
	cmd.MarkFlagRequired("employee")
	cmd.MarkFlagRequired("date")
	cmd.MarkFlagRequired("time")
	return cmd
}

func createQueueCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and cancel delayed jobs",
	}
	cmd.AddCommand(createQueueCancelCommand())
	return cmd
}

func createQueueCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <key-prefix>",
		Short: "Cancel every queued job whose key starts with the given prefix, e.g. shift:42:wave",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			if err := initializeForCLI(ctx); err != nil {
				return err
			}

			n, err := queue.Cancel(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to cancel jobs: %v", err)
			}
			fmt.Printf("%s %d job(s) matching %q\n", bold("cancelled"), n, args[0])
			return nil
		},
	}
}

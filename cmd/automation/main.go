// Package main provides a CLI tool for inspecting and operating the
// automation engine.
//
// Usage:
//
//	automation stats [--db <url>] [--days <n>]
//	automation executions [--db <url>] [--limit <n>]
//	automation tasks [--db <url>] [--status <status>] [--limit <n>]
//	automation messages [--db <url>] [--limit <n>]
//	automation cancel <task_id> [--db <url>]
//	automation process [--url <base_url>]
//	automation send-test <recipient> [--url <base_url>] [--subject <s>] [--body <b>]
//	automation migrate [--db <url>]
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/truevault/automation"
	"github.com/truevault/automation/internal/migrations"
	"github.com/truevault/automation/internal/storage"
)

var (
	dbURL   string
	baseURL string
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	cmdArgs := os.Args[2:]

	switch cmd {
	case "stats":
		fs := flag.NewFlagSet("stats", flag.ExitOnError)
		fs.StringVar(&dbURL, "db", "automation.db", "Database path/URL")
		days := fs.Int("days", 7, "Trailing window in days")
		_ = fs.Parse(cmdArgs)

		if err := cmdStats(*days); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

	case "executions":
		fs := flag.NewFlagSet("executions", flag.ExitOnError)
		fs.StringVar(&dbURL, "db", "automation.db", "Database path/URL")
		limit := fs.Int("limit", 20, "Maximum rows")
		_ = fs.Parse(cmdArgs)

		if err := cmdExecutions(*limit); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

	case "tasks":
		fs := flag.NewFlagSet("tasks", flag.ExitOnError)
		fs.StringVar(&dbURL, "db", "automation.db", "Database path/URL")
		statusFlag := fs.String("status", "", "Filter by status")
		limit := fs.Int("limit", 20, "Maximum rows")
		_ = fs.Parse(cmdArgs)

		if err := cmdTasks(*statusFlag, *limit); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

	case "messages":
		fs := flag.NewFlagSet("messages", flag.ExitOnError)
		fs.StringVar(&dbURL, "db", "automation.db", "Database path/URL")
		limit := fs.Int("limit", 20, "Maximum rows")
		_ = fs.Parse(cmdArgs)

		if err := cmdMessages(*limit); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

	case "cancel":
		fs := flag.NewFlagSet("cancel", flag.ExitOnError)
		fs.StringVar(&dbURL, "db", "automation.db", "Database path/URL")
		_ = fs.Parse(cmdArgs)
		args := fs.Args()

		if len(args) < 1 {
			fmt.Println("Error: task_id is required")
			fmt.Println("Usage: automation cancel <task_id> [--db <url>]")
			os.Exit(1)
		}
		if err := cmdCancel(args[0]); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

	case "process":
		fs := flag.NewFlagSet("process", flag.ExitOnError)
		fs.StringVar(&baseURL, "url", "http://localhost:8080", "Base URL of running automation server")
		_ = fs.Parse(cmdArgs)

		if err := cmdProcess(); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

	case "send-test":
		fs := flag.NewFlagSet("send-test", flag.ExitOnError)
		fs.StringVar(&baseURL, "url", "http://localhost:8080", "Base URL of running automation server")
		subject := fs.String("subject", "Test message", "Message subject")
		body := fs.String("body", "Delivery configuration check.", "Message body")
		_ = fs.Parse(cmdArgs)
		args := fs.Args()

		if len(args) < 1 {
			fmt.Println("Error: recipient is required")
			fmt.Println("Usage: automation send-test <recipient> [--url <base_url>]")
			os.Exit(1)
		}
		if err := cmdSendTest(args[0], *subject, *body); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

	case "migrate":
		fs := flag.NewFlagSet("migrate", flag.ExitOnError)
		fs.StringVar(&dbURL, "db", "automation.db", "Database path/URL")
		_ = fs.Parse(cmdArgs)

		if err := cmdMigrate(); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Automation CLI - Inspect and operate the automation engine")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  automation <command> [arguments] [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  stats                     Activity counts for the trailing window")
	fmt.Println("  executions                List recent workflow executions")
	fmt.Println("  tasks                     List scheduled tasks")
	fmt.Println("  messages                  List recent queued messages")
	fmt.Println("  cancel <task_id>          Cancel a pending scheduled task")
	fmt.Println("  process                   Trigger an immediate drain on a running server")
	fmt.Println("  send-test <recipient>     Queue a test message on a running server")
	fmt.Println("  migrate                   Apply pending database migrations")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --db <url>          Database path/URL (default: automation.db)")
	fmt.Println("  --url <base_url>    Server URL (default: http://localhost:8080)")
	fmt.Println("  --status <status>   Task status filter: pending, processing, completed, failed, cancelled")
	fmt.Println("  --limit <n>         Maximum rows to list")
	fmt.Println("  --days <n>          Stats window in days")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  automation stats --days 30")
	fmt.Println("  automation tasks --status pending")
	fmt.Println("  automation cancel 2f1d...")
	fmt.Println("  automation send-test ops@example.com")
}

func openStorage() (storage.Storage, error) {
	dbType, err := migrations.DetectDBType(dbURL)
	if err != nil {
		return nil, err
	}
	if dbType == "postgresql" {
		return storage.NewPostgresStorage(dbURL)
	}
	return storage.NewSQLiteStorage(strings.TrimPrefix(dbURL, "file:"))
}

func cmdStats(days int) error {
	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	since := time.Now().AddDate(0, 0, -days)

	execs, err := store.CountExecutionsSince(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to count executions: %w", err)
	}
	tasks, err := store.CountTasksByStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to count tasks: %w", err)
	}
	msgs, err := store.MessageStatsSince(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to get message stats: %w", err)
	}

	fmt.Printf("=== Activity (last %d days) ===\n", days)
	fmt.Println()
	fmt.Println("Executions:")
	fmt.Printf("  running:    %d\n", execs.Running)
	fmt.Printf("  completed:  %d\n", execs.Completed)
	fmt.Printf("  failed:     %d\n", execs.Failed)
	fmt.Println()
	fmt.Println("Tasks (all time):")
	fmt.Printf("  pending:    %d\n", tasks.Pending)
	fmt.Printf("  processing: %d\n", tasks.Processing)
	fmt.Printf("  completed:  %d\n", tasks.Completed)
	fmt.Printf("  failed:     %d\n", tasks.Failed)
	fmt.Printf("  cancelled:  %d\n", tasks.Cancelled)
	fmt.Println()
	fmt.Println("Messages:")
	fmt.Printf("  sent:       %d\n", msgs.Sent)
	fmt.Printf("  failed:     %d\n", msgs.Failed)
	fmt.Printf("  pending:    %d (backlog)\n", msgs.Pending)
	return nil
}

func cmdExecutions(limit int) error {
	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	execs, err := store.ListRecentExecutions(context.Background(), limit)
	if err != nil {
		return fmt.Errorf("failed to list executions: %w", err)
	}
	if len(execs) == 0 {
		fmt.Println("No executions found")
		return nil
	}

	for _, exec := range execs {
		fmt.Printf("%s  %-10s  %-24s  %s\n",
			exec.StartedAt.Format("2006-01-02 15:04:05"),
			exec.Status,
			exec.WorkflowName,
			exec.ExecutionID)
		if exec.ErrorMessage != "" {
			fmt.Printf("    error: %s\n", exec.ErrorMessage)
		}
	}
	return nil
}

func cmdTasks(status string, limit int) error {
	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	tasks, err := store.ListTasksByStatus(context.Background(), storage.TaskStatus(status), limit)
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	for _, task := range tasks {
		fmt.Printf("%s  %-10s  %-24s  %s\n",
			task.ExecuteAt.Format("2006-01-02 15:04:05"),
			task.Status,
			task.TaskType,
			task.TaskID)
		if task.ErrorMessage != "" {
			fmt.Printf("    error: %s\n", task.ErrorMessage)
		}
	}
	return nil
}

func cmdMessages(limit int) error {
	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	msgs, err := store.ListRecentMessages(context.Background(), limit)
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}
	if len(msgs) == 0 {
		fmt.Println("No messages found")
		return nil
	}

	for _, msg := range msgs {
		fmt.Printf("%s  %-8s  attempts=%d  %-28s  %s\n",
			msg.CreatedAt.Format("2006-01-02 15:04:05"),
			msg.Status,
			msg.Attempts,
			msg.Recipient,
			msg.MessageID)
		if msg.LastError != "" {
			fmt.Printf("    error: %s\n", msg.LastError)
		}
	}
	return nil
}

func cmdCancel(taskID string) error {
	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	task, err := store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to get task: %w", err)
	}
	if task == nil {
		return fmt.Errorf("task not found: %s", taskID)
	}

	cancelled, err := store.CancelTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}
	if !cancelled {
		return fmt.Errorf("task %s is %s and can no longer be cancelled", taskID, task.Status)
	}

	fmt.Printf("Task %s cancelled\n", taskID)
	return nil
}

func cmdProcess() error {
	resp, err := http.Post(baseURL+"/api/process", "application/json", nil)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	var result automation.ProcessResult
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("unexpected response: %s", string(body))
	}

	fmt.Printf("Tasks:    claimed=%d completed=%d failed=%d released=%d\n",
		result.TasksClaimed, result.TasksCompleted, result.TasksFailed, result.TasksReleased)
	fmt.Printf("Messages: claimed=%d sent=%d retried=%d failed=%d released=%d\n",
		result.Messages.Claimed, result.Messages.Sent, result.Messages.Retried,
		result.Messages.Failed, result.MessagesReleased)
	return nil
}

func cmdSendTest(recipient, subject, body string) error {
	payload, err := json.Marshal(map[string]string{
		"recipient": recipient,
		"subject":   subject,
		"body":      body,
	})
	if err != nil {
		return err
	}

	resp, err := http.Post(baseURL+"/api/messages/test", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		MessageID string `json:"message_id"`
	}
	_ = json.Unmarshal(respBody, &result)
	fmt.Printf("Test message queued: %s\n", result.MessageID)
	fmt.Println("The next processing tick will attempt delivery.")
	return nil
}

func cmdMigrate() error {
	dbType, err := migrations.DetectDBType(dbURL)
	if err != nil {
		return err
	}

	store, err := openStorage()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	applied, err := migrations.Apply(context.Background(), store.DB(), dbType, automation.EmbeddedMigrationsFS())
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	if len(applied) == 0 {
		fmt.Println("Database is up to date")
		return nil
	}
	for _, version := range applied {
		fmt.Printf("Applied %s\n", version)
	}
	return nil
}

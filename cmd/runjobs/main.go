package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/LoganSeven/publik-famille-demo-sub009/internal/application/services"
	"github.com/LoganSeven/publik-famille-demo-sub009/internal/infrastructure/adapters"
	"github.com/LoganSeven/publik-famille-demo-sub009/internal/infrastructure/database"
	"github.com/LoganSeven/publik-famille-demo-sub009/internal/infrastructure/persistence"
	"github.com/LoganSeven/publik-famille-demo-sub009/pkg/errors"
	"github.com/LoganSeven/publik-famille-demo-sub009/pkg/expression"
)

// runjobs executes the periodic workflow passes once and exits. It is
// meant to be driven by cron on deployments that do not run the
// embedded scheduler.
func main() {
	all := flag.Bool("all", false, "run passes for every workflow")
	workflowID := flag.String("workflow", "", "run passes for one workflow")
	job := flag.String("job", "", "run a single pass: timeout-jumps, global-timeouts or unstall")
	force := flag.Bool("force", false, "run even outside the configured cadence")
	since := flag.String("since", "", "only consider records changed at or after this time (RFC 3339 or YYYY-MM-DD)")
	until := flag.String("until", "", "only consider records changed at or before this time (RFC 3339 or YYYY-MM-DD)")
	flag.Parse()

	if !*all && *workflowID == "" {
		flag.Usage()
		os.Exit(2)
	}

	var window services.Window
	var err error
	if window.Since, err = parseTimeFlag(*since); err != nil {
		log.Fatalf("invalid --since value: %v", err)
	}
	if window.Until, err = parseTimeFlag(*until); err != nil {
		log.Fatalf("invalid --until value: %v", err)
	}

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	db, err := database.GetInstance()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	records := persistence.NewRecordRepository(db.DB())
	traces := persistence.NewTraceRepository(db.DB())
	workflows := persistence.NewWorkflowRepository(db.DB())

	service := services.NewWorkflowService(
		records,
		workflows,
		expression.NewEngine(),
		adapters.NewRoleDirectory(),
		adapters.LogMessageSender{},
		services.NewTraceRecorder(traces),
		errors.NewRecorder(),
	)
	scheduler := services.NewSchedulerService(service, workflows, records)
	scheduler.SetWindow(window)

	if !*force && !scheduler.DueNow(time.Now()) {
		log.Println("⏰ Not due at this time, use --force to run anyway")
		return
	}

	ctx := context.Background()
	switch {
	case *job != "" && *workflowID != "":
		err = scheduler.RunPass(ctx, *workflowID, *job)
	case *workflowID != "":
		err = scheduler.RunWorkflow(ctx, *workflowID)
	default:
		err = scheduler.RunAll(ctx)
	}
	if err != nil {
		log.Fatalf("❌ Scheduler run failed: %v", err)
	}
	log.Println("✅ Scheduler run complete")
}

func parseTimeFlag(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", value)
}

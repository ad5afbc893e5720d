package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/applaudehq/applaude-orchestrator/internal/config"
	"github.com/applaudehq/applaude-orchestrator/internal/domain"
	"github.com/applaudehq/applaude-orchestrator/internal/gateway"
	"github.com/applaudehq/applaude-orchestrator/internal/ledger"
	"github.com/applaudehq/applaude-orchestrator/internal/maintenance"
	"github.com/applaudehq/applaude-orchestrator/internal/notify"
	"github.com/applaudehq/applaude-orchestrator/internal/orchestrator"
	"github.com/applaudehq/applaude-orchestrator/internal/reports"
	"github.com/applaudehq/applaude-orchestrator/internal/runstore"
	"github.com/applaudehq/applaude-orchestrator/internal/testexec"
	"github.com/applaudehq/applaude-orchestrator/tui"
	"github.com/applaudehq/applaude-orchestrator/web/api"
)

var (
	servePort   int
	listProject string
	listStatus  string
	runUser     string
	runCategory string
	projUser    string
	projName    string
	projOwner   string
	projRepo    string
	projURL     string
	projToken   string
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and run dispatcher",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override the configured port")
	rootCmd.AddCommand(serveCmd)

	runCmd := &cobra.Command{
		Use:   "run PROJECT",
		Short: "Execute a run for a project and wait for it",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().StringVar(&runUser, "user", "", "user the run is billed to")
	runCmd.Flags().StringVar(&runCategory, "category", string(domain.CategoryFullStack), "run category")
	rootCmd.AddCommand(runCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show current status",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE:  runList,
	}
	listCmd.Flags().StringVar(&listProject, "project", "", "filter by project")
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	rootCmd.AddCommand(listCmd)

	logsCmd := &cobra.Command{
		Use:   "logs RUN",
		Short: "View logs for a run",
		Args:  cobra.ExactArgs(1),
		RunE:  runLogs,
	}
	rootCmd.AddCommand(logsCmd)

	plansCmd := &cobra.Command{
		Use:   "plans",
		Short: "Show the plan catalog",
		RunE:  runPlans,
	}
	rootCmd.AddCommand(plansCmd)

	projectCmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a project",
		RunE:  runProjectAdd,
	}
	addCmd.Flags().StringVar(&projUser, "user", "", "owning user")
	addCmd.Flags().StringVar(&projName, "name", "", "project name")
	addCmd.Flags().StringVar(&projOwner, "owner", "", "GitHub repository owner")
	addCmd.Flags().StringVar(&projRepo, "repo", "", "GitHub repository name")
	addCmd.Flags().StringVar(&projURL, "url", "", "clone URL (defaults to github.com/owner/repo)")
	addCmd.Flags().StringVar(&projToken, "token", "", "access token used for clone and PR")
	projectCmd.AddCommand(addCmd)
	rootCmd.AddCommand(projectCmd)

	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch TUI dashboard",
		RunE:  runTUI,
	}
	rootCmd.AddCommand(tuiCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func openStore(cfg *config.Config) (*runstore.Store, error) {
	return runstore.New(config.ExpandPath(cfg.General.DatabasePath))
}

// buildOrchestrator assembles the full run pipeline from configuration
func buildOrchestrator(ctx context.Context, cfg *config.Config, store *runstore.Store) (*orchestrator.Orchestrator, error) {
	gw, err := gateway.New(cfg.Anthropic, nil)
	if err != nil {
		return nil, err
	}
	runner, err := testexec.NewClient(cfg.TestRunner)
	if err != nil {
		return nil, err
	}
	reportStore, err := reports.NewStore(ctx, cfg.Reports)
	if err != nil {
		return nil, err
	}

	var notifiers []notify.Notifier
	if cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}

	source := orchestrator.GitSourceFactory(config.ExpandPath(cfg.General.WorkspaceDir))
	return orchestrator.New(store, gw, runner, reportStore, source,
		notify.NewMultiNotifier(notifiers...), cfg.GitHub.BaseBranch), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Web.Port = servePort
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ldg, err := ledger.New(store.DB())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := buildOrchestrator(ctx, cfg, store)
	if err != nil {
		return err
	}
	dispatcher := orchestrator.NewDispatcher(orch, cfg.General.MaxParallelRuns, 64)

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	server := api.NewServer(store, ldg, dispatcher, addr)
	orch.SetStatusCallback(server.OnRunStatus)

	sweeper, err := maintenance.NewSweeper(store,
		time.Duration(cfg.General.StaleAfterMin)*time.Minute, cfg.General.SweepCron)
	if err != nil {
		return err
	}

	// Re-dispatch runs that were queued when the last process exited
	queued, err := store.ListRuns(runstore.ListOptions{Status: domain.RunQueued})
	if err != nil {
		return err
	}
	for _, run := range queued {
		if err := dispatcher.Enqueue(run.ID); err != nil {
			log.Printf("requeue %s: %v", run.ID, err)
		}
	}

	log.Printf("listening on %s", addr)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error { return dispatcher.Run(ctx) })
	g.Go(func() error { return sweeper.Run(ctx) })
	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	if runUser == "" {
		return fmt.Errorf("--user is required")
	}
	category := domain.RunCategory(runCategory)
	if !category.IsValid() {
		return fmt.Errorf("unknown category %q", runCategory)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ldg, err := ledger.New(store.DB())
	if err != nil {
		return err
	}

	project, err := store.GetProject(args[0])
	if err != nil {
		return err
	}
	if project.UserID != runUser {
		return fmt.Errorf("project %s does not belong to %s", project.ID, runUser)
	}

	reservation, err := ldg.Reserve(runUser)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := buildOrchestrator(ctx, cfg, store)
	if err != nil {
		if rerr := ldg.Release(reservation); rerr != nil {
			log.Printf("release reservation: %v", rerr)
		}
		return err
	}

	run := &domain.Run{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		Category:  category,
		Status:    domain.RunQueued,
		StartedAt: time.Now().UTC(),
	}
	if err := store.CreateRun(run); err != nil {
		if rerr := ldg.Release(reservation); rerr != nil {
			log.Printf("release reservation: %v", rerr)
		}
		return err
	}

	fmt.Printf("Run %s started for %s/%s\n", run.ID, project.RepoOwner, project.RepoName)
	if err := orch.Execute(ctx, run.ID); err != nil {
		return err
	}

	final, err := store.GetRun(run.ID)
	if err != nil {
		return err
	}
	fmt.Printf("Run %s: %s\n", final.ID, final.Status.Label())
	if final.PRURL != "" {
		fmt.Printf("  PR:     %s\n", final.PRURL)
	}
	if final.ReportURL != "" {
		fmt.Printf("  Report: %s\n", final.ReportURL)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(runstore.ListOptions{})
	if err != nil {
		return err
	}

	counts := map[domain.RunStatus]int{}
	for _, r := range runs {
		counts[r.Status]++
	}
	fmt.Printf("Runs: %d total\n", len(runs))
	for _, s := range []domain.RunStatus{
		domain.RunQueued, domain.RunCloning, domain.RunTesting,
		domain.RunDebugging, domain.RunReporting, domain.RunComplete, domain.RunFailed,
	} {
		if counts[s] > 0 {
			fmt.Printf("  %-22s %d\n", s.Label(), counts[s])
		}
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(runstore.ListOptions{
		ProjectID: listProject,
		Status:    domain.RunStatus(listStatus),
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tPROJECT\tCATEGORY\tSTATUS\tSTARTED\tPR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.ProjectID, r.Category, r.Status,
			r.StartedAt.Format(time.RFC3339), r.PRURL)
	}
	return w.Flush()
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.GetLogs(args[0])
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s [%s] %s\n", e.Timestamp.Format(time.RFC3339), e.Level, e.Message)
	}
	return nil
}

func runPlans(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PLAN\tPRICE\tRUNS\tDURATION")
	for _, key := range []string{"WEEKLY", "MONTHLY", "YEARLY"} {
		p := ledger.Plans[key]
		fmt.Fprintf(w, "%s\t$%d\t%d\t%d days\n", p.Name, p.PriceUSD, p.Runs, p.DurationDays)
	}
	return w.Flush()
}

func runProjectAdd(cmd *cobra.Command, args []string) error {
	if projUser == "" || projOwner == "" || projRepo == "" {
		return fmt.Errorf("--user, --owner and --repo are required")
	}
	if projName == "" {
		projName = projRepo
	}
	if projURL == "" {
		projURL = fmt.Sprintf("https://github.com/%s/%s.git", projOwner, projRepo)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	project := &domain.Project{
		ID:        uuid.NewString(),
		UserID:    projUser,
		Name:      projName,
		RepoOwner: projOwner,
		RepoName:  projRepo,
		RepoURL:   projURL,
		Token:     projToken,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := store.CreateProject(project); err != nil {
		return err
	}
	fmt.Printf("Project %s registered (%s)\n", project.ID, project.RepoURL)
	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	p := tea.NewProgram(tui.NewModel(store), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

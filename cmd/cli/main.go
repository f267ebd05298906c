package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/w3c/groups-server/internal/app"
	"github.com/w3c/groups-server/internal/config"
	"github.com/w3c/groups-server/internal/domain"
	"github.com/w3c/groups-server/internal/logging"
	"github.com/w3c/groups-server/internal/publish"
	"github.com/w3c/groups-server/internal/reconciler"
	"github.com/w3c/groups-server/internal/storage"
	"github.com/w3c/groups-server/pkg/client"
)

var (
	cfgFile    string
	outputJSON bool
	fromServer bool
	runsLimit  int
)

var rootCmd = &cobra.Command{
	Use:   "groups-server",
	Short: "W3C groups repository catalog",
	Long: `A CLI tool for the W3C groups repository catalog.

It runs refresh cycles that list the W3C groups, collect the GitHub repositories
they own, and publish the repository and group artifacts.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one refresh cycle",
	Long:  `Run a single refresh cycle in the foreground and publish its artifacts.`,
	Args:  cobra.NoArgs,
	RunE:  runCycle,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show published artifacts",
}

var showReposCmd = &cobra.Command{
	Use:   "repos",
	Short: "Show the repositories associated with a group",
	Args:  cobra.NoArgs,
	RunE:  runShowRepos,
}

var showGroupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Show the group catalog",
	Args:  cobra.NoArgs,
	RunE:  runShowGroups,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show the refresh cycle history",
	Args:  cobra.NoArgs,
	RunE:  runShowRuns,
}

var nudgeCmd = &cobra.Command{
	Use:   "nudge",
	Short: "Ask a running server to start a refresh cycle",
	Args:  cobra.NoArgs,
	RunE:  runNudge,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "env file (default is .env)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	showCmd.PersistentFlags().BoolVar(&fromServer, "server", false, "read the artifacts from the running server instead of the destination directory")
	runsCmd.Flags().IntVar(&runsLimit, "limit", storage.DefaultListLimit, "number of runs to show")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(showCmd)
	showCmd.AddCommand(showReposCmd)
	showCmd.AddCommand(showGroupsCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(nudgeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var files []string
	if cfgFile != "" {
		files = append(files, cfgFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runCycle(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, *logging.Default())

	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer application.Close()

	run, err := application.Runner.Run(ctx, reconciler.TriggerCLI)
	if run != nil {
		printRuns([]*domain.CycleRun{run})
	}
	return err
}

func runShowRepos(cmd *cobra.Command, args []string) error {
	var repos []*domain.Repository
	if err := readArtifact(publish.GroupRepositories, &repos, func(c *client.Client) (err error) {
		repos, err = c.GetRepositories()
		return err
	}); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(repos)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Repository", "Groups", "Type", "Archived", "Private"})
	for _, r := range repos {
		refs := make([]string, 0, len(r.GroupRefs()))
		for _, ref := range r.GroupRefs() {
			refs = append(refs, ref.String())
		}
		var repoType string
		if r.Manifest != nil {
			repoType = strings.Join(r.Manifest.RepoType, ", ")
		}
		table.Append([]string{
			r.FullName(),
			strings.Join(refs, ", "),
			repoType,
			strconv.FormatBool(r.IsArchived),
			strconv.FormatBool(r.IsPrivate),
		})
	}
	table.Render()

	fmt.Printf("\n%d repositories\n", len(repos))
	return nil
}

func runShowGroups(cmd *cobra.Command, args []string) error {
	var groups []*domain.Group
	if err := readArtifact(publish.Groups, &groups, func(c *client.Client) (err error) {
		groups, err = c.GetGroups()
		return err
	}); err != nil {
		return err
	}

	if outputJSON {
		return printJSON(groups)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Identifier", "Name", "Type", "Closed"})
	for _, g := range groups {
		table.Append([]string{
			strconv.Itoa(g.ID),
			g.Identifier,
			g.Name,
			string(g.GroupType),
			strconv.FormatBool(g.IsClosed),
		})
	}
	table.Render()

	fmt.Printf("\n%d groups\n", len(groups))
	return nil
}

// readArtifact decodes a published artifact from the destination directory, or from the
// server when --server is set
func readArtifact(relPath string, v any, remote func(*client.Client) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if fromServer {
		if err := remote(client.NewClient(cfg.APIEndpoint)); err != nil {
			return fmt.Errorf("failed to get %s: %w", relPath, err)
		}
		return nil
	}

	data, err := publish.NewStore(cfg.Destination).Read(relPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", relPath, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", relPath, err)
	}
	return nil
}

func runShowRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateStorage(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	history, err := app.OpenStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer history.Close()

	runs, err := history.ListRuns(context.Background(), runsLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if outputJSON {
		return printJSON(runs)
	}
	printRuns(runs)
	return nil
}

func runNudge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := client.NewClient(cfg.APIEndpoint).Nudge(); err != nil {
		return fmt.Errorf("failed to nudge %s: %w", cfg.APIEndpoint, err)
	}
	fmt.Println("Refresh cycle requested")
	return nil
}

func printRuns(runs []*domain.CycleRun) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Trigger", "Status", "Phase", "Groups", "Repositories", "Written", "Started", "Error"})
	for _, r := range runs {
		table.Append([]string{
			r.ID,
			r.Trigger,
			string(r.Status),
			string(r.Phase),
			strconv.Itoa(r.Groups),
			strconv.Itoa(r.Repositories),
			strconv.Itoa(r.ArtifactsWritten),
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Error,
		})
	}
	table.Render()
}

func printJSON(v any) error {
	data, err := publish.Encode(v)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	containerobjects "github.com/artpar/containerobjects"
	"github.com/artpar/containerobjects/internal/shell/docker"
	"github.com/artpar/containerobjects/internal/shell/store"
)

// dockerFactory connects to the daemon named by the configuration.
type dockerFactory func(ctx context.Context, cfg *containerobjects.Config) (docker.Docker, error)

// cli holds what every command shares.
type cli struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer
	dial       dockerFactory
}

func newRootCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "containerobjects",
		Short:         "Run compose services as container objects",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&c.configPath, "config", "", "Path to config file")

	cmd.AddCommand(newUpCmd(c))
	cmd.AddCommand(newLsCmd(c))
	cmd.AddCommand(newPruneCmd(c))
	cmd.AddCommand(newVersionCmd(c))
	return cmd
}

// setup loads the configuration and builds the logger.
func (c *cli) setup() (*containerobjects.Config, *slog.Logger, error) {
	cfg, err := containerobjects.LoadConfig(c.configPath)
	if err != nil {
		return nil, nil, withExit(ExitConfigError, err)
	}
	return cfg, containerobjects.SetupLogger(cfg), nil
}

func (c *cli) openLedger(cfg *containerobjects.Config) (*store.SQLiteStore, error) {
	if cfg.Ledger.Path == "" {
		return nil, withExit(ExitConfigError, errors.New("no ledger configured; set ledger.path or CONTAINEROBJECTS_LEDGER_PATH"))
	}
	ledger, err := store.NewSQLiteStore(cfg.Ledger.Path)
	if err != nil {
		return nil, withExit(ExitLedgerError, err)
	}
	return ledger, nil
}

func (c *cli) connect(ctx context.Context, cfg *containerobjects.Config) (docker.Docker, error) {
	d, err := c.dial(ctx, cfg)
	if err != nil {
		return nil, withExit(ExitDockerError, err)
	}
	return d, nil
}

// =============================================================================
// up
// =============================================================================

func newUpCmd(c *cli) *cobra.Command {
	var hold time.Duration
	cmd := &cobra.Command{
		Use:   "up <compose-file> <service>",
		Short: "Start a compose service and the services it depends on",
		Long: `Starts the service and its dependencies as container objects, prints
their container IDs and addresses, and destroys them again on interrupt or
once --for has elapsed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.up(cmd.Context(), args[0], args[1], hold)
		},
	}
	cmd.Flags().DurationVar(&hold, "for", 0, "Destroy the services after this long (0 waits for an interrupt)")
	return cmd
}

func (c *cli) up(ctx context.Context, file, service string, hold time.Duration) error {
	cfg, logger, err := c.setup()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return withExit(ExitConfigError, err)
	}
	absFile, err := filepath.Abs(file)
	if err != nil {
		return withExit(ExitConfigError, err)
	}
	project, err := containerobjects.LoadCompose(string(data), filepath.Dir(absFile))
	if err != nil {
		return withExit(ExitConfigError, err)
	}
	order, err := project.StartOrder(service)
	if err != nil {
		return withExit(ExitConfigError, err)
	}
	if unset := project.UnsetVariables(); len(unset) > 0 {
		logger.Warn("compose variables are not set", "variables", unset)
	}

	d, err := c.connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	env, err := containerobjects.NewEnvironment(ctx,
		containerobjects.WithDocker(d),
		containerobjects.WithConfig(cfg),
		containerobjects.WithLogger(logger),
	)
	if err != nil {
		return withExit(ExitConfigError, err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		if err := env.Close(closeCtx); err != nil {
			logger.Error("failed to destroy services", "error", err)
		}
	}()

	w := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tCONTAINER\tADDRESS")
	for _, name := range order {
		if ignored, _ := project.Ignored(name); len(ignored) > 0 {
			logger.Warn("ignoring unsupported service keys", "service", name, "keys", ignored)
		}
		def, err := project.Definition(name)
		if err != nil {
			return withExit(ExitConfigError, err)
		}
		ref, err := containerobjects.Create(ctx, env.Manager(), def)
		if err != nil {
			return withExit(ExitDockerError, err)
		}
		svc := ref.Object()
		address := "-"
		if svc.Address.IsValid() {
			address = svc.Address.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, shortID(string(svc.ID)), address)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	wait := ctx
	if hold > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, hold)
		defer cancel()
	}
	<-wait.Done()
	logger.Info("destroying services", "services", len(order))
	return nil
}

// =============================================================================
// ls
// =============================================================================

func newLsCmd(c *cli) *cobra.Command {
	var (
		session string
		kind    string
		size    bool
	)
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List Docker resources recorded in the ledger and not yet removed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.ls(cmd.Context(), store.ListOptions{Session: session, Kind: store.Kind(kind)}, size)
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "Only list resources of this session")
	cmd.Flags().StringVar(&kind, "kind", "", "Only list resources of this kind (container, image)")
	cmd.Flags().BoolVarP(&size, "size", "s", false, "Show image sizes (queries the daemon)")
	return cmd
}

func (c *cli) ls(ctx context.Context, opts store.ListOptions, size bool) error {
	if opts.Kind != "" && !opts.Kind.Valid() {
		return withExit(ExitUsageError, fmt.Errorf("unknown kind %q", opts.Kind))
	}
	cfg, _, err := c.setup()
	if err != nil {
		return err
	}
	ledger, err := c.openLedger(cfg)
	if err != nil {
		return err
	}
	defer ledger.Close()

	resources, err := ledger.Outstanding(ctx, opts)
	if err != nil {
		return withExit(ExitLedgerError, err)
	}

	var d docker.Docker
	if size {
		if d, err = c.connect(ctx, cfg); err != nil {
			return err
		}
		defer d.Close()
	}

	w := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	header := "KIND\tREF\tOBJECT\tSESSION\tCREATED"
	if size {
		header += "\tSIZE"
	}
	fmt.Fprintln(w, header)
	now := time.Now()
	for _, r := range resources {
		ref := r.Ref
		if r.Kind == store.KindContainer {
			ref = shortID(ref)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s ago", r.Kind, ref, r.Object, r.Session, units.HumanDuration(now.Sub(r.CreatedAt)))
		if size {
			fmt.Fprintf(w, "\t%s", imageSize(ctx, d, r))
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

func imageSize(ctx context.Context, d docker.Docker, r store.Resource) string {
	if r.Kind != store.KindImage {
		return "-"
	}
	info, err := d.Images().Inspect(ctx, docker.ImageName(r.Ref))
	if err != nil {
		return "-"
	}
	return units.HumanSize(float64(info.Size))
}

// =============================================================================
// prune
// =============================================================================

func newPruneCmd(c *cli) *cobra.Command {
	var (
		session string
		kind    string
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove containers and images that sessions left behind",
		Long: `Removes every resource the ledger recorded and no session released.
Containers are force-removed; images still used by other containers are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.prune(cmd.Context(), store.ListOptions{Session: session, Kind: store.Kind(kind)})
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "Only prune resources of this session")
	cmd.Flags().StringVar(&kind, "kind", "", "Only prune resources of this kind (container, image)")
	return cmd
}

func (c *cli) prune(ctx context.Context, opts store.ListOptions) error {
	if opts.Kind != "" && !opts.Kind.Valid() {
		return withExit(ExitUsageError, fmt.Errorf("unknown kind %q", opts.Kind))
	}
	cfg, logger, err := c.setup()
	if err != nil {
		return err
	}
	ledger, err := c.openLedger(cfg)
	if err != nil {
		return err
	}
	defer ledger.Close()

	d, err := c.connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	result, err := store.Prune(ctx, ledger, d, opts, logger)
	if err != nil {
		return withExit(ExitLedgerError, err)
	}
	fmt.Fprintf(c.stdout, "removed %d, kept %d, failed %d\n", len(result.Removed), len(result.Kept), len(result.Failed))
	if len(result.Failed) > 0 {
		return withExit(ExitDockerError, fmt.Errorf("%d resources could not be removed", len(result.Failed)))
	}
	return nil
}

// =============================================================================
// version
// =============================================================================

func newVersionCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(c.stdout, "containerobjects %s (built %s)\n", Version, BuildTime)
		},
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

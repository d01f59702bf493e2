package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/bcnelson/stack-traffic-manager/internal/backend"
	"github.com/bcnelson/stack-traffic-manager/internal/client"
	"github.com/bcnelson/stack-traffic-manager/internal/config"
	"github.com/bcnelson/stack-traffic-manager/internal/domain"
	"github.com/bcnelson/stack-traffic-manager/internal/logging"
	"github.com/bcnelson/stack-traffic-manager/internal/output"
	"github.com/bcnelson/stack-traffic-manager/internal/service"
	"github.com/go-logr/logr"
	"github.com/logrusorgru/aurora/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/oauth2/clientcredentials"
)

// trafficAPI is served by the local TrafficService and the remote client alike.
type trafficAPI interface {
	Versions(ctx context.Context, application string) ([]domain.StackVersion, error)
	Distribution(ctx context.Context, application string) (*domain.RebalanceResult, error)
	SetWeight(ctx context.Context, req *domain.RebalanceRequest) (*domain.RebalanceResult, error)
}

type options struct {
	output          string
	dryRun          bool
	requireExisting bool
	listVersions    bool
}

func newRootCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "traffic [flags] APPLICATION [VERSION PERCENTAGE]",
		Short: "Show or shift the traffic of an application between its versions",
		Long: `Show the weighted DNS distribution of an application, or give one version
the requested percentage of its traffic. The other versions are rebalanced so
the total stays at 100%.`,
		Example: `  traffic myapp
  traffic myapp v4 25
  traffic --dry-run myapp v3 0`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 && len(args) != 3 {
				return fmt.Errorf("expected APPLICATION or APPLICATION VERSION PERCENTAGE, got %d argument(s)", len(args))
			}
			return nil
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return configureColor(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := applyFlags(cmd.Flags(), cfg); err != nil {
				return err
			}
			return run(cmd, cfg, &opts, args)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&opts.output, "output", "o", string(output.FormatText), "Output format: text, json or yaml")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Compute and show the change without submitting it")
	fs.BoolVar(&opts.requireExisting, "require-existing", false, "Fail when the version has no weighted record yet")
	fs.BoolVar(&opts.listVersions, "versions", false, "List the live versions of the application")
	addConfigFlags(fs)
	addColorControlFlags(cmd)

	return cmd
}

// addConfigFlags registers flags that override environment configuration.
func addConfigFlags(fs *pflag.FlagSet) {
	fs.String("strategy", "", "Rebalancing strategy: compensating or proportional (env TRAFFIC_STRATEGY)")
	fs.String("record-backend", "", "Where weighted records live: sql, route53 or file (env RECORD_BACKEND)")
	fs.String("directory-backend", "", "Where versions are discovered: sql, cloudformation or file (env DIRECTORY_BACKEND)")
	fs.String("zone-file", "", "Zone file for the file record backend (env ZONE_FILE)")
	fs.String("inventory-file", "", "Inventory file for the file directory backend (env INVENTORY_FILE)")
	fs.String("hosted-zone-id", "", "Route53 hosted zone, looked up from the domain when empty (env HOSTED_ZONE_ID)")
	fs.String("region", "", "AWS region (env AWS_REGION)")
	fs.String("db-driver", "", "Database driver: sqlite3 or postgres (env DB_DRIVER)")
	fs.String("db-dsn", "", "Database connection string (env DB_DSN)")
	fs.String("server", "", "Traffic server URL; when set the backends are not used directly (env TRAFFIC_SERVER_URL)")
	fs.String("api-key", "", "API key for the traffic server (env TRAFFIC_API_KEY)")
	fs.String("log-level", "", "Log level: error, warning, info, debug or trace (env LOG_LEVEL)")
}

// applyFlags overrides configuration fields with explicitly set flags.
func applyFlags(fs *pflag.FlagSet, cfg *config.Config) error {
	overrides := map[string]*string{
		"strategy":          &cfg.Traffic.Strategy,
		"record-backend":    &cfg.Backend.Records,
		"directory-backend": &cfg.Backend.Directory,
		"zone-file":         &cfg.Backend.ZoneFile,
		"inventory-file":    &cfg.Backend.Inventory,
		"hosted-zone-id":    &cfg.Backend.HostedZoneID,
		"region":            &cfg.Backend.AWSRegion,
		"db-driver":         &cfg.Database.Driver,
		"db-dsn":            &cfg.Database.DSN,
		"server":            &cfg.Client.ServerURL,
		"api-key":           &cfg.Client.APIKey,
		"log-level":         &cfg.Log.Level,
	}
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if target, ok := overrides[f.Name]; ok && err == nil {
			*target, err = fs.GetString(f.Name)
		}
	})
	return err
}

func run(cmd *cobra.Command, cfg *config.Config, opts *options, args []string) error {
	format, err := output.ParseFormat(opts.output)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	api, closeFn, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeFn()

	app := args[0]
	out := cmd.OutOrStdout()

	if opts.listVersions {
		versions, err := api.Versions(ctx, app)
		if err != nil {
			return err
		}
		return output.Versions(out, format, versions)
	}

	if len(args) == 1 {
		result, err := api.Distribution(ctx, app)
		if err != nil {
			return err
		}
		return output.Distribution(out, format, result)
	}

	percentage, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("invalid percentage %q: %w", args[2], err)
	}

	result, err := api.SetWeight(ctx, &domain.RebalanceRequest{
		Application:     app,
		Version:         args[1],
		Percentage:      percentage,
		RequireExisting: opts.requireExisting,
		DryRun:          opts.dryRun,
	})
	if errors.Is(err, domain.ErrUnsafeReduction) && result != nil {
		// nothing was changed; show where the traffic still goes
		fmt.Fprintln(cmd.ErrOrStderr(), aurora.Yellow(fmt.Sprintf(
			"%s-%s is the only version receiving traffic; lowering it below 100%% would leave the rest unrouted. "+
				"Raise another version first or set it to 0 to stop all traffic.", app, args[1])))
		return output.Distribution(out, format, result)
	}
	if err != nil {
		return err
	}
	return output.Distribution(out, format, result)
}

// connect returns the remote client when a server is configured, the local
// service over the configured backends otherwise.
func connect(ctx context.Context, cfg *config.Config, log logr.Logger) (trafficAPI, func(), error) {
	if cfg.Client.ServerURL != "" {
		var copts []client.Option
		switch {
		case cfg.Client.ClientID != "":
			copts = append(copts, client.WithClientCredentials(ctx, &clientcredentials.Config{
				ClientID:     cfg.Client.ClientID,
				ClientSecret: cfg.Client.ClientSecret,
				TokenURL:     cfg.Client.TokenURL,
				Scopes:       cfg.Client.GetScopes(),
			}))
		case cfg.Client.APIKey != "":
			copts = append(copts, client.WithAPIKey(cfg.Client.APIKey))
		}
		c, err := client.New(cfg.Client.ServerURL, copts...)
		if err != nil {
			return nil, nil, err
		}
		log.V(1).Info("using traffic server", "url", cfg.Client.ServerURL)
		return c, func() {}, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	b, err := backend.Open(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	svcOpts, err := backend.ServiceOptions(&cfg.Traffic)
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	svc := service.NewTrafficService(b.Directory, b.Records, svcOpts, log, nil)
	return svc, func() { b.Close() }, nil
}

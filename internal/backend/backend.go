// Package backend wires the configured stack directory and record store.
package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/bcnelson/stack-traffic-manager/internal/config"
	"github.com/bcnelson/stack-traffic-manager/internal/directory"
	"github.com/bcnelson/stack-traffic-manager/internal/records"
	"github.com/bcnelson/stack-traffic-manager/internal/service"
	"github.com/bcnelson/stack-traffic-manager/internal/storage"
	sqlstore "github.com/bcnelson/stack-traffic-manager/internal/storage/sql"
	"github.com/bcnelson/stack-traffic-manager/internal/weights"
	"github.com/go-logr/logr"
)

// Backends are the collaborators of the traffic service.
type Backends struct {
	Directory directory.Directory
	Records   records.Store
	// Storage is the SQL database, nil when no backend uses it.
	Storage storage.Storage
}

// Open builds the backends selected by cfg.
func Open(ctx context.Context, cfg *config.Config, log logr.Logger) (*Backends, error) {
	b := &Backends{}

	if cfg.NeedsDatabase() {
		// Create data directory if needed (for SQLite)
		if cfg.Database.Driver == "sqlite3" && !strings.HasPrefix(cfg.Database.DSN, ":memory:") && !strings.HasPrefix(cfg.Database.DSN, "file:") {
			if dir := filepath.Dir(cfg.Database.DSN); dir != "." {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return nil, fmt.Errorf("creating data directory: %w", err)
				}
			}
		}
		store, err := sqlstore.New(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		b.Storage = store
		log.Info("database opened", "driver", cfg.Database.Driver)
	}

	var awsCfg aws.Config
	if cfg.NeedsAWS() {
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Backend.AWSRegion != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Backend.AWSRegion))
		}
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("loading AWS configuration: %w", err)
		}
	}

	switch cfg.Backend.Records {
	case config.BackendSQL:
		b.Records = b.Storage
	case config.BackendFile:
		b.Records = records.NewFileStore(cfg.Backend.ZoneFile, log)
	case config.BackendRoute53:
		b.Records = records.NewRoute53Store(route53.NewFromConfig(awsCfg), log,
			records.WithHostedZoneID(cfg.Backend.HostedZoneID),
			records.WithWaitForSync(cfg.Backend.Route53Wait))
	default:
		b.Close()
		return nil, fmt.Errorf("unknown record backend %q", cfg.Backend.Records)
	}

	switch cfg.Backend.Directory {
	case config.BackendSQL:
		b.Directory = b.Storage
	case config.BackendFile:
		b.Directory = directory.NewFileDirectory(cfg.Backend.Inventory, log)
	case config.BackendCloudFormation:
		b.Directory = directory.NewCloudFormationDirectory(
			cloudformation.NewFromConfig(awsCfg), elbv2.NewFromConfig(awsCfg), log)
	default:
		b.Close()
		return nil, fmt.Errorf("unknown directory backend %q", cfg.Backend.Directory)
	}

	log.V(1).Info("backends ready", "records", cfg.Backend.Records, "directory", cfg.Backend.Directory)
	return b, nil
}

// Inventory returns the database when versions are registered in it, nil otherwise.
func (b *Backends) Inventory(cfg *config.Config) storage.Storage {
	if cfg.Backend.Directory == config.BackendSQL {
		return b.Storage
	}
	return nil
}

// Close releases the database connection.
func (b *Backends) Close() error {
	if b.Storage == nil {
		return nil
	}
	return b.Storage.Close()
}

// ServiceOptions converts the traffic configuration into service options.
func ServiceOptions(cfg *config.TrafficConfig) (service.Options, error) {
	strategy, err := weights.ParseStrategy(cfg.Strategy)
	if err != nil {
		return service.Options{}, err
	}
	if cfg.OptimisticRetries < 0 {
		return service.Options{}, errors.New("optimistic retries must not be negative")
	}
	return service.Options{
		Strategy:          strategy,
		OptimisticLocking: cfg.OptimisticLocking,
		Retries:           cfg.OptimisticRetries,
		RetryInterval:     cfg.RetryInterval,
		RecordType:        cfg.RecordType,
		TTL:               cfg.RecordTTL,
	}, nil
}

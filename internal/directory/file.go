package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/bcnelson/stack-traffic-manager/internal/domain"
	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"
)

// inventory is the layout of a static inventory file:
//
//	versions:
//	  - application: myapp
//	    version: v1
//	    domain: myapp.example.org
//	    endpoint: myapp-v1.elb.example.org
type inventory struct {
	Versions []domain.StackVersion `yaml:"versions"`
}

// FileDirectory reads versions from a YAML inventory file.
// The file is re-read on every call so edits are picked up without a restart.
type FileDirectory struct {
	path string
	log  logr.Logger
}

var _ Directory = (*FileDirectory)(nil)

// NewFileDirectory creates a directory backed by the YAML file at path.
func NewFileDirectory(path string, log logr.Logger) *FileDirectory {
	return &FileDirectory{path: path, log: log.WithName("inventory-file")}
}

// ListVersions returns the versions of application listed in the file.
// A missing file is an empty inventory.
func (d *FileDirectory) ListVersions(ctx context.Context, application string) ([]domain.StackVersion, error) {
	data, err := os.ReadFile(d.path)
	if errors.Is(err, os.ErrNotExist) {
		d.log.V(1).Info("inventory file does not exist", "path", d.path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading inventory file: %w", err)
	}

	var inv inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("parsing inventory file %s: %w", d.path, err)
	}

	var versions []domain.StackVersion
	for _, v := range inv.Versions {
		if v.Application != application {
			continue
		}
		if v.StackName == "" {
			v.StackName = v.Identifier()
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	return versions, nil
}

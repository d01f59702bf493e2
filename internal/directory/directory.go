// Package directory discovers the live versions of an application.
package directory

import (
	"context"

	"github.com/bcnelson/stack-traffic-manager/internal/domain"
)

// Directory lists the live versions of an application.
// Results are read fresh on every call; callers must not cache them.
type Directory interface {
	ListVersions(ctx context.Context, application string) ([]domain.StackVersion, error)
}

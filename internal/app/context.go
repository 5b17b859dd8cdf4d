package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rmarronnier/docusphere-sub011/internal/domain"
	"github.com/rmarronnier/docusphere-sub011/internal/repo"
)

// ErrProjectRequired is returned when no project was given and the workspace
// holds more than one.
var ErrProjectRequired = errors.New("project not specified; use --project")

// ProjectLister is the part of repo.Repo needed to resolve the active project.
type ProjectLister interface {
	GetProject(ctx context.Context, id string) (domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
}

// ResolveProject picks the active project. An explicit override must exist;
// otherwise a workspace with exactly one project uses it.
func ResolveProject(ctx context.Context, r ProjectLister, override string) (domain.Project, error) {
	if override != "" {
		p, err := r.GetProject(ctx, override)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Project{}, fmt.Errorf("project %s: %w", override, err)
		}
		return p, err
	}
	projects, err := r.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	switch len(projects) {
	case 0:
		return domain.Project{}, fmt.Errorf("no projects in workspace; create one with `dsp project create`")
	case 1:
		return projects[0], nil
	default:
		return domain.Project{}, ErrProjectRequired
	}
}

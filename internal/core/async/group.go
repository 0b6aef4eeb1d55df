package async

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Group runs one poller per family side by side.
type Group struct {
	pollers []*Poller
	logger  *slog.Logger
}

func NewGroup(logger *slog.Logger, pollers ...*Poller) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	return &Group{pollers: pollers, logger: logger}
}

// Run blocks until ctx is cancelled and every poller has returned.
func (g *Group) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, p := range g.pollers {
		eg.Go(func() error {
			return p.Run(ctx)
		})
	}
	g.logger.Info("pollers running", "count", len(g.pollers))
	err := eg.Wait()
	g.logger.Info("pollers stopped")
	return err
}

// Stats returns a snapshot per family, sorted by family name.
func (g *Group) Stats() []Stats {
	out := make([]Stats, 0, len(g.pollers))
	for _, p := range g.pollers {
		out = append(out, p.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Family < out[j].Family })
	return out
}

// Families lists the families the group polls.
func (g *Group) Families() []string {
	out := make([]string, 0, len(g.pollers))
	for _, p := range g.pollers {
		out = append(out, p.Family())
	}
	return out
}

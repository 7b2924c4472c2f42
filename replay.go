package main

import (
	"context"
	"fmt"
	"io"

	"raytrace/config"
	"raytrace/mesh"
	"raytrace/ray"
	"raytrace/record"
	"raytrace/wire"

	"github.com/google/uuid"
)

// replayCmd verifies one recorded episode, or lists them all.
func replayCmd(ctx context.Context, w io.Writer, cfg config.Config, episode string, list bool) error {
	st, err := record.OpenStore(cfg.Record.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	if list {
		eps, err := st.Episodes(ctx)
		if err != nil {
			return err
		}
		for _, ep := range eps {
			fmt.Fprintf(w, "%s  %s  ranks=%d crossings=%d dropped=%d  %s\n",
				ep.ID, ep.StartedAt.Format("2006-01-02 15:04:05"), ep.Ranks, ep.Crossings, ep.Dropped, ep.Label)
		}
		return nil
	}

	var ep record.Episode
	if episode == "" {
		ep, err = st.Latest(ctx)
	} else {
		var id uuid.UUID
		if id, err = uuid.Parse(episode); err != nil {
			return fmt.Errorf("episode id: %w", err)
		}
		ep, err = st.Episode(ctx, id)
	}
	if err != nil {
		return err
	}

	// the recorded rank count fixes ownership; the grid comes from config
	grid, err := mesh.NewGrid(
		[3]int{cfg.Mesh.NX, cfg.Mesh.NY, cfg.Mesh.NZ},
		ray.NewPoint(cfg.Mesh.Min[0], cfg.Mesh.Min[1], cfg.Mesh.Min[2]),
		ray.NewPoint(cfg.Mesh.Max[0], cfg.Mesh.Max[1], cfg.Mesh.Max[2]),
		ep.Ranks)
	if err != nil {
		return err
	}
	resolve := wire.ResolverFunc(func(id ray.ElemID) (ray.Elem, error) {
		c, ok := grid.CellByID(id)
		if !ok {
			return nil, fmt.Errorf("%w: element %d", mesh.ErrOutside, id)
		}
		return c, nil
	})
	dec := wire.NewDecoder(resolve, wire.Schema{DataLen: cfg.Wire.DataLen, PolarLen: cfg.Wire.PolarLen})

	rep, err := st.Verify(ctx, ep.ID, dec, grid.OwnerOf)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "episode %s: %d crossings, %d rays, %d scalars verified\n", ep.ID, rep.Crossings, rep.Rays, rep.Scalars)
	fmt.Fprintf(w, "fingerprint %x\n", rep.Fingerprint)
	if ep.Dropped > 0 {
		fmt.Fprintf(w, "warning: %d crossings were dropped while recording\n", ep.Dropped)
	}
	return nil
}

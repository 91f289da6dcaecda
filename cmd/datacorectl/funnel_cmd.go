package main

import (
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/cloudflare/datacore/funnel"
	"github.com/cloudflare/datacore/logger"
	"github.com/cloudflare/datacore/memarena"
)

func funnelCommand() *cli.Command {
	return &cli.Command{
		Name:  "funnel",
		Usage: "benchmark a funnel hash table under sequential load",
		Subcommands: []*cli.Command{
			{
				Name:   "bench",
				Usage:  "insert N generated keys and report load factor and resize behavior",
				Action: funnelBench,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "capacity", Value: 1024, Usage: "initial table capacity (must be a power of two, >= 8)"},
					&cli.Float64Flag{Name: "delta", Value: 0.1, Usage: "slack factor delta in (0,1); smaller means deeper levels"},
					&cli.IntFlag{Name: "n", Value: 10000, Usage: "number of sequential keys to insert"},
				},
			},
		},
	}
}

func funnelBench(c *cli.Context) error {
	log := logger.CreateLoggerFromContext(c, logger.EnableTerminalLog)

	capacity := uint32(c.Int("capacity"))
	delta := c.Float64("delta")
	n := c.Int("n")

	tbl, merr := funnel.New[uint64, uint64](capacity, delta, memarena.NewHeap(), funnel.HashUint64)
	if merr != funnel.MakeOK {
		return errors.Errorf("table construction failed: %v", merr)
	}
	defer tbl.Destroy()

	startCapacity := capacity
	for i := uint64(0); i < uint64(n); i++ {
		if res := tbl.Set(i, i); res == funnel.Failed {
			return errors.Errorf("insert of key %d failed even after an internal grow-and-rebuild", i)
		}
	}

	missing := 0
	for i := uint64(0); i < uint64(n); i++ {
		if _, found := tbl.Get(i); !found {
			missing++
		}
	}

	loadFactor := float64(tbl.Len()) / float64(tbl.Capacity())
	perLevel, overflowB, overflowC := tbl.InsertDistribution()
	log.Info().
		Uint32("start_capacity", startCapacity).
		Uint32("end_capacity", tbl.Capacity()).
		Int("resizes", tbl.ResizeCount()).
		Float64("load_factor", loadFactor).
		Int("inserted", n).
		Int("found_on_lookup", n-missing).
		Int("missing_on_lookup", missing).
		Interface("probe_histogram_per_level", perLevel).
		Int("overflow_b_inserts", overflowB).
		Int("overflow_c_inserts", overflowC).
		Msg("funnel table bench complete")
	if missing > 0 {
		return errors.Errorf("%d of %d keys were not retrievable after insertion", missing, n)
	}
	return nil
}

package main

import (
	"bufio"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/cloudflare/datacore/fuse"
	"github.com/cloudflare/datacore/logger"
	"github.com/cloudflare/datacore/memarena"
)

func fuseCommand() *cli.Command {
	return &cli.Command{
		Name:  "fuse",
		Usage: "build a binary fuse filter and report its false-positive rate",
		Subcommands: []*cli.Command{
			{
				Name:   "build",
				Usage:  "build a filter over newline-delimited keys (or a generated range) and sample its error rate",
				Action: fuseBuild,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "in", Usage: "newline-delimited uint64 keys (defaults to stdin); ignored if --range is set"},
					&cli.IntFlag{Name: "range", Usage: "generate a sequential range [0, range) of keys instead of reading --in"},
					&cli.IntFlag{Name: "trials", Value: 200000, Usage: "non-member lookups to sample for the false-positive rate"},
				},
			},
		},
	}
}

func fuseBuild(c *cli.Context) error {
	log := logger.CreateLoggerFromContext(c, logger.EnableTerminalLog)

	var keys []uint64
	if n := c.Int("range"); n > 0 {
		keys = make([]uint64, n)
		for i := range keys {
			keys[i] = uint64(i)
		}
	} else {
		var err error
		keys, err = readKeys(c.String("in"))
		if err != nil {
			return errors.Wrap(err, "reading keys")
		}
	}
	if len(keys) == 0 {
		return errors.New("no keys to build a filter from")
	}

	allocator := memarena.NewHeap()
	filter, ok := fuse.New(keys, allocator)
	if !ok {
		return errors.New("filter construction failed after exhausting retry budget")
	}
	defer filter.Destroy(allocator)

	trials := c.Int("trials")
	falsePositives := 0
	present := make(map[uint64]struct{}, len(keys))
	for _, k := range keys {
		present[k] = struct{}{}
	}
	probe := keys[len(keys)-1] + 1
	sampled := 0
	for sampled < trials {
		if _, isMember := present[probe]; !isMember {
			if filter.Contain(probe) {
				falsePositives++
			}
			sampled++
		}
		probe++
	}

	log.Info().
		Int("keys", len(keys)).
		Uint32("segment_len", filter.SegmentLen()).
		Float64("bits_per_key", filter.BitsPerKey(len(keys))).
		Int("trials", sampled).
		Int("false_positives", falsePositives).
		Float64("false_positive_rate", float64(falsePositives)/float64(sampled)).
		Msg("built fuse filter")
	return nil
}

func readKeys(path string) ([]uint64, error) {
	f := os.Stdin
	if path != "" {
		var err error
		f, err = os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
	}

	var keys []uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		k, err := strconv.ParseUint(line, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing key %q", line)
		}
		keys = append(keys, k)
	}
	return keys, scanner.Err()
}

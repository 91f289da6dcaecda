package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func newTestApp() *cli.App {
	return &cli.App{
		Name:     "datacorectl",
		Commands: []*cli.Command{capnpCommand(), fuseCommand(), funnelCommand()},
	}
}

func TestCapnpEncodeDecodeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	jsonIn := filepath.Join(dir, "record.json")
	require.NoError(t, writeOutput(jsonIn, []byte(`{"id":42,"score":3.5,"active":true,"name":"widget","payload":"abcd","tags":[1,2,3]}`)))

	encoded := filepath.Join(dir, "record.capnp")
	app := newTestApp()
	require.NoError(t, app.Run([]string{"datacorectl", "capnp", "encode", "--in", jsonIn, "--out", encoded}))

	app = newTestApp()
	require.NoError(t, app.Run([]string{"datacorectl", "capnp", "decode", "--in", encoded}))
}

func TestCapnpEncodeDecodeRoundTripPacked(t *testing.T) {
	dir := t.TempDir()
	jsonIn := filepath.Join(dir, "record.json")
	require.NoError(t, writeOutput(jsonIn, []byte(`{"id":7,"score":1.25,"active":false,"name":"seven","payload":"","tags":[]}`)))

	encoded := filepath.Join(dir, "record.packed.capnp")
	app := newTestApp()
	require.NoError(t, app.Run([]string{"datacorectl", "capnp", "encode", "--in", jsonIn, "--out", encoded, "--packed"}))

	app = newTestApp()
	require.NoError(t, app.Run([]string{"datacorectl", "capnp", "decode", "--in", encoded, "--packed"}))
}

func TestFuseBuildOverGeneratedRange(t *testing.T) {
	app := newTestApp()
	require.NoError(t, app.Run([]string{"datacorectl", "fuse", "build", "--range", "5000", "--trials", "1000"}))
}

func TestFuseBuildRejectsEmptyKeySet(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "keys.txt")
	require.NoError(t, writeOutput(empty, []byte("")))

	app := newTestApp()
	require.Error(t, app.Run([]string{"datacorectl", "fuse", "build", "--in", empty}))
}

func TestFunnelBenchInsertsAndRetrievesAllKeys(t *testing.T) {
	app := newTestApp()
	require.NoError(t, app.Run([]string{"datacorectl", "funnel", "bench", "--capacity", "16", "--delta", "0.5", "--n", "2000"}))
}

package main

import (
	"encoding/json"
	"io/ioutil"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/cloudflare/datacore/capnp"
	"github.com/cloudflare/datacore/logger"
	"github.com/cloudflare/datacore/memarena"
)

func capnpCommand() *cli.Command {
	return &cli.Command{
		Name:  "capnp",
		Usage: "encode and decode sample Cap'n Proto messages",
		Subcommands: []*cli.Command{
			{
				Name:   "encode",
				Usage:  "build a sample message from a JSON record and serialize it",
				Action: capnpEncode,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "in", Usage: "JSON input file (defaults to stdin)"},
					&cli.StringFlag{Name: "out", Usage: "output file (defaults to stdout)"},
					&cli.BoolFlag{Name: "packed", Usage: "apply the packing codec before writing"},
				},
			},
			{
				Name:   "decode",
				Usage:  "read a serialized message and log its fields",
				Action: capnpDecode,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "in", Usage: "input file (defaults to stdin)"},
					&cli.BoolFlag{Name: "packed", Usage: "the input is packed"},
				},
			},
		},
	}
}

// sampleRecord is the small JSON-described shape datacorectl exercises the
// builder and reader with: a scalar ID/score/flag, a text name, a raw data
// payload, and a list of numeric tags.
type sampleRecord struct {
	ID      uint64   `json:"id"`
	Score   float64  `json:"score"`
	Active  bool     `json:"active"`
	Name    string   `json:"name"`
	Payload string   `json:"payload"`
	Tags    []uint64 `json:"tags"`
}

var sampleLayout = capnp.Layout{DataWords: 3, PointerCount: 3}

func capnpEncode(c *cli.Context) error {
	log := logger.CreateLoggerFromContext(c, logger.EnableTerminalLog)

	raw, err := readInput(c.String("in"))
	if err != nil {
		return errors.Wrap(err, "reading JSON input")
	}

	var rec sampleRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return errors.Wrap(err, "parsing JSON record")
	}

	msg := capnp.NewMessage(memarena.NewHeap())
	mb := capnp.NewMessageBuilder(msg)
	root, err := mb.InitRoot(sampleLayout)
	if err != nil {
		return errors.Wrap(err, "initializing root struct")
	}

	root.SetUint64(0, rec.ID)
	root.SetFloat64(8, rec.Score)
	root.SetBool(128, rec.Active) // bit 0 of the third data word

	if err := root.SetText(0, rec.Name); err != nil {
		return errors.Wrap(err, "setting name")
	}
	if err := root.SetData(1, []byte(rec.Payload)); err != nil {
		return errors.Wrap(err, "setting payload")
	}

	tags, err := root.InitList(2, capnp.SizeEightByte, int32(len(rec.Tags)))
	if err != nil {
		return errors.Wrap(err, "initializing tags list")
	}
	for i, tag := range rec.Tags {
		tags.SetUint64At(int32(i), tag)
	}

	var out []byte
	if c.Bool("packed") {
		out, err = capnp.SerializePacked(msg)
	} else {
		out, err = capnp.Serialize(msg)
	}
	if err != nil {
		return errors.Wrap(err, "serializing message")
	}

	log.Info().Int("bytes", len(out)).Uint64("id", rec.ID).Bool("packed", c.Bool("packed")).Msg("encoded message")
	return writeOutput(c.String("out"), out)
}

func capnpDecode(c *cli.Context) error {
	log := logger.CreateLoggerFromContext(c, logger.EnableTerminalLog)

	raw, err := readInput(c.String("in"))
	if err != nil {
		return errors.Wrap(err, "reading serialized input")
	}

	limits := capnp.ReadLimits{}
	var mr *capnp.MessageReader
	if c.Bool("packed") {
		mr, err = capnp.DeserializePacked(raw, limits, 64*1024*1024)
	} else {
		mr, err = capnp.FromBytes(raw, limits)
	}
	if err != nil {
		return errors.Wrap(err, "parsing message")
	}

	root, err := mr.Root()
	if err != nil {
		return errors.Wrap(err, "resolving root struct")
	}

	name, err := root.TextField(0)
	if err != nil {
		return errors.Wrap(err, "reading name")
	}
	payload, err := root.DataField(1)
	if err != nil {
		return errors.Wrap(err, "reading payload")
	}
	tagsList, err := root.ListField(2)
	if err != nil {
		return errors.Wrap(err, "reading tags")
	}
	tags := make([]uint64, tagsList.Len())
	for i := range tags {
		tags[i] = tagsList.Uint64At(int32(i))
	}

	log.Info().
		Uint64("id", root.Uint64(0, 0)).
		Float64("score", root.Float64(8, 0)).
		Bool("active", root.Bool(128, false)).
		Str("name", name).
		Int("payload_bytes", len(payload)).
		Interface("tags", tags).
		Msg("decoded message")
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "" {
		return ioutil.ReadAll(os.Stdin)
	}
	return ioutil.ReadFile(path)
}

func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return ioutil.WriteFile(path, data, 0644)
}

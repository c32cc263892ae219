package command

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/memsnap-go/internal/core/domain"
	"github.com/yndnr/memsnap-go/internal/snapshot/codec"
)

// EncodeCommand returns the encode command.
func EncodeCommand() *cli.Command {
	return &cli.Command{
		Name:  "encode",
		Usage: "Build a snapshot artifact from a raw heap dump",
		Description: "Each --dso value is PATH=HANDLE[,HANDLE...], for example\n" +
			"   --dso /lib/python3.12/site-packages/numpy/core/_multiarray_umath.so=3,7",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "heap",
				Usage:    "Raw linear memory dump",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "dso",
				Usage: "Open library handles as PATH=HANDLE[,HANDLE...]",
			},
			&cli.StringFlag{
				Name:     "out",
				Usage:    "Artifact file to write",
				Required: true,
			},
		},
		Action: encodeArtifact,
	}
}

func encodeArtifact(c *cli.Context) error {
	heap, err := os.ReadFile(c.String("heap"))
	if err != nil {
		return fmt.Errorf("read heap: %w", err)
	}
	dso, err := parseDsoFlags(c.StringSlice("dso"))
	if err != nil {
		return err
	}
	art, err := codec.Encode(heap, dso)
	if err != nil {
		return err
	}

	out := c.String("out")
	if err := writeFileAtomic(out, art.Bytes()); err != nil {
		return err
	}
	summary, err := inspectFile(out, codec.KindSnapshot)
	if err != nil {
		return err
	}
	return printResult(c, summary)
}

// parseDsoFlags parses PATH=HANDLE[,HANDLE...] values. Handle 0 is the
// global scope and is dropped.
func parseDsoFlags(values []string) (domain.DsoMetadata, error) {
	dso := domain.DsoMetadata{}
	for _, v := range values {
		path, list, ok := strings.Cut(v, "=")
		if !ok || path == "" || list == "" {
			return nil, fmt.Errorf("invalid --dso %q: want PATH=HANDLE[,HANDLE...]", v)
		}
		for _, s := range strings.Split(list, ",") {
			h, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid --dso %q: handle %q: %w", v, s, err)
			}
			dso.Add(path, domain.Handle(h))
		}
	}
	return dso, nil
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

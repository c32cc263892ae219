package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/memsnap-go/internal/artifact"
	"github.com/yndnr/memsnap-go/internal/snapshot/codec"
)

// StoreCommand returns the artifact store command group.
func StoreCommand() *cli.Command {
	return &cli.Command{
		Name:  "store",
		Usage: "Artifact store commands",
		Subcommands: []*cli.Command{
			{
				Name:      "put",
				Usage:     "Upload an artifact file",
				ArgsUsage: "KEY FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "kind",
						Usage: "Kind tag: snapshot, test-fixture (default: untagged)",
					},
					&cli.BoolFlag{
						Name:  "no-verify",
						Usage: "Skip decoding the snapshot header before upload",
					},
				},
				Action: storePut,
			},
			{
				Name:      "get",
				Usage:     "Download an artifact",
				ArgsUsage: "KEY",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "out",
						Usage:    "File to write the artifact to",
						Required: true,
					},
				},
				Action: storeGet,
			},
			{
				Name:      "stat",
				Usage:     "Show artifact metadata",
				ArgsUsage: "KEY",
				Action:    storeStat,
			},
			{
				Name:    "ls",
				Aliases: []string{"list"},
				Usage:   "List artifacts",
				Action:  storeList,
			},
			{
				Name:      "rm",
				Aliases:   []string{"delete"},
				Usage:     "Delete artifacts",
				ArgsUsage: "KEY...",
				Action:    storeRemove,
			},
		},
	}
}

// artifactRow is the listing form of artifact.Info.
type artifactRow struct {
	Key       string     `json:"key"`
	Kind      codec.Kind `json:"kind"`
	Size      int64      `json:"size" table:"bytes"`
	CreatedAt time.Time  `json:"created_at" table:"ago"`
	ID        string     `json:"id" table:"wide"`
	Checksum  string     `json:"sha256,omitempty" table:"wide"`
}

func toRow(info artifact.Info) artifactRow {
	return artifactRow{
		Key:       info.Key,
		Kind:      info.Kind,
		Size:      info.Size,
		CreatedAt: info.CreatedAt,
		ID:        info.ID,
		Checksum:  info.Checksum,
	}
}

// withBackend opens the backend for one command and closes it afterwards.
func withBackend(c *cli.Context, fn func(ctx context.Context, b artifact.Backend) error) error {
	b, err := openBackend(c)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(c.Context, b)
}

func keyArg(c *cli.Context, cmd string, n int) (string, error) {
	if c.NArg() != n {
		return "", fmt.Errorf("store %s: expected %d argument(s), got %d", cmd, n, c.NArg())
	}
	key := c.Args().First()
	if err := artifact.ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

func storePut(c *cli.Context) error {
	key, err := keyArg(c, "put", 2)
	if err != nil {
		return err
	}
	kind, err := parseKindFlag(c.String("kind"))
	if err != nil {
		return err
	}
	data, err := os.ReadFile(c.Args().Get(1))
	if err != nil {
		return err
	}
	if !c.Bool("no-verify") && codec.Classify(int64(len(data)), kind) == codec.KindSnapshot {
		dec, err := codec.Decode(codec.NewBytesSource(data))
		if err != nil {
			return fmt.Errorf("refusing to upload %s: %w", c.Args().Get(1), err)
		}
		dec.Discard()
	}

	return withBackend(c, func(ctx context.Context, b artifact.Backend) error {
		info, err := b.Put(ctx, key, data, kind)
		if err != nil {
			return err
		}
		return printResult(c, []artifactRow{toRow(info)})
	})
}

func storeGet(c *cli.Context) error {
	key, err := keyArg(c, "get", 1)
	if err != nil {
		return err
	}
	return withBackend(c, func(ctx context.Context, b artifact.Backend) error {
		src, info, err := b.Get(ctx, key)
		if err != nil {
			return err
		}
		data, err := codec.ReadAll(src)
		src.Close()
		if err != nil {
			return fmt.Errorf("read %s: %w", key, err)
		}
		if err := writeFileAtomic(c.String("out"), data); err != nil {
			return err
		}
		return printResult(c, []artifactRow{toRow(info)})
	})
}

func storeStat(c *cli.Context) error {
	key, err := keyArg(c, "stat", 1)
	if err != nil {
		return err
	}
	return withBackend(c, func(ctx context.Context, b artifact.Backend) error {
		info, err := b.Stat(ctx, key)
		if err != nil {
			return err
		}
		return printResult(c, toRow(info))
	})
}

func storeList(c *cli.Context) error {
	return withBackend(c, func(ctx context.Context, b artifact.Backend) error {
		infos, err := b.List(ctx)
		if err != nil {
			return err
		}
		rows := make([]artifactRow, 0, len(infos))
		for _, info := range infos {
			rows = append(rows, toRow(info))
		}
		return printResult(c, rows)
	})
}

func storeRemove(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("store rm: expected at least one KEY")
	}
	keys := c.Args().Slice()
	for _, key := range keys {
		if err := artifact.ValidateKey(key); err != nil {
			return err
		}
	}
	return withBackend(c, func(ctx context.Context, b artifact.Backend) error {
		var errs []error
		for _, key := range keys {
			if err := b.Delete(ctx, key); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				continue
			}
			fmt.Fprintf(c.App.Writer, "deleted %s\n", key)
		}
		return errors.Join(errs...)
	})
}

package command

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/memsnap-go/internal/snapshot/dynlib"
)

// IndexCommand returns the site-packages index command group.
func IndexCommand() *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Site-packages archive index commands",
		Subcommands: []*cli.Command{
			{
				Name:      "build",
				Usage:     "Index the regular files of a tar archive",
				ArgsUsage: "ARCHIVE",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "out",
						Usage: "Index file to write (default: stdout)",
					},
				},
				Action: indexBuild,
			},
			{
				Name:      "ls",
				Usage:     "List the files of an index",
				ArgsUsage: "INDEX",
				Action:    indexList,
			},
			{
				Name:      "lookup",
				Usage:     "Show where a path lives in the archive",
				ArgsUsage: "INDEX PATH",
				Action:    indexLookup,
			},
		},
	}
}

// indexEntry is one indexed archive file.
type indexEntry struct {
	Path   string `json:"path"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size" table:"bytes"`
}

func indexBuild(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("index build: expected one ARCHIVE argument")
	}
	f, err := os.Open(c.Args().First())
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	ix, err := dynlib.BuildIndex(f, st.Size())
	if err != nil {
		return err
	}

	out := c.String("out")
	if out == "" {
		return ix.WriteJSON(c.App.Writer)
	}
	var buf bytes.Buffer
	if err := ix.WriteJSON(&buf); err != nil {
		return err
	}
	if err := writeFileAtomic(out, buf.Bytes()); err != nil {
		return err
	}
	fmt.Fprintf(c.App.ErrWriter, "indexed %d files into %s\n", ix.Len(), out)
	return nil
}

func loadIndexFile(path string) (*dynlib.Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ix, err := dynlib.LoadIndex(f)
	if err != nil {
		return nil, fmt.Errorf("load index %s: %w", path, err)
	}
	return ix, nil
}

func indexList(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("index ls: expected one INDEX argument")
	}
	ix, err := loadIndexFile(c.Args().First())
	if err != nil {
		return err
	}
	entries := make([]indexEntry, 0, ix.Len())
	_ = ix.Walk(func(p string, r dynlib.Range) error {
		entries = append(entries, indexEntry{Path: p, Offset: r.ContentsOffset, Size: r.Size})
		return nil
	})
	return printResult(c, entries)
}

func indexLookup(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("index lookup: expected INDEX and PATH arguments")
	}
	ix, err := loadIndexFile(c.Args().Get(0))
	if err != nil {
		return err
	}
	p := c.Args().Get(1)
	r, err := ix.Lookup(strings.Split(strings.Trim(p, "/"), "/"))
	if err != nil {
		return err
	}
	return printResult(c, []indexEntry{{Path: p, Offset: r.ContentsOffset, Size: r.Size}})
}

package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/memsnap-go/pkg/token"
)

type generatedToken struct {
	Token string `json:"token"`
	Hash  string `json:"hash"`
}

// TokenCommand returns the token command group.
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Manage artifact server service tokens",
		Subcommands: []*cli.Command{
			{
				Name:  "gen",
				Usage: "Generate a service token and the hash to put in server config",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "length",
						Usage: "random bytes in the token",
						Value: token.DefaultLength,
					},
					&cli.IntFlag{
						Name:  "count",
						Usage: "number of tokens",
						Value: 1,
					},
				},
				Action: tokenGen,
			},
		},
	}
}

func tokenGen(c *cli.Context) error {
	count := c.Int("count")
	if count < 1 {
		return fmt.Errorf("token gen: --count must be positive")
	}

	out := make([]generatedToken, 0, count)
	for i := 0; i < count; i++ {
		tok, err := token.GenerateWithLength(c.Int("length"))
		if err != nil {
			return fmt.Errorf("token gen: %w", err)
		}
		out = append(out, generatedToken{Token: tok, Hash: token.Hash(tok)})
	}
	return printResult(c, out)
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/randomizedcoder/go-hwdiag/internal/storage"
)

// ErrKeyNotFound is returned by database-ops get for a missing key.
var ErrKeyNotFound = errors.New("key not found")

// opResult is printed by put and delete.
type opResult struct {
	Key      string `yaml:"key"`
	Value    string `yaml:"value,omitempty"`
	Existed  bool   `yaml:"existed"`
	Previous string `yaml:"previous,omitempty"`
}

func (a *app) databaseCmd() *cli.Command {
	return &cli.Command{
		Name:  "database-ops",
		Usage: "Inspect and edit the result store",
		Description: `Operates on general.storage_path. Keys written by hwdiag are prefixed
with sample:, benchmark: and discover:.`,
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Print the value stored under a key",
				ArgsUsage: "<key>",
				Action: a.withStore(1, func(ctx context.Context, w io.Writer, store storage.Store, args []string) error {
					value, found, err := store.Get(ctx, []byte(args[0]))
					if err != nil {
						return err
					}
					if !found {
						return fmt.Errorf("%w: %s", ErrKeyNotFound, args[0])
					}
					_, err = fmt.Fprintln(w, value)
					return err
				}),
			},
			{
				Name:      "put",
				Usage:     "Store a value under a key",
				ArgsUsage: "<key> <value>",
				Action: a.withStore(2, func(ctx context.Context, w io.Writer, store storage.Store, args []string) error {
					prev, existed, err := store.Put(ctx, []byte(args[0]), args[1])
					if err != nil {
						return err
					}
					return printYAML(w, opResult{Key: args[0], Value: args[1], Existed: existed, Previous: prev})
				}),
			},
			{
				Name:      "delete",
				Usage:     "Delete a key",
				ArgsUsage: "<key>",
				Action: a.withStore(1, func(ctx context.Context, w io.Writer, store storage.Store, args []string) error {
					prev, existed, err := store.Delete(ctx, []byte(args[0]))
					if err != nil {
						return err
					}
					return printYAML(w, opResult{Key: args[0], Existed: existed, Previous: prev})
				}),
			},
			{
				Name:  "list",
				Usage: "List entries in key order",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "prefix",
						Usage: "only keys starting with this prefix",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "maximum number of entries (0 = all)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Int("limit") < 0 {
						return fmt.Errorf("invalid --limit %d: must not be negative", cmd.Int("limit"))
					}
					run := a.withStore(0, func(ctx context.Context, w io.Writer, store storage.Store, _ []string) error {
						entries, err := store.List(ctx, cmd.String("prefix"), cmd.Int("limit"))
						if err != nil {
							return err
						}
						if len(entries) == 0 {
							_, err := fmt.Fprintln(w, "[]")
							return err
						}
						return printYAML(w, entries)
					})
					return run(ctx, cmd)
				},
			},
		},
	}
}

type storeAction func(ctx context.Context, w io.Writer, store storage.Store, args []string) error

// withStore checks the positional argument count, opens the store and runs
// fn against it.
func (a *app) withStore(nargs int, fn storeAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		args := cmd.Args().Slice()
		if len(args) != nargs {
			return fmt.Errorf("%s: expected %d argument(s) %s, got %d", cmd.Name, nargs, cmd.ArgsUsage, len(args))
		}

		s, err := a.newSession(cmd, sessionOptions{withStore: true})
		if err != nil {
			return err
		}
		defer s.Close()

		return fn(ctx, outWriter(cmd), s.store, args)
	}
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tinywideclouds/go-key-archive/internal/jwks"
	"github.com/tinywideclouds/go-key-archive/keyarchive"
	"github.com/tinywideclouds/go-key-archive/keyarchive/config"
	"github.com/tinywideclouds/go-key-archive/pkg/keys"
	"github.com/tinywideclouds/go-key-archive/pkg/keystore"
	"github.com/tinywideclouds/go-key-archive/pkg/pemcodec"
)

// cli holds what every subcommand needs: where the config comes from and
// where output goes.
type cli struct {
	configPath     string
	embeddedConfig []byte
	out            io.Writer
	level          *slog.LevelVar
	logger         *slog.Logger
}

func newRootCmd(embeddedConfig []byte, stdout, stderr io.Writer) *cobra.Command {
	level := new(slog.LevelVar)
	c := &cli{
		embeddedConfig: embeddedConfig,
		out:            stdout,
		level:          level,
		logger:         slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})),
	}

	root := &cobra.Command{
		Use:           "keyarchive",
		Short:         "Manage an archive of named public keys",
		SilenceErrors: true,
		SilenceUsage:  true,
		Long: `Manage public keys stored under aliases in a zip file or Firestore.

Environment Variables:
  KEYARCHIVE_BACKEND   Backend: zip, memory or firestore
  KEYARCHIVE_PATH      Zip archive path
  KEYARCHIVE_PEM_MODE  PEM decoding: strict or permissive
  GCP_PROJECT_ID       Project for the firestore backend`,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "YAML config file (defaults to the built-in config)")

	root.AddCommand(
		c.listCmd(),
		c.showCmd(),
		c.addCmd(),
		c.importSSHCmd(),
		c.removeCmd(),
		c.exportJWKSCmd(),
		c.importJWKSCmd(),
	)
	return root
}

func (c *cli) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if c.configPath != "" {
		cfg, err = config.LoadFromFile(c.configPath, c.logger)
	} else {
		cfg, err = config.ParseYaml(c.embeddedConfig, c.logger)
	}
	if err != nil {
		return nil, err
	}
	c.level.Set(cfg.LogLevel)
	return cfg, nil
}

// withStore opens the configured archive, runs fn against its store and saves
// the store afterwards if fn changed it.
func (c *cli) withStore(ctx context.Context, fn func(cfg *config.Config, store *keystore.Store) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	archive, err := keyarchive.New(ctx, cfg, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := archive.Close(); closeErr != nil {
			c.logger.Warn("Failed to close archive", "err", closeErr)
		}
	}()

	store, err := archive.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	if err := fn(cfg, store); err != nil {
		return err
	}
	if _, err := archive.Save(ctx, store); err != nil {
		return fmt.Errorf("failed to save archive: %w", err)
	}
	return nil
}

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List aliases and their algorithms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd.Context(), func(_ *config.Config, store *keystore.Store) error {
				entries := store.Snapshot()
				if len(entries) == 0 {
					fmt.Fprintln(c.out, "No keys stored.")
					return nil
				}
				w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ALIAS\tALGORITHM")
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%s\n", e.Alias, e.Key.Algorithm())
				}
				return w.Flush()
			})
		},
	}
}

func (c *cli) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <alias>",
		Short: "Print the PEM encoding of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alias := args[0]
			return c.withStore(cmd.Context(), func(_ *config.Config, store *keystore.Store) error {
				key, ok, err := store.FindKey(alias)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("key %q not found", alias)
				}
				return pemcodec.Encode(c.out, key)
			})
		},
	}
}

func (c *cli) addCmd() *cobra.Command {
	var algorithm string
	cmd := &cobra.Command{
		Use:   "add <alias> <pem-file>",
		Short: "Add or replace a key from a PEM file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			alias, path := args[0], args[1]
			return c.withStore(cmd.Context(), func(cfg *config.Config, store *keystore.Store) error {
				alg := algorithm
				if alg == "" {
					alg = cfg.DefaultAlgorithm
				}
				key, err := pemcodec.ReadFile(path, alg, pemcodec.WithMode(cfg.PEMMode), pemcodec.WithLogger(c.logger))
				if err != nil {
					return err
				}
				if err := store.Add(alias, key); err != nil {
					return err
				}
				fmt.Fprintf(c.out, "Added %s (%s)\n", alias, key.Algorithm())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&algorithm, "algorithm", "", "key algorithm (defaults to default_algorithm from config)")
	return cmd
}

func (c *cli) importSSHCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-ssh <alias> <authorized-key-file>",
		Short: "Add a key from an OpenSSH authorized_keys line",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			alias, path := args[0], args[1]
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			key, err := keys.FromAuthorizedKey(data)
			if err != nil {
				return err
			}
			return c.withStore(cmd.Context(), func(_ *config.Config, store *keystore.Store) error {
				if err := store.Add(alias, key); err != nil {
					return err
				}
				fmt.Fprintf(c.out, "Added %s (%s)\n", alias, key.Algorithm())
				return nil
			})
		},
	}
}

func (c *cli) removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <alias>",
		Short: "Remove a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alias := args[0]
			return c.withStore(cmd.Context(), func(_ *config.Config, store *keystore.Store) error {
				if _, ok, err := store.FindKey(alias); err != nil {
					return err
				} else if !ok {
					return fmt.Errorf("key %q not found", alias)
				}
				store.Remove(alias)
				fmt.Fprintf(c.out, "Removed %s\n", alias)
				return nil
			})
		},
	}
}

func (c *cli) exportJWKSCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export-jwks",
		Short: "Print the archive as a JSON Web Key Set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd.Context(), func(_ *config.Config, store *keystore.Store) error {
				data, err := jwks.Marshal(store)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(c.out, string(data))
				return err
			})
		},
	}
}

func (c *cli) importJWKSCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-jwks <file>",
		Short: "Add every key of a JSON Web Key Set, using kid as the alias",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			return c.withStore(cmd.Context(), func(_ *config.Config, store *keystore.Store) error {
				n, err := jwks.Import(store, data)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "Imported %d keys\n", n)
				return nil
			})
		},
	}
}

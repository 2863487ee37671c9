// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/bhassurance/assurbot/internal/config"
)

// configPath returns the file config commands read and write.
func configPath(r *root) (string, error) {
	if r.opts.ConfigPath != "" {
		return r.opts.ConfigPath, nil
	}
	return config.ConfigPathTOML()
}

func newConfigCommand(r *root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Lire et modifier la configuration",
		Long: `Lire et modifier ~/.assurbot/config.toml.

Les clés utilisent la notation pointée :
  ` + strings.Join(config.Keys(), "\n  "),
	}
	cmd.AddCommand(
		newConfigShowCommand(r),
		&cobra.Command{
			Use:   "path",
			Short: "Affiche le chemin du fichier de configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := configPath(r)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Affiche une valeur",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := LoadConfig(r.opts)
				if err != nil {
					return &CommandError{Code: ExitConfigError, Err: err}
				}
				v, err := cfg.Get(args[0])
				if err != nil {
					return usageError("%v", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Modifie une valeur et enregistre le fichier",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := configPath(r)
				if err != nil {
					return err
				}
				if strings.HasSuffix(path, ".json") {
					return usageError("config set n'écrit que des fichiers TOML")
				}
				// Env overrides are not persisted: start from the file.
				cfg, err := loadFile(path)
				if err != nil {
					return &CommandError{Code: ExitConfigError, Err: err}
				}
				if err := cfg.Set(args[0], args[1]); err != nil {
					return usageError("%v", err)
				}
				if err := cfg.Validate(); err != nil {
					return &CommandError{Code: ExitConfigError, Err: err}
				}
				if err := config.SaveTOML(cfg, path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s = %s\n", SuccessStyle.Render("✓"), args[0], args[1])
				return nil
			},
		},
		newConfigInitCommand(r),
	)
	return cmd
}

func newConfigShowCommand(r *root) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Affiche la configuration effective",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(r.opts)
			if err != nil {
				return &CommandError{Code: ExitConfigError, Err: err}
			}
			switch format {
			case "toml":
				return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
			case FormatJSON:
				fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
				return nil
			default:
				return usageError("format inconnu %q (toml ou json)", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "toml", "toml ou json")
	return cmd
}

func newConfigInitCommand(r *root) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Écrit un fichier de configuration par défaut",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath(r)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return usageError("%s existe déjà (utilisez --force pour l'écraser)", path)
			}
			cfg := config.Default()
			if err := cfg.SetDefaults(); err != nil {
				return err
			}
			if err := config.SaveTOML(cfg, path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("✓")+" Configuration écrite dans "+path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "écraser un fichier existant")
	return cmd
}

// loadFile reads path without env overrides, or defaults when it is absent.
func loadFile(path string) (*config.Config, error) {
	cfg := config.Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to decode TOML config %s: %w", path, err)
	}
	if err := cfg.SetDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"authgate.org/internal/keys"
	"authgate.org/internal/obs"
)

type keysFlags struct {
	dir  string
	bits int
}

func (f *keysFlags) manager() (*keys.Manager, error) {
	if f.dir == "" || f.bits == 0 {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		if f.dir == "" {
			f.dir = cfg.KeysDir
		}
		if f.bits == 0 {
			f.bits = cfg.KeyBits
		}
	}
	return keys.NewManager(f.dir, keys.WithKeyBits(f.bits)), nil
}

func newKeysCommand() *cobra.Command {
	flags := &keysFlags{}
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the RSA signing key pair",
	}
	cmd.PersistentFlags().StringVarP(&flags.dir, "dir", "d", "", "key directory (default $AUTH_KEYS_DIR)")
	cmd.PersistentFlags().IntVar(&flags.bits, "bits", 0, "modulus size for new keys (default $AUTH_KEY_BITS)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "ensure",
			Short: "Generate the key pair unless a usable one exists",
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := flags.manager()
				if err != nil {
					return err
				}
				generated, err := m.EnsureKeysExist()
				if err != nil {
					return err
				}
				obs.Component("keys").WithField("dir", m.Dir()).WithField("generated", generated).Info("keys ready")
				if generated {
					fmt.Fprintf(cmd.OutOrStdout(), "generated new key pair in %s\n", m.Dir())
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "key pair in %s is usable\n", m.Dir())
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "rotate",
			Short: "Replace the key pair; previously issued tokens stop validating",
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := flags.manager()
				if err != nil {
					return err
				}
				if err := m.Rotate(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rotated key pair in %s\n", m.Dir())
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete",
			Short: "Remove both key files",
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := flags.manager()
				if err != nil {
					return err
				}
				if err := m.DeleteKeys(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted key pair in %s\n", m.Dir())
				return nil
			},
		},
		&cobra.Command{
			Use:   "jwks",
			Short: "Print the public key as a JWK set",
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := flags.manager()
				if err != nil {
					return err
				}
				set, err := m.JWKS()
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(set)
			},
		},
	)
	return cmd
}

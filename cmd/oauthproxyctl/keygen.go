package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/oauthproxy/oauthproxy/app/keystore"
)

func newKeygenCmd() *cobra.Command {
	var secret string
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen <secret-dir> <consumer-key>",
		Short: "Create a consumer key file",
		Long: `Writes <secret-dir>/<consumer-key> containing the consumer secret. A random
secret is generated unless --secret is given. Running proxies pick the key up
after their reload quiet period.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, key := args[0], args[1]
			if key == "" || strings.HasPrefix(key, ".") || strings.ContainsAny(key, `/\`) {
				return fmt.Errorf("invalid consumer key %q", key)
			}
			if secret == "" {
				secret = uuid.NewString()
			}
			if !keystore.ValidSecret(secret) {
				return errors.New("secret may only contain letters, digits and - _ . =")
			}
			fi, err := os.Stat(dir)
			if err != nil {
				return err
			}
			if !fi.IsDir() {
				return fmt.Errorf("%s is not a directory", dir)
			}
			flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
			if force {
				flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
			}
			path := filepath.Join(dir, key)
			f, err := os.OpenFile(path, flags, 0o600)
			if err != nil {
				if errors.Is(err, os.ErrExist) {
					return fmt.Errorf("%s already exists, use --force to replace it", path)
				}
				return err
			}
			if _, err := fmt.Fprintln(f, secret); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", key, secret)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "consumer secret (default: random UUID)")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing key file")
	return cmd
}

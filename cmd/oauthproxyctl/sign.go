package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oauthproxy/oauthproxy/app/oauth"
)

func newSignCmd() *cobra.Command {
	var key, secret, secretFile, method, data string
	var curl bool
	cmd := &cobra.Command{
		Use:   "sign <url>",
		Short: "Print an OAuth Authorization header for a request",
		Long: `Signs a request with HMAC-SHA1 the same way the proxy verifies it. --data
takes a form-urlencoded body that is included in the signature.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := url.Parse(args[0])
			if err != nil {
				return err
			}
			if (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
				return fmt.Errorf("%q is not an absolute http or https URL", args[0])
			}
			if key == "" {
				return errors.New("--key is required")
			}
			if secretFile != "" {
				b, err := os.ReadFile(secretFile)
				if err != nil {
					return err
				}
				secret = strings.TrimSpace(string(b))
			}
			if secret == "" {
				return errors.New("--secret or --secret-file is required")
			}
			var form url.Values
			if data != "" {
				if form, err = url.ParseQuery(data); err != nil {
					return fmt.Errorf("--data: %w", err)
				}
			}

			s := oauth.Signer{Key: key, Secret: oauth.Encode(secret)}
			header := s.Authorization(strings.ToUpper(method), target, form)
			out := cmd.OutOrStdout()
			if !curl {
				fmt.Fprintln(out, header)
				return nil
			}
			fmt.Fprintf(out, "curl -X %s -H 'Authorization: %s'", strings.ToUpper(method), header)
			if data != "" {
				fmt.Fprintf(out, " -H 'Content-Type: application/x-www-form-urlencoded' --data '%s'", data)
			}
			fmt.Fprintf(out, " '%s'\n", target.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "consumer key")
	cmd.Flags().StringVar(&secret, "secret", "", "consumer secret")
	cmd.Flags().StringVar(&secretFile, "secret-file", "", "read the consumer secret from a key file")
	cmd.Flags().StringVarP(&method, "method", "X", "GET", "HTTP method")
	cmd.Flags().StringVarP(&data, "data", "d", "", "form-urlencoded request body")
	cmd.Flags().BoolVar(&curl, "curl", false, "print a curl command instead of the header")
	return cmd
}

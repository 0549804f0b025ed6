package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/editgate/auth"
	"github.com/jmcleod/editgate/internal/util"
)

var hashProfile string

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash a password for auth.initial_password_hash",
	Long: `Reads a password from the first line of stdin and prints its encoded
argon2id hash. Put the output in auth.initial_password_hash (or
EDITGATE_INITIAL_PASSWORD_HASH) to provision the admin account without
keeping the cleartext password in the config.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := util.Argon2idProfile(hashProfile)
		if err != nil {
			return err
		}
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading password: %w", err)
		}
		password := strings.TrimRight(line, "\r\n")
		if password == "" {
			return errors.New("password must not be empty")
		}
		if util.RuneLen(password) < auth.DefaultMinSecretLength {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: password is shorter than %d characters\n", auth.DefaultMinSecretLength)
		}
		hash, err := auth.HashSecret(password, params)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
	hashPasswordCmd.Flags().StringVar(&hashProfile, "profile", util.KDFProfileModerate, "KDF profile: interactive, moderate or sensitive")
}

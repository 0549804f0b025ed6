package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/editgate/auth"
)

var logsFlags struct {
	limit int
	json  bool
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the persisted access log",
	Long: `Reads the access log from storage and prints the newest entries,
oldest first. With the default BBolt backend the server holds the database
lock, so stop it first or use the /api/logs endpoint instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := readPersistedLog(cmd, logsFlags.limit)
		if err != nil {
			return err
		}
		if logsFlags.json {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}
		printEntries(cmd.OutOrStdout(), entries)
		return nil
	},
}

func readPersistedLog(cmd *cobra.Command, limit int) ([]auth.Entry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	repo, err := openRepository(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}
	defer repo.Close()
	return auth.ReadEntries(repo, limit)
}

func printEntries(w io.Writer, entries []auth.Entry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tEVENT\tIP\tUSER\tOK\tNOTE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%t\t%s\n",
			e.Seq, e.Timestamp.Format(time.RFC3339), e.Event, e.Origin, e.Username, e.Success, e.Annotation)
	}
	tw.Flush()
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().IntVarP(&logsFlags.limit, "limit", "n", auth.DefaultLogWindow, "Number of newest entries to print (0 for all)")
	logsCmd.Flags().BoolVar(&logsFlags.json, "json", false, "Output entries as JSON")
}

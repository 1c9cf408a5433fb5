package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/attempt"
	"github.com/spigell/autoapply/internal/storage"
)

var attemptsCmd = &cobra.Command{
	Use:   "attempts [id]",
	Short: "List stored application attempts, or show one in full",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		log := newLogger()

		config, err := getConfig()
		if err != nil {
			log.Fatal("getting a config", zap.Error(err))
		}

		store, err := storage.Open(cmd.Context(), config.Store)
		if err != nil {
			log.Fatal("opening the attempt store", zap.Error(err))
		}
		defer store.Close()

		if len(args) == 1 {
			a, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				log.Fatal("loading the attempt", zap.Error(err))
			}
			pretty, _ := json.MarshalIndent(a, "", "  ")
			fmt.Println(string(pretty))
			return
		}

		all, err := store.List(cmd.Context())
		if err != nil {
			log.Fatal("listing attempts", zap.Error(err))
		}
		if err := printAttempts(os.Stdout, all); err != nil {
			log.Fatal("printing attempts", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(attemptsCmd)
}

func printAttempts(out io.Writer, attempts []*attempt.Attempt) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSTEPS\tUPDATED\tURL")
	for _, a := range attempts {
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\n",
			a.ID, a.Status, a.CompletedSteps(), len(a.Steps),
			a.UpdatedAt.Local().Format(time.DateTime), a.JobURL)
	}
	return w.Flush()
}

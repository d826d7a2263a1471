package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/signalhouse/msgvault/internal/client"
	"github.com/signalhouse/msgvault/internal/storage"
	"github.com/spf13/cobra"
)

var (
	searchRoot       string
	searchClient     string
	searchNetwork    string
	searchChannel    string
	searchJSONOutput bool
)

var searchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Search a client's message archive without running the server",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchRoot, "root", "data/logs",
		"Logs root containing per-client database files")
	searchCmd.Flags().StringVar(&searchClient, "client", "",
		"Client name (required)")
	searchCmd.Flags().StringVar(&searchNetwork, "network", "",
		"Restrict to one network UUID")
	searchCmd.Flags().StringVar(&searchChannel, "channel", "",
		"Restrict to one channel")
	searchCmd.MarkFlagRequired("client")
	searchCmd.Flags().BoolVar(&searchJSONOutput, "json", false,
		"Output in JSON format")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	clients, err := client.NewManager(client.ManagerOptions{
		Root:      searchRoot,
		Available: true,
	})
	if err != nil {
		return err
	}
	defer clients.Close()

	c, err := clients.Get(ctx, searchClient)
	if err != nil {
		return err
	}
	if !c.Store().CanProvideMessages() {
		return fmt.Errorf("message archive for client %q could not be opened", searchClient)
	}

	// Walk every page until the cursor sentinel.
	req := storage.SearchRequest{
		Term:        args[0],
		NetworkUUID: searchNetwork,
		Channel:     searchChannel,
	}
	var results []storage.SearchResult
	for {
		page, err := c.Store().Search(ctx, req)
		if err != nil {
			return err
		}
		if len(page.Results) == 0 {
			break
		}
		results = append(results, page.Results...)
		req.LastTime = page.LastTime
		req.LastID = page.LastID
	}

	if searchJSONOutput {
		return json.NewEncoder(os.Stdout).Encode(results)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tCHANNEL\tFROM\tTEXT")
	for _, res := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			res.Message.Time.Format(time.RFC3339),
			res.Channel,
			res.Message.From,
			res.Message.Text,
		)
	}
	return w.Flush()
}

// cmd/reviewscrapexter/request.go
package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/valpere/ReviewScrapexter/pkg/api"
	"github.com/valpere/ReviewScrapexter/pkg/types"
)

// requestFlags are the job locator flags shared by collect and submit
type requestFlags struct {
	product string
	brand   string
	urls    []string
}

func (f *requestFlags) register(cmd *cobra.Command, source types.Source) {
	cmd.Flags().StringVarP(&f.product, "product", "p", "", "product name (required)")
	switch source {
	case types.SourceStore:
		cmd.Flags().StringSliceVarP(&f.urls, "url", "u", nil, "retailer product page URL (repeatable)")
	case types.SourceCommunity:
		cmd.Flags().StringVarP(&f.brand, "brand", "b", "", "brand name used in forum search")
		cmd.Flags().StringSliceVarP(&f.urls, "url", "u", nil, "forum thread URL to include (repeatable)")
	case types.SourceShoppingComments:
		cmd.Flags().StringSliceVarP(&f.urls, "url", "u", nil, "shopping results URL")
	}
	cmd.MarkFlagRequired("product")
}

func (f *requestFlags) store() api.StoreRequest {
	return api.StoreRequest{ProductName: f.product, StoreURLs: f.urls}
}

func (f *requestFlags) community() api.CommunityRequest {
	return api.CommunityRequest{ProductName: f.product, Brand: f.brand, ForumURLs: f.urls}
}

func (f *requestFlags) shopping() api.ShoppingRequest {
	req := api.ShoppingRequest{ProductName: f.product}
	if len(f.urls) > 0 {
		req.ShoppingURL = f.urls[0]
	}
	return req
}

// jobRequest builds and validates the request for source
func (f *requestFlags) jobRequest(source types.Source) (types.JobRequest, error) {
	var req types.JobRequest
	switch source {
	case types.SourceStore:
		req = f.store().JobRequest()
	case types.SourceCommunity:
		req = f.community().JobRequest()
	case types.SourceShoppingComments:
		if len(f.urls) > 1 {
			return req, fmt.Errorf("shopping accepts a single --url, got %d", len(f.urls))
		}
		req = f.shopping().JobRequest()
	default:
		return req, fmt.Errorf("unsupported source %q", source)
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

// sourceCommands builds one subcommand per source, all running run
func sourceCommands(run func(cmd *cobra.Command, source types.Source, f *requestFlags) error) []*cobra.Command {
	specs := []struct {
		use    string
		short  string
		source types.Source
	}{
		{"store", "Reviews from retailer product pages", types.SourceStore},
		{"community", "Opinions from Reddit and product forums", types.SourceCommunity},
		{"shopping", "Comments from a shopping results panel (needs the browser)", types.SourceShoppingComments},
	}

	cmds := make([]*cobra.Command, 0, len(specs))
	for _, s := range specs {
		f := &requestFlags{}
		source := s.source
		cmd := &cobra.Command{
			Use:   s.use,
			Short: s.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, source, f)
			},
		}
		f.register(cmd, source)
		cmds = append(cmds, cmd)
	}
	return cmds
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printProgress(w io.Writer, doc api.JobStatus) {
	switch doc.Status {
	case api.StateProgress:
		current, total := 0, 0
		if doc.Current != nil {
			current = *doc.Current
		}
		if doc.Total != nil {
			total = *doc.Total
		}
		fmt.Fprintf(w, "%-8s %s  %d/%d reviews\n", doc.Status, doc.JobID, current, total)
	case api.StateFailure:
		fmt.Fprintf(w, "%-8s %s  %s\n", doc.Status, doc.JobID, doc.Error)
	case api.StateSuccess:
		n := 0
		if doc.Result != nil {
			n = len(doc.Result.Reviews)
		}
		fmt.Fprintf(w, "%-8s %s  %d reviews\n", doc.Status, doc.JobID, n)
	default:
		fmt.Fprintf(w, "%-8s %s\n", doc.Status, doc.JobID)
	}
}

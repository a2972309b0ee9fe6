// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/viking-dev/viking/internal/search"
	"github.com/viking-dev/viking/internal/server"
	"github.com/viking-dev/viking/internal/store"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

// waitSlack is added to the HTTP timeout of waiting requests so the
// server's own timeout fires first.
const waitSlack = 10 * time.Second

// minWaitRound is the shortest interval between two wait requests. The
// server blocks each one, so this only matters when it answers early.
const minWaitRound = 500 * time.Millisecond

type addResponse struct {
	RootURI  string         `json:"root_uri"`
	Status   store.Status   `json:"status"`
	Accepted bool           `json:"accepted"`
	Error    *store.Failure `json:"error,omitempty"`
}

func newAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <url-or-path>",
		Short: "Submit a resource for ingestion",
		Long:  "Submit a URL or local path to the running server. The resource is processed in the background unless --wait is given.",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdd,
	}

	cmd.Flags().Bool("wait", false, "block until the resource is processed or failed")
	cmd.Flags().Duration("timeout", 60*time.Second, "how long --wait blocks")

	return cmd
}

func runAdd(cmd *cobra.Command, args []string) error {
	wait, _ := cmd.Flags().GetBool("wait")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout < 0 {
		return vikingerr.New(vikingerr.CodeCLIInputInvalid, "--timeout must not be negative")
	}

	client := clientFromConfig()
	var resp addResponse
	if err := client.postJSON(cmd.Context(), "/api/v1/resources", map[string]any{"path": args[0]}, &resp); err != nil {
		return vikingerr.Wrap(err, vikingerr.CodeCLIRequestFailure, "adding resource")
	}

	if wait && timeout > 0 && !resp.Status.Terminal() {
		rec, err := waitTerminal(cmd.Context(), client, resp.RootURI, timeout)
		if err != nil {
			return vikingerr.Wrap(err, vikingerr.CodeCLIRequestFailure, "waiting for resource")
		}
		resp.Status = rec.Status
		resp.Error = rec.Error
	}

	out := cmd.OutOrStdout()
	verb := "Queued"
	if !resp.Accepted {
		verb = "Already known"
	}
	if _, err := fmt.Fprintf(out, "%s: %s (%s)\n", verb, resp.RootURI, resp.Status); err != nil {
		return err
	}
	if resp.Error != nil {
		return vikingerr.Errorf(vikingerr.CodeCLIRequestFailure, "processing failed: %s: %s", resp.Error.Kind, resp.Error.Detail)
	}
	return nil
}

// waitTerminal long-polls the wait endpoint until uri is processed or
// failed, or until timeout has passed. The server bounds each request by
// its write timeout, so a long wait takes several rounds. On timeout the
// last observed record is returned without error.
func waitTerminal(ctx context.Context, client *apiClient, uri string, timeout time.Duration) (server.ResourceRecord, error) {
	deadline := time.Now().Add(timeout)
	var rec server.ResourceRecord
	for {
		// A zero timeout would select the server's default.
		remaining := max(time.Until(deadline), time.Millisecond)
		started := time.Now()
		q := url.Values{
			"uri":     {uri},
			"timeout": {strconv.FormatFloat(remaining.Seconds(), 'f', 3, 64)},
		}
		if err := client.withTimeout(remaining+waitSlack).getJSON(ctx, "/api/v1/resources/wait", q, &rec); err != nil {
			return rec, err
		}
		if rec.Status.Terminal() || time.Until(deadline) <= 0 {
			return rec, nil
		}

		if pause := min(minWaitRound-time.Since(started), time.Until(deadline)); pause > 0 {
			select {
			case <-time.After(pause):
			case <-ctx.Done():
				return rec, ctx.Err()
			}
		}
	}
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <uri>",
		Short: "Show the processing status of a resource",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}

	cmd.Flags().Bool("json", false, "print the raw record")

	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	var rec server.ResourceRecord
	q := url.Values{"uri": {args[0]}}
	if err := clientFromConfig().getJSON(cmd.Context(), "/api/v1/resources", q, &rec); err != nil {
		return vikingerr.Wrap(err, vikingerr.CodeCLIRequestFailure, "loading resource")
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(out, rec)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "URI:\t%s\n", rec.URI)
	_, _ = fmt.Fprintf(tw, "Locator:\t%s\n", rec.Locator)
	_, _ = fmt.Fprintf(tw, "Status:\t%s\n", rec.Status)
	if rec.Stage != "" {
		_, _ = fmt.Fprintf(tw, "Stage:\t%s\n", rec.Stage)
	}
	if rec.Error != nil {
		_, _ = fmt.Fprintf(tw, "Error:\t%s: %s\n", rec.Error.Kind, rec.Error.Detail)
	}
	if rec.MediaType != "" {
		_, _ = fmt.Fprintf(tw, "Media type:\t%s\n", rec.MediaType)
	}
	_, _ = fmt.Fprintf(tw, "Chunks:\t%d\n", rec.Chunks)
	_, _ = fmt.Fprintf(tw, "Attempts:\t%d\n", rec.Attempts)
	if rec.Abstract != "" {
		_, _ = fmt.Fprintf(tw, "Abstract:\t%s\n", rec.Abstract)
	}
	_, _ = fmt.Fprintf(tw, "Updated:\t%s\n", rec.UpdatedAt.Format(time.RFC3339))
	return tw.Flush()
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [uri]",
		Short: "List a namespace directory",
		Long:  "List the entries directly under a viking:// URI. Defaults to viking://resources.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}
}

func runLs(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	if len(args) == 1 {
		q.Set("uri", args[0])
	}
	var body struct {
		URI     string         `json:"uri"`
		Entries []server.Entry `json:"entries"`
	}
	if err := clientFromConfig().getJSON(cmd.Context(), "/api/v1/fs/ls", q, &body); err != nil {
		return vikingerr.Wrap(err, vikingerr.CodeCLIRequestFailure, "listing namespace")
	}

	out := cmd.OutOrStdout()
	if len(body.Entries) == 0 {
		_, err := fmt.Fprintf(out, "%s is empty\n", body.URI)
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tTYPE\tSTATUS\tURI")
	for _, e := range body.Entries {
		status := string(e.Status)
		if e.Type == "directory" {
			status = strconv.Itoa(e.Children) + " entries"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Name, e.Type, status, e.URI)
	}
	return tw.Flush()
}

func newFindCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "find <query>",
		Short: "Semantic search over processed resources",
		Args:  cobra.ExactArgs(1),
		RunE:  runFind,
	}

	cmd.Flags().String("target", "", "restrict results to resources under this URI")
	cmd.Flags().Int("top-k", 0, "maximum number of results (default: server setting)")
	cmd.Flags().Bool("json", false, "print the raw results")

	return cmd
}

func runFind(cmd *cobra.Command, args []string) error {
	target, _ := cmd.Flags().GetString("target")
	topK, _ := cmd.Flags().GetInt("top-k")
	if topK < 0 {
		return vikingerr.New(vikingerr.CodeCLIInputInvalid, "--top-k must not be negative")
	}

	req := map[string]any{"query": args[0]}
	if target != "" {
		req["target_uri"] = target
	}
	if topK > 0 {
		req["top_k"] = topK
	}

	var body struct {
		Resources []search.Result `json:"resources"`
	}
	if err := clientFromConfig().postJSON(cmd.Context(), "/api/v1/search/find", req, &body); err != nil {
		return vikingerr.Wrap(err, vikingerr.CodeCLIRequestFailure, "searching")
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(out, body.Resources)
	}
	if len(body.Resources) == 0 {
		_, err := fmt.Fprintln(out, "No matches")
		return err
	}
	for i, r := range body.Resources {
		if _, err := fmt.Fprintf(out, "%d. %s (score %.3f)\n", i+1, r.URI, r.Score); err != nil {
			return err
		}
		if r.Abstract != "" {
			_, _ = fmt.Fprintf(out, "   %s\n", r.Abstract)
		}
		if r.Excerpt != "" {
			_, _ = fmt.Fprintf(out, "   > %s\n", r.Excerpt)
		}
	}
	return nil
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <uri>",
		Aliases: []string{"delete"},
		Short:   "Delete a resource and its index entries",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"uri": {args[0]}}
			if err := clientFromConfig().deleteJSON(cmd.Context(), "/api/v1/resources", q, nil); err != nil {
				return vikingerr.Wrap(err, vikingerr.CodeCLIRequestFailure, "deleting resource")
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return err
		},
	}
}

func newQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show ingestion queue statistics",
		Args:  cobra.NoArgs,
		RunE:  runQueue,
	}
}

func runQueue(cmd *cobra.Command, _ []string) error {
	var stats server.QueueStats
	if err := clientFromConfig().getJSON(cmd.Context(), "/api/v1/system/queue", nil, &stats); err != nil {
		return vikingerr.Wrap(err, vikingerr.CodeCLIRequestFailure, "loading queue stats")
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "Workers:\t%d\n", stats.Workers)
	_, _ = fmt.Fprintf(tw, "Queued:\t%d/%d\n", stats.QueueDepth, stats.QueueCapacity)
	_, _ = fmt.Fprintf(tw, "In flight:\t%d\n", stats.InFlight)
	_, _ = fmt.Fprintf(tw, "Processed:\t%d\n", stats.Processed)
	_, _ = fmt.Fprintf(tw, "Failed:\t%d\n", stats.Failed)
	if stats.Dropped > 0 {
		_, _ = fmt.Fprintf(tw, "Dropped:\t%d\n", stats.Dropped)
	}
	if e := stats.Embedder; e != nil {
		state := "available"
		if !e.Available {
			state = "unavailable"
		}
		_, _ = fmt.Fprintf(tw, "Embedder:\t%s (%s, %d ok, %d failed)\n", e.Name, state, e.SuccessCount, e.FailureCount)
		if e.LastError != "" {
			_, _ = fmt.Fprintf(tw, "Last error:\t%s\n", e.LastError)
		}
	}
	return tw.Flush()
}

// withTimeout returns a copy of c whose requests time out after d.
func (c *apiClient) withTimeout(d time.Duration) *apiClient {
	cp := *c
	cp.http = &http.Client{Transport: c.http.Transport, Timeout: d}
	return &cp
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

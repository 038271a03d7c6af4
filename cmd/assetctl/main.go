package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"asset-indexer/internal/handlers"
	"asset-indexer/internal/startup"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newAPI builds a client from the persistent flags of cmd.
func newAPI(cmd *cobra.Command) (*client, error) {
	server, _ := cmd.Flags().GetString("server")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return newClient(server, timeout)
}

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func kind(directory bool) string {
	if directory {
		return "dir"
	}
	return "file"
}

func formatModified(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

var rootCmd = &cobra.Command{
	Use:          "assetctl",
	Short:        "Control a running asset indexer",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show client and server versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPI(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Client: %s (%s)\n", startup.Version, startup.Commit)

		var info startup.BuildInfo
		if err := api.do(cmd.Context(), http.MethodGet, "/version", nil, nil, &info); err != nil {
			return fmt.Errorf("fetching server version: %w", err)
		}
		fmt.Fprintf(out, "Server: %s (%s, %s %s/%s)\n", info.Version, info.Commit, info.GoVersion, info.OS, info.Arch)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show indexer health and per-storage scan state",
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPI(cmd)
		if err != nil {
			return err
		}

		var health handlers.HealthResponse
		err = api.do(cmd.Context(), http.MethodGet, "/healthz", nil, nil, &health)
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable {
			// A starting server still reports its state.
			if jerr := json.Unmarshal(apiErr.Body, &health); jerr != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Status:    %s (version %s, up %s)\n", health.Status, health.Version, health.Uptime)
		fmt.Fprintf(out, "Catalogue: %d files, %d directories, %d pending claims\n",
			health.TotalFiles, health.TotalDirectories, health.PendingClaims)
		fmt.Fprintf(out, "Recovery:  %d resumed, %d skipped, %d failed\n",
			health.Recovery.Resumed, health.Recovery.Skipped, health.Recovery.Failed)
		if health.Resetting {
			fmt.Fprintln(out, "Index reset in progress")
		}

		tw := table(out)
		fmt.Fprintln(tw, "REALM\tSTORAGE\tSCANS\tLAST SCAN\tLAST ERROR")
		for _, s := range health.Storages {
			last := "-"
			if !s.LastScan.IsZero() {
				last = s.LastScan.UTC().Format(time.RFC3339)
			}
			lastErr := s.LastError
			if lastErr == "" {
				lastErr = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", s.Realm, s.Storage, s.Scans, last, lastErr)
		}
		return tw.Flush()
	},
}

var realmsCmd = &cobra.Command{
	Use:   "realms",
	Short: "List the configured realms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPI(cmd)
		if err != nil {
			return err
		}
		var resp handlers.RealmListResponse
		if err := api.do(cmd.Context(), http.MethodGet, "/api/v1/realms", nil, nil, &resp); err != nil {
			return err
		}
		for _, r := range resp.Realms {
			fmt.Fprintln(cmd.OutOrStdout(), r)
		}
		return nil
	},
}

var storagesCmd = &cobra.Command{
	Use:   "storages <realm>",
	Short: "List the storages of a realm",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPI(cmd)
		if err != nil {
			return err
		}
		var resp handlers.StorageListResponse
		if err := api.do(cmd.Context(), http.MethodGet, "/api/v1"+escape("realms", args[0], "storages"), nil, nil, &resp); err != nil {
			return err
		}
		for _, s := range resp.Storages {
			fmt.Fprintln(cmd.OutOrStdout(), s)
		}
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls <realm> <storage> [hashPath]",
	Short: "List a directory of the catalogue",
	Long:  "List the children of a directory. Without a hash path the storage root is listed.",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPI(cmd)
		if err != nil {
			return err
		}

		path := "/api/v1" + escape("realms", args[0], "storages", args[1], "list")
		if len(args) == 3 {
			path += escape(args[2])
		}

		skip, _ := cmd.Flags().GetInt("skip")
		limit, _ := cmd.Flags().GetInt("limit")
		sort, _ := cmd.Flags().GetString("sort")
		order, _ := cmd.Flags().GetString("order")
		query := url.Values{}
		if skip > 0 {
			query.Set("skip", strconv.Itoa(skip))
		}
		if limit > 0 {
			query.Set("limit", strconv.Itoa(limit))
		}
		if sort != "" {
			query.Set("sort", sort)
		}
		if order != "" {
			query.Set("order", order)
		}

		var resp handlers.ListResponse
		if err := api.do(cmd.Context(), http.MethodGet, path, query, nil, &resp); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		current := resp.Path
		if current == "" {
			current = "/"
		}
		fmt.Fprintf(out, "%s/%s:%s (%d of %d, parent %s)\n",
			resp.Realm, resp.Storage, current, len(resp.Items), resp.Total, resp.ParentHashPath)

		tw := table(out)
		fmt.Fprintln(tw, "TYPE\tLENGTH\tMODIFIED\tSTABLE\tHASH\tNAME")
		for _, it := range resp.Items {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%t\t%s\t%s\n",
				kind(it.Directory), it.Length, formatModified(it.Modified), it.Stable, it.HashPath, it.Name)
		}
		return tw.Flush()
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <realm> <query>...",
	Short: "Search the index of a realm",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPI(cmd)
		if err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		resolve, _ := cmd.Flags().GetBool("resolve")
		query := url.Values{}
		query.Set("q", strings.Join(args[1:], " "))
		if limit > 0 {
			query.Set("limit", strconv.Itoa(limit))
		}
		if resolve {
			query.Set("resolveHashPaths", "1")
		}

		constraints, err := constraintsFromFlags(cmd)
		if err != nil {
			return err
		}

		method := http.MethodGet
		var body interface{}
		if constraints != nil {
			method = http.MethodPost
			body = constraints
		}

		var resp handlers.SearchResponse
		if err := api.do(cmd.Context(), method, "/api/v1"+escape("search", args[0]), query, body, &resp); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d matches for %q, showing %d\n", resp.TotalMatched, resp.Query, len(resp.Results))
		tw := table(out)
		if resolve {
			fmt.Fprintln(tw, "SCORE\tSTORAGE\tTYPE\tLENGTH\tPATH")
			for _, res := range resp.Results {
				f, ok := resp.Files[res.HashPath]
				if !ok {
					fmt.Fprintf(tw, "%.3f\t%s\t?\t-\t%s (not catalogued)\n", res.Score, res.Storage, res.Name)
					continue
				}
				fmt.Fprintf(tw, "%.3f\t%s\t%s\t%d\t%s\n", res.Score, res.Storage, kind(f.Directory), f.Length, f.Path)
			}
		} else {
			fmt.Fprintln(tw, "SCORE\tSTORAGE\tHASH\tNAME\tPARENT")
			for _, res := range resp.Results {
				fmt.Fprintf(tw, "%.3f\t%s\t%s\t%s\t%s\n", res.Score, res.Storage, res.HashPath, res.Name, res.ParentPath)
			}
		}
		return tw.Flush()
	},
}

// constraintsFromFlags returns nil when no constraint flag was given.
func constraintsFromFlags(cmd *cobra.Command) (*handlers.ConstraintsRequest, error) {
	var c handlers.ConstraintsRequest
	set := false

	tris := []struct {
		flag string
		dst  *string
	}{
		{"directory", &c.Directory},
		{"hidden", &c.Hidden},
		{"link", &c.Link},
		{"special", &c.Special},
	}
	for _, t := range tris {
		if v, _ := cmd.Flags().GetString(t.flag); v != "" {
			*t.dst = v
			set = true
		}
	}

	if v, _ := cmd.Flags().GetString("storages"); v != "" {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				c.Storages = append(c.Storages, s)
			}
		}
		set = true
	}
	if v, _ := cmd.Flags().GetString("parent"); v != "" {
		c.ParentPath = v
		set = true
	}
	if cmd.Flags().Changed("min-length") {
		v, _ := cmd.Flags().GetInt64("min-length")
		c.MinLength = &v
		set = true
	}
	if cmd.Flags().Changed("max-length") {
		v, _ := cmd.Flags().GetInt64("max-length")
		c.MaxLength = &v
		set = true
	}
	for _, bound := range []struct {
		flag string
		dst  **time.Time
	}{
		{"modified-from", &c.ModifiedFrom},
		{"modified-to", &c.ModifiedTo},
	} {
		v, _ := cmd.Flags().GetString(bound.flag)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("--%s must be an RFC 3339 time: %w", bound.flag, err)
		}
		*bound.dst = &ts
		set = true
	}

	if !set {
		return nil, nil
	}
	return &c, nil
}

var rescanCmd = &cobra.Command{
	Use:   "rescan <realm> <storage>",
	Short: "Queue an immediate scan of a storage",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPI(cmd)
		if err != nil {
			return err
		}
		path := "/api/v1" + escape("realms", args[0], "storages", args[1], "rescan")
		if err := api.do(cmd.Context(), http.MethodPost, path, nil, nil, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Rescan of %s/%s queued\n", args[0], args[1])
		return nil
	},
}

var resetStorageCmd = &cobra.Command{
	Use:   "reset-storage <realm> <storage>",
	Short: "Forget the catalogue of a storage so the next scan starts over",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPI(cmd)
		if err != nil {
			return err
		}
		path := "/api/v1" + escape("realms", args[0], "storages", args[1], "reset")
		var resp struct {
			Removed int64 `json:"removed"`
		}
		if err := api.do(cmd.Context(), http.MethodPost, path, nil, nil, &resp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d records of %s/%s\n", resp.Removed, args[0], args[1])
		return nil
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild every search index from the catalogue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPI(cmd)
		if err != nil {
			return err
		}
		if err := api.do(cmd.Context(), http.MethodPost, "/api/v1/index/reset", nil, nil, nil); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Index rebuild started")
		return nil
	},
}

var claimsCmd = &cobra.Command{
	Use:   "claims",
	Short: "List pending handler activities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPI(cmd)
		if err != nil {
			return err
		}
		query := url.Values{}
		if realm, _ := cmd.Flags().GetString("realm"); realm != "" {
			query.Set("realm", realm)
		}

		var resp struct {
			Claims []handlers.ClaimItem `json:"claims"`
		}
		if err := api.do(cmd.Context(), http.MethodGet, "/api/v1/claims", query, nil, &resp); err != nil {
			return err
		}

		tw := table(cmd.OutOrStdout())
		fmt.Fprintln(tw, "ID\tHANDLER\tEVENT\tWORKER\tSINCE\tPATH")
		for _, c := range resp.Claims {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s:%d\t%s\t%s/%s:%s\n",
				c.ID, c.Handler, c.Event, c.WorkerHost, c.WorkerPID,
				c.UpdatedAt.UTC().Format(time.RFC3339), c.Realm, c.Storage, c.Path)
		}
		return tw.Flush()
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit <realm>",
	Short: "Show the latest audit events of a realm",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPI(cmd)
		if err != nil {
			return err
		}
		query := url.Values{}
		if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
			query.Set("limit", strconv.Itoa(limit))
		}

		var resp struct {
			Events []handlers.AuditItem `json:"events"`
		}
		if err := api.do(cmd.Context(), http.MethodGet, "/api/v1"+escape("realms", args[0], "audit"), query, nil, &resp); err != nil {
			return err
		}

		tw := table(cmd.OutOrStdout())
		fmt.Fprintln(tw, "TIME\tEVENT\tISSUER\tTYPE\tREFERENCE")
		for _, e := range resp.Events {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				e.CreatedAt.UTC().Format(time.RFC3339), e.Event, e.Issuer, e.ObjectType, e.ObjectReference)
		}
		return tw.Flush()
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect topology files",
}

var configCheckCmd = &cobra.Command{
	Use:   "check <topology.toml>",
	Short: "Validate a topology file without contacting the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topo, err := startup.ReadTopologyFile(args[0])
		if err != nil {
			return fmt.Errorf("invalid topology: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Topology %s is valid\n\n", args[0])
		tw := table(out)
		fmt.Fprintln(tw, "REALM\tSTORAGE\tROOT\tINTERVAL\tWATCH")
		for _, t := range topo.Targets() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", t.Realm, t.Storage, t.Root, t.TimeBetweenScans, t.Watch)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		specs := topo.HandlerSpecs()
		fmt.Fprintf(out, "\n%d handlers\n", len(specs))
		for _, s := range specs {
			fmt.Fprintf(out, "  %s (%s)\n", s.Name, s.Kind)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "Base URL of the indexer")
	rootCmd.PersistentFlags().Duration("timeout", defaultTimeout, "Request timeout")

	lsCmd.Flags().Int("skip", 0, "Entries to skip")
	lsCmd.Flags().IntP("limit", "n", 0, "Maximum entries (0 uses the server maximum)")
	lsCmd.Flags().String("sort", "", "Sort field: name, type, date or size")
	lsCmd.Flags().String("order", "", "Sort order: asc, desc or none")

	searchCmd.Flags().IntP("limit", "n", 0, "Maximum results (0 uses the server maximum)")
	searchCmd.Flags().Bool("resolve", false, "Resolve hits against the catalogue")
	searchCmd.Flags().String("directory", "", "Only directories (true) or only files (false)")
	searchCmd.Flags().String("hidden", "", "Only hidden (true) or only visible (false) entries")
	searchCmd.Flags().String("link", "", "Only links (true) or no links (false)")
	searchCmd.Flags().String("special", "", "Only special files (true) or none (false)")
	searchCmd.Flags().String("storages", "", "Comma separated storages to search")
	searchCmd.Flags().String("parent", "", "Parent path prefix")
	searchCmd.Flags().Int64("min-length", 0, "Minimum length in bytes")
	searchCmd.Flags().Int64("max-length", 0, "Maximum length in bytes")
	searchCmd.Flags().String("modified-from", "", "Earliest modification time (RFC 3339)")
	searchCmd.Flags().String("modified-to", "", "Latest modification time (RFC 3339)")

	claimsCmd.Flags().String("realm", "", "Only claims of this realm")
	auditCmd.Flags().IntP("limit", "n", 0, "Maximum events")

	configCmd.AddCommand(configCheckCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(realmsCmd)
	rootCmd.AddCommand(storagesCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(rescanCmd)
	rootCmd.AddCommand(resetStorageCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(claimsCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(configCmd)
}

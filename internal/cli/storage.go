package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/harun/warden/internal/daemon"
	"github.com/harun/warden/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	catOffset    int
	catLimit     int
	grepContext  int
	storageRoute bool
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Browse the configured storage backends",
	Long: `Browse the storage backends named in the config, including evicted
tool results. The in-memory backend only holds data inside a running daemon.`,
}

var storageLsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List entries under a path",
	Args:  cobra.MaximumNArgs(1),
	RunE: withRouter(func(cmd *cobra.Command, r *storage.Router, args []string) error {
		dir := "/"
		if len(args) == 1 {
			dir = args[0]
		}
		if storageRoute {
			printRoutes(cmd.OutOrStdout(), r)
			return nil
		}
		infos, err := r.List(cmd.Context(), dir)
		if err != nil {
			return err
		}
		printInfos(cmd.OutOrStdout(), infos)
		return nil
	}),
}

var storageCatCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print the content of an entry",
	Args:  cobra.ExactArgs(1),
	RunE: withRouter(func(cmd *cobra.Command, r *storage.Router, args []string) error {
		content, found, err := r.Read(cmd.Context(), args[0], catOffset, catLimit)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%s: %w", args[0], storage.ErrNotFound)
		}
		fmt.Fprint(cmd.OutOrStdout(), content)
		if !strings.HasSuffix(content, "\n") {
			fmt.Fprintln(cmd.OutOrStdout())
		}
		return nil
	}),
}

var storageGlobCmd = &cobra.Command{
	Use:   "glob <pattern> [path]",
	Short: "List entries matching a glob pattern",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withRouter(func(cmd *cobra.Command, r *storage.Router, args []string) error {
		dir := "/"
		if len(args) == 2 {
			dir = args[1]
		}
		infos, err := r.Glob(cmd.Context(), args[0], dir)
		if err != nil {
			return err
		}
		printInfos(cmd.OutOrStdout(), infos)
		return nil
	}),
}

var storageGrepCmd = &cobra.Command{
	Use:   "grep <regex> [path]",
	Short: "Search entry contents with a regular expression",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withRouter(func(cmd *cobra.Command, r *storage.Router, args []string) error {
		dir := "/"
		if len(args) == 2 {
			dir = args[1]
		}
		matches, err := r.Grep(cmd.Context(), args[0], dir, grepContext)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, m := range matches {
			for i, line := range m.ContextBefore {
				fmt.Fprintf(out, "%s-%d-%s\n", m.Path, m.LineNumber-len(m.ContextBefore)+i, line)
			}
			fmt.Fprintf(out, "%s:%d:%s\n", m.Path, m.LineNumber, m.Content)
			for i, line := range m.ContextAfter {
				fmt.Fprintf(out, "%s-%d-%s\n", m.Path, m.LineNumber+i+1, line)
			}
		}
		return nil
	}),
}

var storageRmCmd = &cobra.Command{
	Use:   "rm <path>...",
	Short: "Delete entries",
	Args:  cobra.MinimumNArgs(1),
	RunE: withRouter(func(cmd *cobra.Command, r *storage.Router, args []string) error {
		var missing []string
		for _, p := range args {
			removed, err := r.Delete(cmd.Context(), p)
			if err != nil {
				return err
			}
			if !removed {
				missing = append(missing, p)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", p)
		}
		if len(missing) > 0 {
			return fmt.Errorf("not found: %s", strings.Join(missing, ", "))
		}
		return nil
	}),
}

func init() {
	storageLsCmd.Flags().BoolVar(&storageRoute, "routes", false, "list mounted routes instead of entries")
	storageCatCmd.Flags().IntVar(&catOffset, "offset", 0, "first line to print (0-based)")
	storageCatCmd.Flags().IntVar(&catLimit, "limit", 0, "number of lines to print (0 = all)")
	storageGrepCmd.Flags().IntVarP(&grepContext, "context", "C", 0, "lines of context around each match")

	storageCmd.AddCommand(storageLsCmd, storageCatCmd, storageGlobCmd, storageGrepCmd, storageRmCmd)
	rootCmd.AddCommand(storageCmd)
}

type routerFunc func(cmd *cobra.Command, r *storage.Router, args []string) error

// withRouter opens the configured backends for the duration of one command.
func withRouter(fn routerFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log, err := commandLogger(cmd, cfg)
		if err != nil {
			return err
		}
		defer log.Close()

		h, err := daemon.BuildHarness(cfg, log.GetZerolog())
		if err != nil {
			return err
		}
		defer h.Close()

		return fn(cmd, h.Router(), args)
	}
}

func printInfos(out io.Writer, infos []storage.FileInfo) {
	if len(infos) == 0 {
		fmt.Fprintln(out, "No entries found.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSIZE\tUPDATED")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", info.Path, info.Size, info.UpdatedAt.Format(time.RFC3339))
	}
	tw.Flush()
}

func printRoutes(out io.Writer, r *storage.Router) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PREFIX\tBACKEND\tDESCRIPTION")
	for _, route := range r.Routes() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", route.Prefix, backendName(route.Backend), route.Description)
	}
	fmt.Fprintf(tw, "/\t%s\tdefault\n", backendName(r.Default()))
	tw.Flush()
}

func backendName(b storage.Backend) string {
	if n, ok := b.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", b)
}

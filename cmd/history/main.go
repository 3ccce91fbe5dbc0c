package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/basalt-labs/histd/pkg/bootstrap"
	"github.com/basalt-labs/histd/pkg/config"
	"github.com/basalt-labs/histd/pkg/log"
	"github.com/basalt-labs/histd/pkg/queryclient"
	"github.com/basalt-labs/histd/pkg/types"
)

// presentNoValue is the NoOptDefVal sentinel for flags whose meaning
// differs between "absent", "present with no value", and "present
// with a value" (spec section 6: -t/--tty, --in, --at, --host).
const presentNoValue = "\x00present\x00"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "history [flags] [SUBSTRING]",
	Short: "Query the centralized shell command history",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runQuery,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.Flags().IntP("limit", "n", 25, "Maximum number of rows to return")
	rootCmd.Flags().StringP("tty", "t", "", "Restrict to a session (absent = all sessions, present with no value = this session)")
	rootCmd.Flags().Lookup("tty").NoOptDefVal = presentNoValue
	rootCmd.Flags().StringP("since", "s", "", "Only rows at or after this unix time")
	rootCmd.Flags().StringP("until", "u", "", "Only rows at or before this unix time")
	rootCmd.Flags().StringP("status", "x", "", `Restrict by exit status ("error" or present with no value = error)`)
	rootCmd.Flags().Lookup("status").NoOptDefVal = "error"
	rootCmd.Flags().Bool("desc", false, "Most-recent-first ordering")
	rootCmd.Flags().String("in", "", "Restrict to a directory and its subdirectories (no value = CWD)")
	rootCmd.Flags().Lookup("in").NoOptDefVal = presentNoValue
	rootCmd.Flags().String("at", "", "Restrict to an exact directory (no value = CWD)")
	rootCmd.Flags().Lookup("at").NoOptDefVal = presentNoValue
	rootCmd.Flags().String("host", "", "Restrict by host (absent = this host, no value = all hosts)")
	rootCmd.Flags().Lookup("host").NoOptDefVal = presentNoValue
	rootCmd.Flags().Bool("exact", false, "Match the substring argument exactly rather than as a glob")
	rootCmd.Flags().Bool("no-header", false, "Suppress the column header when rendering results")
	rootCmd.Flags().String("eval", "", "Print the shell bootstrap fragment for SERVER_ADDR and exit")

	rootCmd.AddCommand(isearchCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func runQuery(cmd *cobra.Command, args []string) error {
	if evalAddr, _ := cmd.Flags().GetString("eval"); evalAddr != "" {
		fmt.Println(bootstrap.Eval(evalAddr, config.DefaultPort))
		return nil
	}

	proc, err := config.LoadProcess()
	if err != nil {
		return fmt.Errorf("load process config: %w", err)
	}
	if proc.ServerAddr == "" {
		return fmt.Errorf("__history_server is not set; run eval \"$(history --eval SERVER_ADDR)\" first")
	}

	filter, err := buildFilter(cmd, args, proc)
	if err != nil {
		return err
	}

	client, err := queryclient.Dial(proc.ServerAddr)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := client.Query(ctx, filter)
	if err != nil {
		return err
	}

	noHeader, _ := cmd.Flags().GetBool("no-header")
	renderRows(os.Stdout, rows, noHeader)
	return nil
}

func buildFilter(cmd *cobra.Command, args []string, proc config.Process) (types.QueryFilter, error) {
	var filter types.QueryFilter

	limit, _ := cmd.Flags().GetInt("limit")
	filter.Limit = limit

	desc, _ := cmd.Flags().GetBool("desc")
	filter.Desc = desc

	exact, _ := cmd.Flags().GetBool("exact")
	filter.Exact = exact

	if len(args) == 1 {
		filter.HasCmd = true
		filter.Command = args[0]
	}

	if ttyFlag := cmd.Flags().Lookup("tty"); ttyFlag.Changed {
		filter.HasSession = true
		if ttyFlag.Value.String() == presentNoValue {
			session, err := currentSession(proc)
			if err != nil {
				return filter, err
			}
			filter.Session = session
		} else {
			n, err := strconv.Atoi(ttyFlag.Value.String())
			if err != nil {
				return filter, fmt.Errorf("--tty: %w", err)
			}
			filter.Session = n
		}
	}

	if since, _ := cmd.Flags().GetString("since"); since != "" {
		t, err := parseTimeArg(since)
		if err != nil {
			return filter, fmt.Errorf("--since: %w", err)
		}
		filter.HasSince = true
		filter.Since = t
	}

	if until, _ := cmd.Flags().GetString("until"); until != "" {
		t, err := parseTimeArg(until)
		if err != nil {
			return filter, fmt.Errorf("--until: %w", err)
		}
		filter.HasUntil = true
		filter.Until = t
	}

	if statusFlag := cmd.Flags().Lookup("status"); statusFlag.Changed {
		filter.HasStatus = true
		filter.Status = statusFlag.Value.String()
	}

	if inFlag := cmd.Flags().Lookup("in"); inFlag.Changed {
		filter.HasIn = true
		if inFlag.Value.String() == presentNoValue {
			filter.InDir = proc.EffectiveDir()
		} else {
			filter.InDir = inFlag.Value.String()
		}
	}

	if atFlag := cmd.Flags().Lookup("at"); atFlag.Changed {
		filter.HasAt = true
		if atFlag.Value.String() == presentNoValue {
			filter.AtDir = proc.EffectiveDir()
		} else {
			filter.AtDir = atFlag.Value.String()
		}
	}

	if hostFlag := cmd.Flags().Lookup("host"); hostFlag.Changed {
		if hostFlag.Value.String() != presentNoValue {
			filter.HasHost = true
			filter.Host = hostFlag.Value.String()
		}
		// present with no value means "all hosts" — leave HasHost false.
	} else {
		filter.HasHost = true
		filter.Host = proc.ShortHost
	}

	return filter, nil
}

// currentSession resolves "-t with no value" to the session of the
// invoking shell: $__history_session if the shell integration exported
// it, else the pts number that this process's stdin resolves to
// (SPEC_FULL part D.3).
func currentSession(proc config.Process) (int, error) {
	if s := os.Getenv("__history_session"); s != "" {
		return strconv.Atoi(s)
	}
	return sessionFromControllingTTY()
}

// parseTimeArg accepts either a unix-second integer or an RFC 3339
// timestamp.
func parseTimeArg(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("expected unix seconds or RFC3339, got %q", s)
	}
	return t.Unix(), nil
}

func renderRows(w io.Writer, rows []types.ResultRow, noHeader bool) {
	if !noHeader {
		fmt.Fprintf(w, "%-20s %-6s %-30s %s\n", "TIME", "SESSION", "DIR", "COMMAND")
	}
	for _, r := range rows {
		ts := time.Unix(r.EndTime, 0).Format("2006-01-02 15:04:05")
		fmt.Fprintf(w, "%-20s %-6d %-30s %s\n", ts, r.Session, r.Dir, strings.TrimRight(r.Argv, "\n"))
	}
}

var isearchCmd = &cobra.Command{
	Use:   "isearch",
	Short: "Run one incremental-search query (used by the Ctrl-R key binding)",
	RunE:  runISearch,
}

func runISearch(cmd *cobra.Command, args []string) error {
	proc, err := config.LoadProcess()
	if err != nil {
		return err
	}
	if proc.ServerAddr == "" {
		return fmt.Errorf("__history_server is not set")
	}

	var command string
	if len(args) > 0 {
		command = args[0]
	}

	client, err := queryclient.Dial(proc.ServerAddr)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rows, err := client.ISearch(ctx, types.ISearchFilter{
		Command: command,
		Dir:     proc.EffectiveDir(),
		Limit:   1,
	})
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		fmt.Println(strings.TrimRight(rows[0].Argv, "\n"))
	}
	return nil
}

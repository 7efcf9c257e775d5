package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	goruntime "runtime"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/harsh9t/basalt/internal/cli"
	"github.com/harsh9t/basalt/internal/lock"
	"github.com/harsh9t/basalt/internal/store"
)

var (
	// Build info (set via ldflags).
	Version = "dev"
	Build   = "unknown"
)

var (
	// Global flags.
	flagDir   string
	flagJSON  bool
	flagQuiet bool
)

func main() {
	// A process spawned as the lock helper must divert before cobra ever
	// sees argv.
	lock.MaybeRunHelper()

	rootCmd := &cobra.Command{
		Use:   "basalt",
		Short: "Exclusive, crash-safe ownership of a database directory",
		Long: `basalt owns a database directory exclusively and crash-safely.

The lock is held by a dedicated helper process so that descriptor churn in
the owning process can never silently drop it (the POSIX per-process record
lock hazard). The guarded directory carries a small SQLite catalog of
records and a history of every hold.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", ".", "Store directory")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "JSON output for scripting")
	rootCmd.PersistentFlags().BoolVar(&flagQuiet, "quiet", false, "Suppress non-essential output")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("basalt v{{.Version}} (build: " + Build + ", " + goruntime.Version() + ")\n")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(holdCmd())
	rootCmd.AddCommand(setCmd())
	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(sessionsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "basalt: %v\n", err)
		os.Exit(1)
	}
}

// storeDir resolves the directory a command operates on: positional
// argument first, then the --dir flag.
func storeDir(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return flagDir
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func stdoutIsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func initCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Initialize a store directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := cli.Init(context.Background(), storeDir(args), description)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(result)
			}
			if !flagQuiet {
				fmt.Printf("initialized store %s in %s\n", result.ID, result.Dir)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Free-form store description")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [dir]",
		Short: "Show store identity and lock state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := cli.Status(context.Background(), storeDir(args))
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(result)
			}
			fmt.Printf("store:    %s\n", result.ID)
			fmt.Printf("dir:      %s\n", result.Dir)
			if result.Description != "" {
				fmt.Printf("about:    %s\n", result.Description)
			}
			if result.Locked {
				fmt.Println("state:    locked (held by another process)")
				return nil
			}
			fmt.Println("state:    free")
			fmt.Printf("records:  %d\n", result.Records)
			fmt.Printf("sessions: %d\n", result.Sessions)
			return nil
		},
	}
}

func holdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hold [dir]",
		Short: "Acquire the store lock and hold it until interrupted",
		Long: `Acquire the store lock and hold it until SIGINT/SIGTERM, for wrapping
external maintenance work that needs the store kept exclusive:

    basalt hold /srv/db & kill -TERM $! when done`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			out := cmd.OutOrStdout()
			if flagQuiet {
				out = io.Discard
			}
			return cli.Hold(ctx, storeDir(args), out)
		},
	}
}

func setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Put(context.Background(), flagDir, args[0], args[1])
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Read a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := cli.Get(context.Background(), flagDir, args[0])
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("no record %q", args[0])
				}
				return err
			}
			if flagJSON {
				return printJSON(rec)
			}
			fmt.Println(rec.Value)
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := cli.Delete(context.Background(), flagDir, args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no record %q", args[0])
			}
			return err
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := cli.List(context.Background(), flagDir)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(records)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			if stdoutIsTTY() {
				fmt.Fprintln(w, "KEY\tVALUE\tUPDATED")
			}
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\n", rec.Key, rec.Value, rec.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
}

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "Show the store's hold history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := cli.Sessions(context.Background(), flagDir)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(sessions)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			if stdoutIsTTY() {
				fmt.Fprintln(w, "SESSION\tPID\tSTARTED\tENDED")
			}
			for _, s := range sessions {
				ended := "open"
				if s.EndedAt != nil {
					ended = s.EndedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
					s.ID, s.PID, s.StartedAt.Format("2006-01-02 15:04:05"), ended)
			}
			return w.Flush()
		},
	}
}

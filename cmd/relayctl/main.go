// relayctl drives eventrelay's operator endpoints: list and inspect events,
// trigger flush and retry, and run batch deletes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/gyaneshwarpardhi/eventrelay/internal/api"
	"github.com/gyaneshwarpardhi/eventrelay/internal/opsclient"
)

const usage = `Usage: relayctl [flags] <command> [args]

Commands:
  list                 list events (see --type, --state, --user, --item, --from, --to, --limit, --offset)
  get <id>             show one event
  flush                forward pending events now
  retry                re-forward failed events now
  recover              fail events stuck in flight past the stale cutoff
  delete <id>...       hard-delete events (in-flight events are skipped)
  delete-pending       hard-delete every pending event
  delete-remote <id>...  delete events from the recommendation service, then mark them locally
  reload               re-read the server's config file
  ready                show readiness and per-state counts

Flags:
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	var (
		server  string
		timeout time.Duration
		q       opsclient.ListQuery
	)
	flagSet := pflag.NewFlagSet("relayctl", pflag.ContinueOnError)
	flagSet.StringVarP(&server, "server", "s", envOr("EVENTRELAY_URL", "http://localhost:8080"), "eventrelay base URL")
	flagSet.DurationVar(&timeout, "timeout", 60*time.Second, "request timeout")
	flagSet.StringVar(&q.Type, "type", "", "filter by event type")
	flagSet.StringVar(&q.State, "state", "", "filter by delivery state")
	flagSet.StringVar(&q.UserID, "user", "", "filter by user id")
	flagSet.StringVar(&q.ItemID, "item", "", "filter by item id")
	flagSet.StringVar(&q.From, "from", "", "only events at or after (RFC 3339 or epoch ms)")
	flagSet.StringVar(&q.To, "to", "", "only events at or before (RFC 3339 or epoch ms)")
	flagSet.IntVar(&q.Limit, "limit", 0, "page size")
	flagSet.IntVar(&q.Offset, "offset", 0, "page offset")
	flagSet.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(argv); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	args := flagSet.Args()
	if len(args) == 0 {
		flagSet.Usage()
		return fmt.Errorf("missing command")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	c := opsclient.New(server, timeout)

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "list":
		page, err := c.List(ctx, q)
		if err != nil {
			return err
		}
		return printJSON(page)
	case "get":
		if len(rest) != 1 {
			return fmt.Errorf("get takes exactly one id")
		}
		ev, err := c.Get(ctx, rest[0])
		if err != nil {
			return err
		}
		return printJSON(ev)
	case "flush":
		n, err := c.Flush(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("forwarded %d\n", n)
	case "retry":
		n, err := c.Retry(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("retried %d\n", n)
	case "recover":
		n, err := c.RecoverStale(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("recovered %d\n", n)
	case "delete", "delete-remote":
		if len(rest) == 0 {
			return fmt.Errorf("%s needs at least one id", cmd)
		}
		action := api.ActionDeleteByIDs
		if cmd == "delete-remote" {
			action = api.ActionDeleteFromRemoteByIDs
		}
		n, err := c.BatchDelete(ctx, action, splitIDs(rest))
		if err != nil {
			return err
		}
		fmt.Printf("affected %d\n", n)
	case "delete-pending":
		n, err := c.BatchDelete(ctx, api.ActionDeleteAllPending, nil)
		if err != nil {
			return err
		}
		fmt.Printf("affected %d\n", n)
	case "reload":
		out, err := c.Reload(ctx)
		if err != nil {
			return err
		}
		return printJSON(out)
	case "ready":
		out, err := c.Ready(ctx)
		if err != nil {
			return err
		}
		return printJSON(out)
	default:
		flagSet.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

// splitIDs accepts ids as separate args or comma separated.
func splitIDs(args []string) []string {
	var ids []string
	for _, a := range args {
		for _, id := range strings.Split(a, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

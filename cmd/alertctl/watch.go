package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mr1hm/city-alerts/internal/client"
	"github.com/mr1hm/city-alerts/internal/feed"
	internalgrpc "github.com/mr1hm/city-alerts/internal/grpc"
	"github.com/mr1hm/city-alerts/internal/models"
	"github.com/mr1hm/city-alerts/internal/notify"
	"github.com/mr1hm/city-alerts/internal/session"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the live feed and notify about new alerts",
		Long: `Renders the visible alerts in priority order after every change.
Commands on stdin: "d <id>" dismisses an alert ("d" alone lists dismissed
ids), "t <type>" toggles a hazard type, "q" quits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	addViewFlags(cmd)
	flags := cmd.Flags()
	flags.Duration("recency-window", notify.DefaultRecencyWindow, "Only notify about alerts younger than this")
	// The server's NOTIFY_RECENCY_WINDOW applies when no alertctl value is set
	_ = viper.BindEnv("recency-window", "ALERTCTL_RECENCY_WINDOW", "NOTIFY_RECENCY_WINDOW")
	flags.String("notify", "ask", "Notification permission: ask, granted or denied")
	flags.String("webhook-url", "", "Also post notifications to this URL")
	return cmd
}

func runWatch(ctx context.Context, in io.Reader, out io.Writer) error {
	view, err := sessionFromFlags()
	if err != nil {
		return err
	}

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	stdin := bufio.NewScanner(in)
	gate := permissionGate(ctx, viper.GetString("notify"), stdin, out)

	var sink notify.Sink = notify.NewWriterSink(out)
	if url := viper.GetString("webhook-url"); url != "" {
		sink = notify.Multi{sink, notify.NewWebhookSink(url)}
	}
	dispatcher := notify.NewDispatcher(gate, notify.NewCoalesce(sink, nil), notify.Options{
		RecencyWindow: viper.GetDuration("recency-window"),
	})

	w := &watcher{out: out, view: view}
	adapter := client.NewAdapter(c, w.render)
	w.adapter = adapter

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	notifications, err := c.Subscribe(ctx, dispatcher.Listener(ctx))
	if err != nil {
		return err
	}
	defer notifications.Unsubscribe()

	go readCommands(stdin, w, cancel)

	return adapter.Run(ctx)
}

// permissionGate settles the notification permission before the feed starts,
// so the prompter never reads stdin concurrently with readCommands. A prompt
// that cannot be answered denies notifications for this run.
func permissionGate(ctx context.Context, mode string, in *bufio.Scanner, out io.Writer) *notify.Gate {
	gate := notify.NewGate(notify.ParsePermission(mode), terminalPrompter(in, out))
	if _, err := gate.Request(ctx); err != nil {
		slog.Warn("Notification permission not decided, notifications stay off", "error", err)
		return notify.NewGate(notify.PermissionDenied, nil)
	}
	slog.Debug("Notification permission", "state", gate.Permission())
	return gate
}

// readCommands applies stdin lines until "q". End of input leaves the watch
// running; only "q" or a signal stops it.
func readCommands(in *bufio.Scanner, w *watcher, quit func()) {
	for in.Scan() {
		if w.command(in.Text()) {
			quit()
			return
		}
	}
}

// terminalPrompter asks on out and reads the answer from in.
func terminalPrompter(in *bufio.Scanner, out io.Writer) notify.Prompter {
	return notify.PrompterFunc(func(ctx context.Context) (bool, error) {
		fmt.Fprint(out, "Show notifications for new alerts? [y/N] ")
		if !in.Scan() {
			if err := in.Err(); err != nil {
				return false, err
			}
			return false, io.EOF
		}
		answer := strings.ToLower(strings.TrimSpace(in.Text()))
		return answer == "y" || answer == "yes", nil
	})
}

type watcher struct {
	mu      sync.Mutex
	out     io.Writer
	view    *session.State
	adapter *client.Adapter
}

func (w *watcher) render(st client.State) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case st.Error != "" && len(st.Alerts) > 0:
		fmt.Fprintf(w.out, "\n-- feed error, showing last known alerts: %s\n", st.Error)
	case st.Error != "":
		fmt.Fprintf(w.out, "\n-- feed error: %s\n", st.Error)
	case st.IsLoading:
		fmt.Fprintln(w.out, "\n-- loading...")
		return
	default:
		fmt.Fprintf(w.out, "\n-- %s (v%d)\n", time.Now().Format("15:04:05"), st.Version)
	}
	renderList(w.out, w.view.View(st.Alerts), time.Now())
}

// command applies one stdin line and reports whether to quit.
func (w *watcher) command(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "q", "quit":
		return true
	case "d", "dismiss":
		if len(fields) == 1 {
			fmt.Fprintf(w.out, "dismissed: %s\n", strings.Join(w.view.Dismissed(), ", "))
			return false
		}
		for _, prefix := range fields[1:] {
			w.view.Dismiss(w.resolveID(prefix))
		}
	case "t", "toggle":
		for _, name := range fields[1:] {
			t, ok := models.ParseAlertType(name)
			if !ok {
				fmt.Fprintf(w.out, "unknown type %q\n", name)
				continue
			}
			w.view.SetFilter(t, !w.view.FilterEnabled(t))
		}
	default:
		fmt.Fprintf(w.out, "unknown command %q\n", fields[0])
		return false
	}

	if w.adapter != nil {
		w.render(w.adapter.State())
	}
	return false
}

// resolveID expands the short id shown in the list to the full id of a
// current alert. Unknown prefixes are returned unchanged.
func (w *watcher) resolveID(prefix string) string {
	if w.adapter == nil {
		return prefix
	}
	for _, a := range w.adapter.State().Alerts {
		if strings.HasPrefix(a.ID, prefix) {
			return a.ID
		}
	}
	return prefix
}

func firstSnapshot(ctx context.Context, c *internalgrpc.Client) (feed.Snapshot, error) {
	got := make(chan feed.Snapshot, 1)
	sub, err := c.Subscribe(ctx, feed.ListenerFuncs{
		Snapshot: func(s feed.Snapshot) {
			select {
			case got <- s:
			default:
			}
		},
	})
	if err != nil {
		return feed.Snapshot{}, err
	}
	defer sub.Unsubscribe()

	select {
	case s := <-got:
		return s, nil
	case <-ctx.Done():
		return feed.Snapshot{}, ctx.Err()
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	internalgrpc "github.com/mr1hm/city-alerts/internal/grpc"
	"github.com/mr1hm/city-alerts/internal/logging"
	"github.com/mr1hm/city-alerts/internal/models"
	"github.com/mr1hm/city-alerts/internal/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alertctl",
		Short: "Send, inspect and watch city alerts",

		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlags(cmd.Flags()); err != nil {
				return fmt.Errorf("failed to bind flags: %w", err)
			}
			slog.SetDefault(logging.New(os.Stderr, viper.GetString("log-level"), "text"))
			return nil
		},
	}

	viper.SetEnvPrefix("ALERTCTL")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	flags := cmd.PersistentFlags()
	flags.String("grpc-addr", "localhost:50051", "Alert server gRPC address")
	flags.String("server", "http://localhost:8080", "Alert server HTTP base URL")
	flags.Duration("timeout", 10*time.Second, "Timeout for single requests")
	flags.String("log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newSendCmd(),
		newGetCmd(),
		newStatusCmd("resolve", models.StatusResolved),
		newStatusCmd("expire", models.StatusExpired),
		newListCmd(),
		newWatchCmd(),
		newHealthCmd(),
	)
	return cmd
}

func dial() (*internalgrpc.Client, error) {
	return internalgrpc.Dial(viper.GetString("grpc-addr"), internalgrpc.DefaultRetryDelay)
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), viper.GetDuration("timeout"))
}

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Publish a new alert",
		RunE: func(cmd *cobra.Command, args []string) error {
			draft, err := draftFromFlags()
			if err != nil {
				return err
			}

			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := requestContext(cmd)
			defer cancel()

			id, err := c.Append(ctx, draft)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("type", "", "Hazard type (earthquake, fire, flood, weather)")
	flags.String("severity", "", "Severity (low, medium, high, critical)")
	flags.String("message", "", "Alert text")
	flags.Float64("lat", 0, "Latitude")
	flags.Float64("lng", 0, "Longitude")
	flags.String("address", "", "Human readable location")
	flags.String("created-by", "alertctl", "Producer name")
	flags.StringSlice("area", nil, "Affected area (repeatable)")
	flags.Duration("expires-in", 0, "Expire the alert after this long (0 means never)")
	return cmd
}

// draftFromFlags builds the draft from bound flags. A missing coordinate
// flag leaves the coordinate unset so validation reports it.
func draftFromFlags() (*models.Draft, error) {
	loc := &models.DraftLocation{Address: viper.GetString("address")}
	if viper.IsSet("lat") {
		lat := viper.GetFloat64("lat")
		loc.Lat = &lat
	}
	if viper.IsSet("lng") {
		lng := viper.GetFloat64("lng")
		loc.Lng = &lng
	}

	draft := &models.Draft{
		Type:          models.AlertType(strings.ToLower(viper.GetString("type"))),
		Message:       viper.GetString("message"),
		Location:      loc,
		Severity:      models.Severity(strings.ToLower(viper.GetString("severity"))),
		CreatedBy:     viper.GetString("created-by"),
		AffectedAreas: viper.GetStringSlice("area"),
	}
	if d := viper.GetDuration("expires-in"); d > 0 {
		exp := time.Now().Add(d).UTC()
		draft.ExpiresAt = &exp
	}
	return draft, draft.Validate()
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print one alert as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := requestContext(cmd)
			defer cancel()

			a, err := c.Get(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(a)
		},
	}
}

func newStatusCmd(use string, status models.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: fmt.Sprintf("Mark an alert %s", status),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := requestContext(cmd)
			defer cancel()

			return c.SetStatus(ctx, args[0], status)
		},
	}
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the current alerts in priority order",
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := sessionFromFlags()
			if err != nil {
				return err
			}

			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := requestContext(cmd)
			defer cancel()

			snap, err := firstSnapshot(ctx, c)
			if err != nil {
				return err
			}
			renderList(cmd.OutOrStdout(), view.View(snap.Alerts), time.Now())
			return nil
		},
	}
	addViewFlags(cmd)
	return cmd
}

func addViewFlags(cmd *cobra.Command) {
	cmd.Flags().String("types", "", "Comma-separated hazard types to show (default all)")
	cmd.Flags().StringSlice("dismiss", nil, "Alert ids to hide")
}

func sessionFromFlags() (*session.State, error) {
	filters, err := session.ParseFilters(viper.GetString("types"))
	if err != nil {
		return nil, err
	}
	s := session.NewWithFilters(filters)
	for _, id := range viper.GetStringSlice("dismiss") {
		s.Dismiss(id)
	}
	return s, nil
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the alert server HTTP endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()

			url := strings.TrimRight(viper.GetString("server"), "/") + "/health"
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("health check returned %s", resp.Status)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

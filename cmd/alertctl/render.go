package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mr1hm/city-alerts/internal/models"
)

// renderList prints alerts in the order given, one row each.
func renderList(w io.Writer, alerts []models.Alert, now time.Time) {
	if len(alerts) == 0 {
		fmt.Fprintln(w, "no active alerts")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSEVERITY\tTYPE\tAGE\tID\tMESSAGE\tWHERE")
	for i, a := range alerts {
		where := a.Location.Address
		if where == "" {
			where = fmt.Sprintf("%.4f, %.4f", a.Location.Lat, a.Location.Lng)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1,
			strings.ToUpper(string(a.Severity)),
			a.Type,
			formatAge(a.Age(now)),
			shortID(a.ID),
			a.Message,
			where,
		)
	}
	tw.Flush()
}

func formatAge(d time.Duration) string {
	switch {
	case d < 0:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

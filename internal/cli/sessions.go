package cli

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/workaholi/focusroom/internal/record"
)

func newSessionsCmd(cfg *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List joinable sessions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := wireApp(cfg)
			if err != nil {
				return err
			}
			sessions, err := w.registry.ListJoinable(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				_, _ = fmt.Fprintln(out, "No available sessions")
				return nil
			}
			for _, s := range sessions {
				_, _ = fmt.Fprintf(out, "%s\t%d/%d\t%s\t%s\n",
					s.ID, len(s.ParticipantIDs), w.registry.MaxUsers(), s.Status,
					s.StartTime.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
}

var errNoServer = errors.New("no server configured; pass --server or set FOCUS_SERVER")

func newHealthCmd(cfg *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the focusd server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := wireApp(cfg)
			if err != nil {
				return err
			}
			if w.remote == nil {
				return errNoServer
			}
			h, err := w.remote.Health(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "status:\t%s\n", h.Status)
			_, _ = fmt.Fprintf(out, "uptime:\t%s\n", h.Uptime)
			_, _ = fmt.Fprintf(out, "clients:\t%d\n", h.Clients)
			types := make([]string, 0, len(h.Counts))
			for t := range h.Counts {
				types = append(types, string(t))
			}
			sort.Strings(types)
			for _, t := range types {
				_, _ = fmt.Fprintf(out, "%s:\t%d\n", t, h.Counts[record.Type(t)])
			}
			return nil
		},
	}
}

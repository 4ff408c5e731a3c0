package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/workaholi/focusroom/internal/profile"
	"github.com/workaholi/focusroom/internal/session"
)

func newProfileCmd(cfg *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or edit your profile",
	}
	cmd.AddCommand(
		newProfileShowCmd(cfg),
		newProfileSetCmd(cfg),
	)
	return cmd
}

func newProfileShowCmd(cfg *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the stored profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := profile.NewRepository(cfg)
			if err != nil {
				return err
			}
			p, err := repo.Load(cmd.Context())
			if errors.Is(err, profile.ErrNotFound) {
				return fmt.Errorf("no profile at %s; run `focus profile set --name <name>`", repo.Path())
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "name:\t%s\n", p.Name)
			_, _ = fmt.Fprintf(out, "avatar:\t%s\n", p.Avatar)
			_, _ = fmt.Fprintf(out, "monitoring:\t%s\n", monitoringSummary(p.Monitoring))
			if len(p.Monitoring.Programs) > 0 {
				_, _ = fmt.Fprintf(out, "programs:\t%s\n", strings.Join(p.Monitoring.Programs, ", "))
			}
			_, _ = fmt.Fprintf(out, "path:\t%s\n", repo.Path())
			return nil
		},
	}
}

func newProfileSetCmd(cfg *viper.Viper) *cobra.Command {
	var (
		name     string
		avatar   string
		keyboard bool
		mouse    bool
		presence bool
		programs []string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Create or update the profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := profile.NewRepository(cfg)
			if err != nil {
				return err
			}
			p, err := repo.Load(cmd.Context())
			if errors.Is(err, profile.ErrNotFound) {
				p = profile.Default()
			} else if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("name") {
				p.Name = name
			}
			if flags.Changed("avatar") {
				p.Avatar = session.Avatar(avatar)
			}
			if flags.Changed("keyboard") {
				p.Monitoring.Keyboard = keyboard
			}
			if flags.Changed("mouse") {
				p.Monitoring.Mouse = mouse
			}
			if flags.Changed("presence") {
				p.Monitoring.Presence = presence
			}
			if flags.Changed("program") {
				p.Monitoring.Programs = programs
			}

			if err := repo.Save(cmd.Context(), p); err != nil {
				return fmt.Errorf("save profile: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "saved profile for %s to %s\n", p.Name, repo.Path())
			return nil
		},
	}

	avatars := make([]string, len(session.Avatars))
	for i, a := range session.Avatars {
		avatars[i] = string(a)
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&avatar, "avatar", "", "one of "+strings.Join(avatars, ", "))
	cmd.Flags().BoolVar(&keyboard, "keyboard", true, "score keyboard activity")
	cmd.Flags().BoolVar(&mouse, "mouse", true, "score pointer activity")
	cmd.Flags().BoolVar(&presence, "presence", false, "score editor/IDE process activity")
	cmd.Flags().StringSliceVar(&programs, "program", nil, "programs that count as presence (repeatable)")
	return cmd
}

func monitoringSummary(m profile.Monitoring) string {
	var on []string
	if m.Keyboard {
		on = append(on, "keyboard")
	}
	if m.Mouse {
		on = append(on, "mouse")
	}
	if m.Presence {
		on = append(on, "presence")
	}
	if len(on) == 0 {
		return "none"
	}
	return strings.Join(on, ", ")
}

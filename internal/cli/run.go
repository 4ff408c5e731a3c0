package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/workaholi/focusroom/internal/mock"
	"github.com/workaholi/focusroom/internal/telemetry"
	"github.com/workaholi/focusroom/internal/tui/app"
)

func runTUI(cmd *cobra.Command, cfg *viper.Viper) error {
	logFile, err := tea.LogToFile(cfg.GetString(keyLogFile), "focus")
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	shutdown, err := telemetry.Init(ctx, "focus")
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	w, err := wireApp(cfg)
	if err != nil {
		return err
	}

	if bots := cfg.GetInt(keyBots); bots > 0 {
		if w.remote != nil {
			return fmt.Errorf("--bots only applies to a local room; start focusd with -mock instead")
		}
		gen := mock.NewGenerator(w.registry, w.tracker, w.pings, bots, 0)
		if err := gen.Start(ctx); err != nil {
			return err
		}
		w.logf("seated %d bots in session %s", bots, gen.SessionID())
		defer func() {
			cancel()
			<-gen.Done()
		}()
	}

	deps := w.deps()
	deps.Bell = os.Stderr

	p := tea.NewProgram(app.New(deps),
		tea.WithAltScreen(),
		tea.WithMouseAllMotion(),
		tea.WithContext(ctx),
	)
	final, err := p.Run()
	if m, ok := final.(app.Model); ok {
		if leaveErr := m.Close(); leaveErr != nil {
			w.logf("leave on exit: %v", leaveErr)
		}
	}
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run tui: %w", err)
	}
	return nil
}

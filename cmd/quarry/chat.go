package main

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"quarry/cmd/quarry/chat"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat over the archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

func runChat() error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	app, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	p := tea.NewProgram(chat.New(app.manager, app.orch, app.st), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

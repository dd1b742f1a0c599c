package main

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"outreach/internal/app"
)

type commandContext struct {
	configFlag *string
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil || strings.TrimSpace(*c.configFlag) == "" {
		return "./config.json"
	}
	return strings.TrimSpace(*c.configFlag)
}

// withOffline opens persisted state for the duration of fn.
func (c *commandContext) withOffline(cmd *cobra.Command, exclusive bool, fn func(*app.Offline) error) error {
	o, err := app.OpenOffline(cmd.Context(), c.configPath(), exclusive)
	if err != nil {
		return err
	}
	defer o.Close()
	return fn(o)
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

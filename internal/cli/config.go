package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/muxfetch/internal/config"
)

const redacted = "********"

// configView renders the effective configuration with secrets masked.
type configView struct {
	*config.Config
}

// RenderText implements TextRenderer.
func (v configView) RenderText(w io.Writer) error {
	data, err := v.Config.YAML()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults are applied, as YAML
(or JSON with --format json). Passwords are masked.

Example:
  muxfetch config
  muxfetch --config ./muxfetch.yaml config --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.effectiveConfig()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			f := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			return f.Success(configView{Config: maskSecrets(cfg)})
		},
	}
}

// maskSecrets returns a copy of cfg with credentials replaced.
func maskSecrets(cfg *config.Config) *config.Config {
	c := *cfg
	if c.Transport.ProxyPassword != "" {
		c.Transport.ProxyPassword = redacted
	}
	if c.Request.Password != "" {
		c.Request.Password = redacted
	}
	return &c
}

package main

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/aivorynet/scriptdbg/pkg/breakpoint"
	"github.com/aivorynet/scriptdbg/pkg/config"
	"github.com/aivorynet/scriptdbg/pkg/program"
	"github.com/aivorynet/scriptdbg/pkg/session"
)

// Options is populated from flags, SCRIPTDBG_* env variables, the config
// file and defaults, in that order of precedence.
type Options struct {
	Breakpoints []string

	viper *viper.Viper
}

// App builds the root command.
func App(version string) (*cobra.Command, error) {
	app := &cobra.Command{
		Use:           "scriptdbg",
		Short:         "debug scripts running in a remote execution host",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	opts := Options{viper: viper.New()}
	if err := bindFlags(opts.viper, app.PersistentFlags()); err != nil {
		return &cobra.Command{}, err
	}

	app.SuggestionsMinimumDistance = 1
	app.AddCommand(
		RunCmd(&opts),
		AttachCmd(&opts),
		ExecCmd(&opts),
	)
	return app, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	flags.String("host", "", "execution host URL (env SCRIPTDBG_HOST_URL)")
	flags.String("api-key", "", "API key for the execution host (env SCRIPTDBG_API_KEY)")
	flags.Bool("debug", false, "enable debug logging (env SCRIPTDBG_DEBUG)")
	flags.String("config", "", "path to a config file (env SCRIPTDBG_CONFIG)")

	bindings := map[string]string{
		"host_url":      "host",
		"api_key":       "api-key",
		"debug":         "debug",
		config.FileKey: "config",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return errors.Wrapf(err, "bind flag %s", flag)
		}
	}
	return nil
}

// RunCmd debugs a script file.
func RunCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file> [args...]",
		Short: "debug a script file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.debug(cmd.Context(), program.FileNode(args[0], strings.Join(args[1:], " ")))
		},
	}
	cmd.Flags().StringSliceVarP(&opts.Breakpoints, "break", "b", nil, "breakpoint to set before running, as file:line[:col]")
	return cmd
}

// AttachCmd debugs a running host process.
func AttachCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach <pid>",
		Short: "attach to a running host process and break into it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.Atoi(args[0])
			if err != nil {
				return errors.Errorf("invalid process id %q", args[0])
			}
			return opts.debug(cmd.Context(), program.AttachNode(pid))
		},
	}
	cmd.Flags().StringSliceVarP(&opts.Breakpoints, "break", "b", nil, "breakpoint to set after attaching, as file:line[:col]")
	return cmd
}

// ExecCmd debugs an inline command.
func ExecCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <command>",
		Short: "debug an inline command",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.debug(cmd.Context(), program.InlineNode(strings.Join(args, " ")))
		},
	}
}

func (o *Options) debug(ctx context.Context, node program.Node) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(o.viper)
	if err != nil {
		return err
	}
	log.SetLevel(cfg.LogLevel())

	var bps []breakpoint.Breakpoint
	for _, arg := range o.Breakpoints {
		bp, err := parseBreakpoint(arg)
		if err != nil {
			return err
		}
		bps = append(bps, bp)
	}

	con := newConsole(stdin, stdout)
	s := session.New(cfg, con)
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := s.Stop(); err != nil {
			log.WithError(err).Warn("errors while stopping session")
		}
	}()

	con.attach(s.Controller())
	if len(bps) > 0 {
		s.Controller().SetBreakpoints(bps)
	}
	return con.run(node)
}

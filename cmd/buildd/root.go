package main

import (
	"os"

	"github.com/spf13/cobra"

	"buildd/internal/daemonrun"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var rootFlag string

	ctx := newCommandContext(&configFlag, &rootFlag)

	rootCmd := &cobra.Command{
		Use:   "buildd [--daemon | --daemon-stop | --daemon-output] [build args...]",
		Short: "Keep a build engine warm between builds",
		Long: "buildd runs the build engine with the given arguments. With --daemon it hands the\n" +
			"build to the daemon serving this project, starting one in the foreground if none\n" +
			"is running. --daemon-stop asks that daemon to exit. Configuration is read from\n" +
			"$BUILDD_CONFIG, ./buildd.toml, or ~/.config/buildd/config.toml.",
		SilenceUsage:       true,
		SilenceErrors:      true,
		DisableFlagParsing: true,
		Args:               cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, ctx, args)
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	// Arguments such as "help" belong to the build engine.
	rootCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})

	rootCmd.AddCommand(newDaemonCommand(ctx, &configFlag, &rootFlag))
	return rootCmd
}

func runBuild(cmd *cobra.Command, ctx *commandContext, args []string) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}
	host := daemonrun.NewHost(cfg, daemonrun.Options{
		ConfigPath: ctx.forwardedConfigPath(),
		Executable: executablePath(),
		Stdout:     cmd.OutOrStdout(),
		Logger:     ctx.logger(),
	})
	coordinator, err := daemonrun.NewCoordinator(cfg, host, workDir)
	if err != nil {
		return err
	}
	result, err := coordinator.Run(cmd.Context(), args)
	if err != nil {
		return err
	}
	if code := result.ExitCode(); code != 0 {
		return exitCodeError{code: code}
	}
	return nil
}

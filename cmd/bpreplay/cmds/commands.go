package cmds

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/go-delve/bpengine/pkg/breakpoint"
	"github.com/go-delve/bpengine/pkg/config"
	"github.com/go-delve/bpengine/pkg/logflags"
	"github.com/go-delve/bpengine/pkg/version"
	"github.com/go-delve/bpengine/service/dap"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string

	// configFile overrides the user configuration file.
	configFile string
	// dapOutput makes run write DAP events instead of text.
	dapOutput bool
	// noColor disables colored output even on terminals.
	noColor bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command
)

const bpreplayCommandLongDesc = `bpreplay drives the breakpoint engine against a simulated target.

A scenario file describes the types the target can load, the breakpoints
to set and a list of steps (loading types, hitting lines, entering methods,
throwing exceptions, editing breakpoints). Every event raised by a step is
dispatched to the engine and its decision is printed.`

// New returns an initialized command tree.
func New() *cobra.Command {
	rootCommand = &cobra.Command{
		Use:   "bpreplay",
		Short: "Replays breakpoint scenarios against a simulated target.",
		Long:  bpreplayCommandLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable engine logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'bpreplay help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'bpreplay help log').")

	// 'run' subcommand.
	runCommand := &cobra.Command{
		Use:   "run <scenario.yml>",
		Short: "Runs a scenario.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("you must provide exactly one scenario file")
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runCmd(args[0]))
		},
	}
	runCommand.Flags().StringVar(&configFile, "config", "", "Configuration file, defaults to the scenario configuration or to the user configuration.")
	runCommand.Flags().BoolVar(&dapOutput, "dap", false, "Write Debug Adapter Protocol events to standard output instead of text.")
	runCommand.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output.")
	rootCommand.AddCommand(runCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Breakpoint engine replay\n%s\n", version.EngineVersion)
			if log {
				fmt.Printf("%s\n", version.BuildInfo())
			}
		},
	}
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	engine		Log breakpoint additions, removals and target attachment
	install		Log creation and deletion of native requests
	dispatch	Log the decision taken for every event
	condition	Log compilation and evaluation of conditions
	dap		Log all DAP messages

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func runCmd(path string) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	sc, err := LoadScenario(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load scenario: %v\n", err)
		return 1
	}
	conf, err := loadConfig(sc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	cfg, err := conf.EngineConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}

	out, color := stdout()
	var listeners []breakpoint.Listener
	if dapOutput {
		listeners = append(listeners, dap.NewNotifier(os.Stdout))
	}
	r, err := newReplayer(sc, cfg, out, color, listeners...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if err := r.run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return 0
}

// loadConfig picks the configuration given with --config, then the one
// embedded in the scenario, then the user configuration.
func loadConfig(sc *Scenario) (*config.Config, error) {
	if configFile != "" {
		data, err := ioutil.ReadFile(configFile)
		if err != nil {
			return nil, err
		}
		return config.Parse(data)
	}
	if sc.Config != nil {
		return sc.Config, nil
	}
	return config.LoadConfig(), nil
}

func stdout() (io.Writer, bool) {
	if noColor || dapOutput || !isatty.IsTerminal(os.Stdout.Fd()) {
		return os.Stdout, false
	}
	return colorable.NewColorableStdout(), true
}

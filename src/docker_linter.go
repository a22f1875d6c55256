package main

import (
	"context"
	"os"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	_ "go.uber.org/automaxprocs"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/docker-linter/src/cli"
	"github.com/thought-machine/docker-linter/src/lsp"
	"github.com/thought-machine/docker-linter/src/metrics"
	"github.com/thought-machine/docker-linter/src/process"
	"github.com/thought-machine/docker-linter/src/server"
	"github.com/thought-machine/docker-linter/src/settings"
	"github.com/thought-machine/docker-linter/src/watch"
)

var log = logging.MustGetLogger("docker-linter")

var opts = struct {
	Usage        string
	Verbosity    cli.Verbosity `short:"v" long:"verbosity" default:"warning" description:"Verbosity of output (higher number = more output)"`
	LogFile      string        `long:"log_file" env:"DOCKER_LINTER_LOG_FILE" description:"File to echo full logging output to"`
	LogFileLevel cli.Verbosity `long:"log_file_level" default:"debug" description:"Log level for file output"`
	LogAppend    bool          `long:"log_append" description:"Append to the log file instead of truncating it"`

	Runtime string       `long:"runtime" default:"docker" env:"DOCKER_LINTER_RUNTIME" description:"Container runtime used to exec linters"`
	EnvTool string       `long:"env_tool" default:"docker-machine" description:"Tool used to get the environment for a remote machine"`
	Linter  string       `short:"l" long:"linter" description:"Always use this linter, regardless of which the editor enables"`
	Config  cli.Filepath `short:"c" long:"config" default:"~/.config/docker-linter/linters.cfg" env:"DOCKER_LINTER_CONFIG" description:"File of linter defaults. It's reloaded when it changes."`

	Metrics struct {
		Port          int          `long:"metrics_port" description:"Port to serve Prometheus metrics on"`
		PushGateway   string       `long:"pushgateway_url" description:"URL of a Prometheus pushgateway to push metrics to"`
		PushFrequency cli.Duration `long:"push_frequency" default:"30s" description:"Frequency to push metrics at"`
		PushTimeout   cli.Duration `long:"push_timeout" default:"5s" description:"Timeout on pushing metrics"`
	} `group:"Options controlling metrics"`
}{
	Usage: `
docker-linter is a language server that runs linters inside docker containers.

It speaks the language server protocol over stdin and stdout. Each time a document changes
it is piped to the configured linter via 'docker exec', and the linter's output is turned into
diagnostics using a regular expression.

The --config file is in git-config format, one [linter "name"] section per linter.
Values containing a backslash, such as patterns, must be double-quoted with each
backslash doubled, for example:
    pattern = "^stdin:(\\d+):(\\d+): (.*)$"
If the file can't be read the builtin defaults are used instead.
`,
}

func main() {
	cli.ParseFlagsOrDie("docker-linter", &opts)
	cli.InitLogging(opts.Verbosity)
	if opts.LogFile != "" {
		cli.InitFileLogging(opts.LogFile, opts.LogFileLevel, opts.LogAppend)
	}
	if err := metrics.Init(metrics.Config{
		Port:           opts.Metrics.Port,
		PushGatewayURL: opts.Metrics.PushGateway,
		PushFrequency:  time.Duration(opts.Metrics.PushFrequency),
		PushTimeout:    time.Duration(opts.Metrics.PushTimeout),
	}); err != nil {
		log.Fatalf("Failed to initialise metrics: %s", err)
	}
	config := settings.ExpandHomePath(string(opts.Config))
	handler := lsp.NewHandler(server.Options{
		Runtime:      opts.Runtime,
		EnvTool:      opts.EnvTool,
		Linter:       opts.Linter,
		DefaultsFile: config,
		Executor:     process.New(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if config != "" {
		if err := watch.Watch(ctx, config, handler.Server().ReloadDefaults); err != nil {
			log.Warning("Not watching %s for changes: %s", config, err)
		}
	}
	serve(handler)
	handler.Server().Shutdown()
	metrics.Stop()
	cli.RunExitHandlers()
}

func serve(handler *lsp.Handler) {
	log.Info("docker-linter: reading on stdin, writing on stdout")
	conn := jsonrpc2.NewConn(context.Background(), jsonrpc2.NewBufferedStream(stdrwc{}, jsonrpc2.VSCodeObjectCodec{}),
		handler, jsonrpc2.LogMessages(lsp.Logger{}))
	handler.Conn = conn
	<-conn.DisconnectNotify()
	log.Info("connection closed")
}

type stdrwc struct{}

func (stdrwc) Read(p []byte) (int, error) {
	return os.Stdin.Read(p)
}

func (stdrwc) Write(p []byte) (int, error) {
	return os.Stdout.Write(p)
}

func (stdrwc) Close() error {
	if err := os.Stdin.Close(); err != nil {
		return err
	}
	return os.Stdout.Close()
}

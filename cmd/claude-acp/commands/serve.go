package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"github.com/spf13/cobra"

	"github.com/zed-industries/claude-code-acp-sub000/internal/agentsdk"
	"github.com/zed-industries/claude-code-acp-sub000/internal/config"
	"github.com/zed-industries/claude-code-acp-sub000/internal/event"
	"github.com/zed-industries/claude-code-acp-sub000/internal/logging"
	"github.com/zed-industries/claude-code-acp-sub000/internal/session"
	"github.com/zed-industries/claude-code-acp-sub000/pkg/mcpserver/acptools"
)

var (
	serveToolAddr        string
	serveNativeTools     bool
	serveTerminalTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the Agent Client Protocol on stdio",
	Long: `Serve the Agent Client Protocol on stdin/stdout.

File and shell tools are routed through a local MCP server so edits go
through the editor and commands can run in editor terminals. Use
--native-tools to leave the runtime on its built-in tools.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveToolAddr, "tool-addr", "127.0.0.1:0", "Listen address of the tool server")
	serveCmd.Flags().BoolVar(&serveNativeTools, "native-tools", false, "Do not route file and shell tools through the editor")
	serveCmd.Flags().DurationVar(&serveTerminalTimeout, "terminal-timeout", 0, "Default timeout for background commands")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logging.Component("serve")
	env := config.LoadEnv()
	extraEnv, err := runtimeEnv()
	if err != nil {
		return err
	}

	var tools *acptools.Server
	if !serveNativeTools {
		tools = acptools.NewServer()
		if err := tools.Start(serveToolAddr); err != nil {
			return err
		}
	}

	reg := session.NewRegistry(session.Config{
		Runtime:         &agentsdk.CLIRuntime{Executable: env.Executable},
		Tools:           tools,
		Env:             env,
		RuntimeEnv:      extraEnv,
		TerminalTimeout: serveTerminalTimeout,
	})

	unsubscribe := event.SubscribeAll(func(ev event.Event) {
		log.Debug().Str("event", string(ev.Type)).Interface("data", ev.Data).Msg("event")
	})
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router := reg.Route(ctx, os.Stdin, os.Stdout)
	conn := acp.NewAgentSideConnection(reg, router.Output(), router.Input())
	conn.SetLogger(logging.NewSlog("acp"))
	reg.SetClient(conn)

	log.Info().Str("version", Version).Bool("toolServer", tools != nil).Str("logFile", logging.GetLogFilePath()).Msg("bridge started")

	if err := auditPermissions(ctx); err != nil {
		log.Warn().Err(err).Msg("permission audit unavailable")
	}
	select {
	case <-conn.Done():
		log.Info().Msg("client disconnected")
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reg.Close(shutdownCtx)
	if tools != nil {
		if err := tools.Close(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("tool server shutdown")
		}
	}
	return nil
}

// auditPermissions logs every permission decision from the event stream
// until ctx ends.
func auditPermissions(ctx context.Context) error {
	events, err := event.Stream(ctx, event.PermissionResolved)
	if err != nil {
		return err
	}
	log := logging.Component("audit")
	go func() {
		for ev := range events {
			data, _ := ev.Data.(map[string]any)
			log.Info().
				Interface("session", data["sessionId"]).
				Interface("tool", data["toolName"]).
				Interface("decision", data["decision"]).
				Interface("rule", data["rule"]).
				Msg("permission decision")
		}
	}()
	return nil
}

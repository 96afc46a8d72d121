package commands

import (
	"bufio"
	"context"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lxyhes/iflow-engine/internal/backend"
	"github.com/lxyhes/iflow-engine/internal/compose"
	"github.com/lxyhes/iflow-engine/internal/config"
	"github.com/lxyhes/iflow-engine/internal/engine"
	"github.com/lxyhes/iflow-engine/internal/printer"
	"github.com/lxyhes/iflow-engine/internal/retrieval"
	"github.com/lxyhes/iflow-engine/pkg/types"
)

var (
	chatBackend string
	chatModel   string
	chatPersona string
	chatProject string
	chatDir     string
	chatVerbose bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive chat session against the configured backend.

Examples:
  iflow chat
  iflow chat --project myapp --model qwen-coder
  iflow chat --backend http://localhost:7800 --verbose

Inside the session:
  /attach <path>   stage a file for the next message
  /clear           reset the transcript
  /quit            exit
  Ctrl-C           abort the in-flight turn`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatBackend, "backend", "", "Backend base URL")
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "Model to request")
	chatCmd.Flags().StringVarP(&chatPersona, "persona", "p", "", "Persona name")
	chatCmd.Flags().StringVar(&chatProject, "project", "", "Project name")
	chatCmd.Flags().StringVar(&chatDir, "directory", "", "Working directory")
	chatCmd.Flags().BoolVarP(&chatVerbose, "verbose", "v", false, "Print thinking traces and tool output")
}

func runChat(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(chatDir)
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if chatBackend != "" {
		cfg.BackendURL = chatBackend
	}
	if chatModel != "" {
		cfg.Model = chatModel
	}
	if chatPersona != "" {
		cfg.Persona = chatPersona
	}

	if err := checkPersona(cfg); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client := backend.NewClient(cfg.BackendURL)
	if err := waitForBackend(ctx, client); err != nil {
		return fmt.Errorf("backend %s is not reachable: %w", cfg.BackendURL, err)
	}

	var rcfg types.RetrievalConfig
	if cfg.Retrieval != nil {
		rcfg = *cfg.Retrieval
	}
	svc := retrieval.NewService(client, rcfg, nil)
	composer := compose.NewComposer(client, svc, cfg.Persona, cfg.Model)

	eng := engine.New(composer, func(ctx context.Context, req types.TurnRequest) (engine.EventStream, error) {
		return client.OpenStream(ctx, req)
	}, nil)
	eng.SetSession(types.NewID())

	projectName := chatProject
	if projectName == "" {
		projectName = filepath.Base(workDir)
	}
	eng.SetProject(types.Project{Name: projectName, Path: workDir})

	p := printer.New(os.Stdout, chatVerbose)
	p.Attach(eng.Bus())
	defer p.Detach()

	// Ctrl-C aborts a running turn; a second one while idle exits.
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigC)
	go func() {
		for range sigC {
			if eng.CanAbort() {
				eng.Abort()
			} else {
				os.Exit(0)
			}
		}
	}()

	fmt.Printf("Connected to %s (project %s, model %s)\n", cfg.BackendURL, projectName, cfg.Model)
	fmt.Println("Type a message, or /quit to exit.")

	var pending []types.UploadFile
	prompt := color.New(color.FgBlue, color.Bold)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		prompt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/clear":
			eng.Clear()
			pending = nil
			fmt.Println("transcript cleared")
			continue
		case strings.HasPrefix(line, "/attach "):
			file, err := readUploadFile(strings.TrimSpace(strings.TrimPrefix(line, "/attach ")))
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			pending = append(pending, file)
			fmt.Printf("staged %s (%d bytes)\n", file.Name, len(file.Data))
			continue
		case strings.HasPrefix(line, "/"):
			fmt.Fprintf(os.Stderr, "unknown command %q\n", line)
			continue
		}

		eng.SendTurn(ctx, line, pending)
		pending = nil
	}
	return scanner.Err()
}

// checkPersona warns when the configured persona is not in the catalog.
// The name is still sent; the backend decides what an unknown one means.
func checkPersona(cfg *types.Config) error {
	personas, err := config.LoadPersonas(cfg)
	if err != nil {
		return err
	}
	if len(personas) == 0 {
		return nil
	}
	for _, p := range personas {
		if p.Name == cfg.Persona {
			return nil
		}
	}
	fmt.Fprintf(os.Stderr, "warning: persona %q not found in catalog\n", cfg.Persona)
	return nil
}

// waitForBackend polls the health endpoint until the backend answers.
// Only startup waits retry; the engine itself never does.
func waitForBackend(ctx context.Context, client *backend.Client) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 10 * time.Second
	return backoff.Retry(func() error {
		return client.Ping(ctx)
	}, backoff.WithContext(policy, ctx))
}

func readUploadFile(path string) (types.UploadFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.UploadFile{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	mediaType := mime.TypeByExtension(filepath.Ext(path))
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return types.UploadFile{
		Name:      filepath.Base(path),
		MediaType: mediaType,
		Data:      data,
	}, nil
}

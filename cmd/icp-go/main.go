package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/interviewcopilot/copilot-go/internal/config"
	"github.com/interviewcopilot/copilot-go/internal/control"
	"github.com/interviewcopilot/copilot-go/pkg/capture"
	"github.com/interviewcopilot/copilot-go/pkg/coach"
	coachopenai "github.com/interviewcopilot/copilot-go/pkg/coach/openai"
	"github.com/interviewcopilot/copilot-go/pkg/toolchain"
	"github.com/interviewcopilot/copilot-go/pkg/transcribe"
	"github.com/interviewcopilot/copilot-go/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:   "icp-go",
	Short: "Interview Copilot Go - continuous audio capture and transcription",
	Long: `icp-go records interview audio through an external capture tool,
transcribes it in near-real-time segments, and serves the accumulating
transcript to the desktop shell over a local websocket control plane.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the capture daemon and control-plane endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		listen, _ := cmd.Flags().GetString("listen")

		logger := setupLogger()
		logger.Info("Starting capture daemon",
			slog.String("service", "icp-go"),
			slog.String("version", version.Version),
			slog.String("commit", version.GitCommit))

		// Create context that cancels on interrupt
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return runServe(ctx, cfgPath, listen, logger)
	},
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one session from the terminal and print the transcript",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		sessionID, _ := cmd.Flags().GetString("session")
		sourceStr, _ := cmd.Flags().GetString("source")
		duration, _ := cmd.Flags().GetDuration("duration")
		useCoach, _ := cmd.Flags().GetBool("coach")

		logger := setupLogger()
		logger.Info("Starting terminal recording",
			slog.String("service", "icp-go"),
			slog.String("source", sourceStr),
			slog.Duration("duration", duration))

		// Create context that cancels on interrupt
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return runRecord(ctx, cfgPath, sessionID, sourceStr, duration, useCoach, logger)
	},
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe",
	Short: "Transcribe a single audio file and print the text",
	RunE: func(cmd *cobra.Command, args []string) error {
		filePath, _ := cmd.Flags().GetString("file")

		logger := setupLogger()
		logger.Info("Transcribing file",
			slog.String("service", "icp-go"),
			slog.String("file", filePath))

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return runTranscribe(ctx, filePath)
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available capture devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")

		logger := setupLogger()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		return runDevices(ctx, cfgPath, logger)
	},
}

func setupLogger() *slog.Logger {
	logFormat := os.Getenv("ICP_LOG_FORMAT")
	logLevel := os.Getenv("ICP_LOG_LEVEL")

	var handler slog.Handler
	opts := &slog.HandlerOptions{}

	// Set log level
	switch logLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	// Choose handler based on format
	if logFormat == "console" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		// Default to JSON
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func buildManager(cfg config.Config, logger *slog.Logger) (*capture.Manager, error) {
	tc, err := toolchain.Resolver{}.Resolve()
	if err != nil {
		return nil, err
	}
	logger.Info("Toolchain resolved",
		slog.String("ffmpeg", tc.FFmpeg),
		slog.String("ffprobe", tc.FFprobe),
		slog.String("whisper", tc.Whisper),
		slog.String("model", tc.Model))

	engine := transcribe.NewWhisper(tc, logger)
	return capture.NewManager(cfg.CaptureManagerConfig(), tc, engine, logger)
}

func buildCoach(cfg config.Config) coach.Coach {
	if !cfg.Coach.Enabled {
		return nil
	}
	return coachopenai.NewGPTCoach(cfg.Coach.APIKey, cfg.Coach.Model)
}

func runServe(ctx context.Context, cfgPath, listen string, logger *slog.Logger) error {
	cfg, err := config.Loader{}.Load(cfgPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.ListenAddr = listen
	}

	manager, err := buildManager(cfg, logger)
	if err != nil {
		return err
	}
	defer manager.Close(context.Background())

	c := buildCoach(cfg)
	if c != nil {
		logger.Info("Coach enabled", slog.String("model", cfg.Coach.Model))
	}

	server := control.NewServer(manager, c, logger)
	if err := server.Run(ctx, cfg.ListenAddr); err != nil {
		logger.Error("Control server failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func runRecord(ctx context.Context, cfgPath, sessionID, sourceStr string, duration time.Duration, useCoach bool, logger *slog.Logger) error {
	source, err := capture.ParseSource(sourceStr)
	if err != nil {
		return err
	}

	cfg, err := config.Loader{}.Load(cfgPath)
	if err != nil {
		return err
	}

	manager, err := buildManager(cfg, logger)
	if err != nil {
		return err
	}
	defer manager.Close(context.Background())

	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if err := manager.Start(ctx, sessionID, source); err != nil {
		return err
	}
	fmt.Printf("Recording session %s from %s (Ctrl-C to stop)\n", sessionID, source)

	// Stream appended fragments as they arrive.
	if updates, ok := manager.Updates(sessionID); ok {
		go func() {
			for u := range updates {
				fmt.Printf("[%s] %s\n", u.Timestamp.Format("15:04:05"), u.Text)
			}
		}()
	}

	var timeout <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
	case <-timeout:
	}

	transcript, _ := manager.Stop(context.Background(), sessionID)
	if transcript == "" {
		fmt.Println("Transcript: no speech detected")
		return nil
	}
	fmt.Printf("Transcript: %s\n", transcript)

	if useCoach {
		if cfg.Coach.APIKey == "" {
			return fmt.Errorf("--coach requires ICP_OPENAI_API_KEY or OPENAI_API_KEY")
		}
		c := coachopenai.NewGPTCoach(cfg.Coach.APIKey, cfg.Coach.Model)
		cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		answer, err := c.Respond(cctx, transcript)
		if err != nil {
			return fmt.Errorf("coach request failed: %w", err)
		}
		fmt.Printf("Coach: %s\n", answer)
	}
	return nil
}

func runTranscribe(ctx context.Context, filePath string) error {
	if filePath == "" {
		return fmt.Errorf("--file is required")
	}

	tc, err := toolchain.Resolver{}.Resolve()
	if err != nil {
		return err
	}
	engine := transcribe.NewWhisper(tc, slog.Default())

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	text, err := engine.Transcribe(ctx, filePath)
	if err != nil {
		return err
	}
	if text == "" {
		fmt.Println("no speech detected")
		return nil
	}
	fmt.Println(text)
	return nil
}

func runDevices(ctx context.Context, cfgPath string, logger *slog.Logger) error {
	cfg, err := config.Loader{}.Load(cfgPath)
	if err != nil {
		return err
	}

	tc := toolchain.Resolver{}.ResolveBinaries()
	api := cfg.CaptureManagerConfig().CaptureAPI
	lister := capture.NewDeviceLister(tc.FFmpeg, api, logger)

	devices, err := lister.List(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No capture devices found")
		return nil
	}

	// Print header
	fmt.Printf("%-6s %-48s %s\n", "INDEX", "NAME", "LOOPBACK")
	fmt.Println("----------------------------------------------------------------")
	for _, d := range devices {
		loopback := ""
		if d.Loopback {
			loopback = "yes"
		}
		fmt.Printf("%-6d %-48s %s\n", d.Index, d.Name, loopback)
	}

	logger.Info("Listed devices",
		slog.Int("count", len(devices)),
		slog.String("api", api))
	return nil
}

func init() {
	// Add flags to serve command
	serveCmd.Flags().String("config", "", "Path to YAML config file")
	serveCmd.Flags().String("listen", "", "Control-plane listen address (overrides config)")

	// Add flags to record command
	recordCmd.Flags().String("config", "", "Path to YAML config file")
	recordCmd.Flags().String("session", "", "Session ID (generated when empty)")
	recordCmd.Flags().String("source", "BOTH", "Capture source (INTERVIEWER, INTERVIEWEE, BOTH, SYSTEM)")
	recordCmd.Flags().Duration("duration", 0, "Stop automatically after this long (0 = until Ctrl-C)")
	recordCmd.Flags().Bool("coach", false, "Send the final transcript to the coach and print its suggestion")

	// Add flags to transcribe command
	transcribeCmd.Flags().String("file", "", "Path to audio file to transcribe")
	transcribeCmd.MarkFlagRequired("file")

	// Add flags to devices command
	devicesCmd.Flags().String("config", "", "Path to YAML config file")

	// Build command tree
	rootCmd.AddCommand(versionCmd, serveCmd, recordCmd, transcribeCmd, devicesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

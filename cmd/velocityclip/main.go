package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"

	"github.com/kikiluvv/velocityclip/internal/api"
	"github.com/kikiluvv/velocityclip/internal/clips"
	"github.com/kikiluvv/velocityclip/internal/config"
	"github.com/kikiluvv/velocityclip/internal/export"
	"github.com/kikiluvv/velocityclip/internal/ffmpeg"
	"github.com/kikiluvv/velocityclip/internal/gui"
	"github.com/kikiluvv/velocityclip/internal/logging"
	"github.com/kikiluvv/velocityclip/internal/pipeline"
	"github.com/kikiluvv/velocityclip/internal/sources"
	"github.com/kikiluvv/velocityclip/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var version = "dev"

var (
	cfgFile string
	verbose bool
	jsonLog bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "velocityclip",
	Short:         "VelocityClip - mark, arrange and export highlight clips",
	Long:          "Load up to a handful of videos, mark the moments that matter, arrange them on a timeline and export them as separate clips or one merged video.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(logging.Options{Verbose: verbose, JSON: jsonLog})

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		cmd.SetContext(config.WithConfig(cmd.Context(), cfg))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonLog, "log-json", false, "log as JSON lines")

	exportCmd.Flags().String("mode", "", "override the project's export mode (separate|merged)")
	exportCmd.Flags().StringP("out", "o", "", "directory downloads are written to")
	rangesCmd.Flags().Float64("duration", 0, "source duration in seconds; ranges are clamped to it")
	serveCmd.Flags().String("addr", "", "listen address (default from config)")
	serveCmd.Flags().String("upload-dir", "", "where uploaded files are stored")
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")

	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(exportCmd, rangesCmd, probeCmd, serveCmd, guiCmd, configCmd)
}

func openSession(cmd *cobra.Command) (*pipeline.Session, error) {
	cfg := config.FromContext(cmd.Context())
	return pipeline.Open(log.Logger, cfg)
}

var exportCmd = &cobra.Command{
	Use:   "export [project file]",
	Short: "Export the timeline described by a project file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		if out, _ := cmd.Flags().GetString("out"); out != "" {
			cfg.OutputDir = out
		}

		project, err := pipeline.LoadProject(args[0])
		if err != nil {
			return err
		}

		session, err := pipeline.Open(log.Logger, cfg)
		if err != nil {
			return err
		}
		defer session.Close()

		if err := session.ApplyProject(cmd.Context(), project); err != nil {
			return err
		}
		if m, _ := cmd.Flags().GetString("mode"); m != "" {
			mode, err := export.ParseMode(m)
			if err != nil {
				return err
			}
			session.SetMode(mode)
		}

		sum := session.Summary()
		log.Info().
			Str("project", args[0]).
			Int("clips", sum.Clips).
			Str("total", util.FormatSeconds(sum.TotalDuration)).
			Str("mode", string(sum.Mode)).
			Msg("exporting")

		logger := logging.WithComponent("export")
		outputs, err := session.Export(cmd.Context(), func(p export.Progress) {
			ev := logger.Info()
			if p.Stage == export.StageWarning {
				ev = logger.Warn()
			}
			ev.Int("percent", p.Percent()).Msg(p.Message)
		})
		for _, o := range outputs {
			fmt.Println(o.Path)
		}
		return err
	},
}

var rangesCmd = &cobra.Command{
	Use:   "ranges [text]",
	Short: "Show the clips a block of pasted timestamps produces",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, _ := cmd.Flags().GetFloat64("duration")
		if duration <= 0 {
			duration = 24 * 60 * 60
		}

		lib := clips.NewLibrary(log.Logger, clips.DefaultWindow)
		src := &sources.Source{DisplayName: "input", Duration: duration}

		for i, c := range lib.IngestTimestampRanges(src, args[0]) {
			fmt.Printf("%d\t%s\t%s\t%s\n", i+1,
				util.FormatClock(c.Start), util.FormatClock(c.End), util.FormatSeconds(c.Duration()))
		}
		return nil
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe [video]",
	Short: "Print the metadata ffprobe reports for a video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		exec, err := ffmpeg.New(log.Logger, ffmpeg.Options{
			BinaryPath: cfg.FFmpeg.BinaryPath,
			ProbePath:  cfg.FFmpeg.ProbePath,
		})
		if err != nil {
			return err
		}

		info, err := exec.ProbeVideo(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("file:     %s\n", info.FilePath)
		fmt.Printf("duration: %s\n", util.FormatClock(info.Duration.Seconds()))
		if info.HasVideo {
			fmt.Printf("video:    %s %dx%d @ %.2f fps\n", info.VideoCodec, info.Width, info.Height, info.FPS)
		}
		if info.HasAudio {
			fmt.Printf("audio:    %s\n", info.AudioCodec)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the editor as a local HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.Server.Addr
		}
		uploadDir, _ := cmd.Flags().GetString("upload-dir")

		session, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer session.Close()

		srv := api.NewServer(api.ServerConfig{
			Addr:        addr,
			Session:     session,
			UploadDir:   uploadDir,
			Logger:      log.Logger,
			StartTime:   time.Now(),
			Version:     version,
			BaseContext: cmd.Context(),
		})

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-cmd.Context().Done():
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}

var guiCmd = &cobra.Command{
	Use:   "gui",
	Short: "Open the desktop editor",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer session.Close()

		a := app.NewWithID("velocityclip")
		w := a.NewWindow("VelocityClip")
		w.Resize(fyne.NewSize(900, 640))

		gui.NewEditor(logging.WithComponent("gui"), session, w)
		w.ShowAndRun()
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := yaml.Marshal(config.FromContext(cmd.Context()))
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration to a file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "config.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if force, _ := cmd.Flags().GetBool("force"); !force && util.FileExists(path) {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("config written")
		return nil
	},
}

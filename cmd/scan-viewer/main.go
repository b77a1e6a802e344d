package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	scanviewer "github.com/menta2k/scan-viewer"
	"github.com/menta2k/scan-viewer/internal/config"
	"github.com/menta2k/scan-viewer/internal/logging"
	"github.com/menta2k/scan-viewer/internal/server"
	"github.com/menta2k/scan-viewer/internal/utils"
	"github.com/menta2k/scan-viewer/pkg/canvas"
	"github.com/menta2k/scan-viewer/pkg/chat"
	"github.com/menta2k/scan-viewer/pkg/llamacpp"
	"github.com/menta2k/scan-viewer/pkg/ollama"
	"github.com/menta2k/scan-viewer/pkg/prediction"
)

func main() {
	var in, resultPath, predictURL, kind, outDir, ext string
	var cfgPath, envFile, logLevel, ask string
	var quality, selectIdx, zoomSteps int
	var frame, serve, version bool
	var addr string

	flag.StringVar(&in, "in", "", "input scan path or http(s) URL (jpg/png/webp/bmp/tiff)")
	flag.StringVar(&resultPath, "result", "", "prediction result JSON file (skips the prediction service)")
	flag.StringVar(&predictURL, "predict-url", "", "prediction service URL (overrides config)")
	flag.StringVar(&kind, "kind", "chest", "scan kind sent to the prediction service: chest|brain")
	flag.StringVar(&outDir, "out", "", "output directory for variants (defaults to config output_dir)")
	flag.StringVar(&ext, "ext", "", "output format for variants: png|jpg|webp")
	flag.IntVar(&quality, "quality", 0, "JPEG/WebP output quality (1-100)")

	flag.BoolVar(&frame, "frame", false, "also write the viewport frame of the selected variant")
	flag.IntVar(&selectIdx, "select", 0, "variant shown in the frame")
	flag.IntVar(&zoomSteps, "zoom", 0, "zoom steps applied before rendering the frame (negative zooms out)")
	flag.StringVar(&ask, "ask", "", "ask the chat backend a question about the summary")

	flag.BoolVar(&serve, "serve", false, "run the HTTP/socket.io viewer server")
	flag.StringVar(&addr, "addr", "", "server listen address (overrides config)")

	flag.StringVar(&cfgPath, "config", config.GetConfigPath(), "configuration file")
	flag.StringVar(&envFile, "env", ".env", "env file with SCANVIEWER_* overrides")
	flag.StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error")
	flag.BoolVar(&version, "version", false, "print version and exit")
	flag.Parse()

	if version {
		fmt.Println(scanviewer.GetVersion())
		return
	}

	cfg, err := config.Load(cfgPath, envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, predictURL, outDir, ext, quality, logLevel, addr)

	log := logging.Setup(logging.Options{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON && serve})
	log = log.With().Str("component", "cli").Logger()

	if serve {
		if err := runServer(cfg); err != nil {
			log.Fatal().Err(err).Msg("server stopped")
		}
		return
	}

	if in == "" {
		log.Fatal().Msgf("usage: %s -in scan.png [-result prediction.json | -predict-url URL] [-out dir] [-ext png|jpg|webp] [-frame] | -serve",
			filepath.Base(os.Args[0]))
	}
	if !canvas.IsURL(in) && !utils.FileExists(in) {
		log.Fatal().Str("in", in).Msg("input scan not found")
	}

	ctx := context.Background()
	data, err := canvas.ReadSource(ctx, in)
	if err != nil {
		log.Fatal().Err(err).Msg("could not read scan")
	}
	log.Debug().Str("size", utils.FormatFileSize(int64(len(data)))).Msg("scan read")

	result, err := obtainResult(ctx, cfg, filepath.Base(in), data, resultPath, kind)
	if err != nil {
		log.Fatal().Err(err).Msg("prediction failed")
	}

	viewerLog := logging.Component("viewer")
	v := scanviewer.NewWithOptions(scanviewer.Options{
		Filter:      cfg.Canvas.Filter,
		StrokeWidth: cfg.Annotate.StrokeWidth,
		Color:       cfg.Annotate.RGBA(),
		Workers:     cfg.Annotate.Workers,
		Logger:      &viewerLog,
	})
	if err := v.Session().Load(ctx, bytes.NewReader(data), result); err != nil {
		log.Fatal().Err(err).Msg("could not load scan")
	}

	snap := v.Session().Snapshot()
	log.Info().Str("finding", snap.Finding).Int("regions", len(snap.Regions)).Msg("scan loaded")
	if snap.Summary != "" {
		log.Info().Msgf("summary: %s", snap.Summary)
	}
	for _, d := range snap.Diagnostics {
		log.Warn().Msg(d)
	}

	export := scanviewer.ExportOptions{
		Dir:     cfg.Output.OutputDir,
		Prefix:  cfg.Output.Prefix,
		Suffix:  cfg.Output.Suffix,
		Format:  cfg.Output.DefaultFormat,
		Quality: cfg.Output.Quality,
	}
	paths, err := v.ExportVariants(in, export)
	if err != nil {
		log.Error().Err(err).Msg("variant export failed")
	}
	for _, p := range paths {
		log.Info().Msgf("wrote %s", p)
	}

	if frame && len(paths) > 0 {
		writeFrame(log, v, cfg, in, export, selectIdx, zoomSteps)
	}

	if ask != "" {
		askChat(ctx, log, cfg, snap.Summary, ask)
	}
}

func applyFlags(cfg *config.Config, predictURL, outDir, ext string, quality int, logLevel, addr string) {
	if predictURL != "" {
		cfg.Prediction.URL = predictURL
	}
	if outDir != "" {
		cfg.Output.OutputDir = outDir
	}
	if ext != "" {
		cfg.Output.DefaultFormat = strings.ToLower(ext)
	}
	if quality > 0 {
		cfg.Output.Quality = quality
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
}

func obtainResult(ctx context.Context, cfg *config.Config, filename string, data []byte, resultPath, kind string) (prediction.Result, error) {
	if resultPath != "" {
		return scanviewer.OpenResult(resultPath)
	}

	client, err := prediction.NewClient(cfg.Prediction.URL, cfg.Prediction.Timeout())
	if err != nil {
		return prediction.Result{}, err
	}

	switch kind {
	case "brain":
		pred, err := client.AnalyzeBrainScan(ctx, filename, bytes.NewReader(data))
		if err != nil {
			return prediction.Result{}, err
		}
		return prediction.AnalysisResult(&prediction.Analysis{Summary: pred.Prediction}), nil
	case "chest":
		return client.AnalyzeChestXray(ctx, filename, bytes.NewReader(data))
	default:
		return prediction.Result{}, fmt.Errorf("unknown scan kind: %s", kind)
	}
}

func writeFrame(log zerolog.Logger, v *scanviewer.Viewer, cfg *config.Config, in string, export scanviewer.ExportOptions, selectIdx, zoomSteps int) {
	s := v.Session()
	if err := s.Select(selectIdx); err != nil {
		log.Error().Err(err).Msg("cannot select variant for frame")
		return
	}
	for i := 0; i < zoomSteps; i++ {
		s.ZoomIn()
	}
	for i := 0; i > zoomSteps; i-- {
		s.ZoomOut()
	}

	path := utils.VariantFilename(in, export.Dir, export.Prefix, "_frame", export.Format, selectIdx)
	if err := v.SaveFrame(path, cfg.Viewport.FrameWidth, cfg.Viewport.FrameHeight, export); err != nil {
		log.Error().Err(err).Msg("frame export failed")
		return
	}
	log.Info().Float64("scale", s.Transform().Scale).Msgf("wrote %s", path)
}

// newChatClient builds the configured chat backend; nil when chat is off
func newChatClient(cfg config.ChatConfig) (chat.Client, error) {
	switch cfg.Backend {
	case "service":
		return chat.NewServiceClient(cfg.URL, cfg.UserID), nil
	case "ollama":
		if cfg.URL == "" {
			cfg.URL = "http://localhost:11434"
		}
		return ollama.NewClient(cfg.URL, cfg.Model)
	case "llamacpp":
		return llamacpp.NewClient(cfg.URL, cfg.Model)
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown chat backend: %s", cfg.Backend)
	}
}

func askChat(ctx context.Context, log zerolog.Logger, cfg *config.Config, summary, question string) {
	client, err := newChatClient(cfg.Chat)
	if err != nil || client == nil {
		log.Error().Err(err).Msg("chat backend unavailable")
		return
	}
	if summary == "" {
		log.Error().Msg("no summary to discuss")
		return
	}

	conv := chat.NewConversation(client)
	opening, err := conv.Start(ctx, summary)
	if err != nil {
		log.Error().Err(err).Msg("chat start failed")
		return
	}
	fmt.Printf("bot: %s\n\n", opening.Text)

	reply, err := conv.Send(ctx, question)
	if err != nil {
		log.Error().Err(err).Msg("chat reply failed")
		return
	}
	fmt.Printf("you: %s\nbot: %s\n", question, reply.Text)
}

func runServer(cfg *config.Config) error {
	predictor, err := prediction.NewClient(cfg.Prediction.URL, cfg.Prediction.Timeout())
	if err != nil {
		return err
	}
	chatClient, err := newChatClient(cfg.Chat)
	if err != nil {
		return err
	}

	v := scanviewer.NewWithOptions(scanviewer.Options{
		Filter:      cfg.Canvas.Filter,
		StrokeWidth: cfg.Annotate.StrokeWidth,
		Color:       cfg.Annotate.RGBA(),
		Workers:     cfg.Annotate.Workers,
		Logger:      ptr(logging.Component("viewer")),
	})

	opts := server.Options{
		Session:   v.Session(),
		Predictor: predictor,
		Server:    cfg.Server,
		Viewport:  cfg.Viewport,
		Logger:    logging.Component("server"),
	}
	if chatClient != nil {
		opts.Chat = chatClient
	}
	srv, err := server.New(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx, cfg.Server.Addr)
}

func ptr[T any](v T) *T { return &v }

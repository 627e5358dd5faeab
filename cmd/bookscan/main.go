// Command bookscan converts a local video into a PDF through the Bookscan
// converter and saves the result as bookscan_output.pdf.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/soham2yu/Bookscan-AI-Frontend/config"
	"github.com/soham2yu/Bookscan-AI-Frontend/form"
	"github.com/soham2yu/Bookscan-AI-Frontend/model"
	"github.com/soham2yu/Bookscan-AI-Frontend/pkg/logger"
	"github.com/soham2yu/Bookscan-AI-Frontend/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bookscan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: bookscan [flags] <video>\n\nFlags:\n")
		fs.PrintDefaults()
	}

	configPath := fs.String("config", "", "YAML configuration file")
	endpoint := fs.String("endpoint", "", "converter endpoint (overrides config and "+config.EndpointEnv+")")
	interval := fs.Float64("interval", 0, "seconds between captured frames (default from config, 2)")
	quality := fs.String("quality", "", "output quality: low, medium or high")
	ocr := fs.Bool("ocr", false, "recognize text on captured pages")
	outDir := fs.String("out", ".", "directory for "+model.OutputFilename)
	verbose := fs.Bool("v", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *endpoint != "" {
		cfg.Converter.Endpoint = *endpoint
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v (use -endpoint or %s)\n", err, config.EndpointEnv)
		return 1
	}

	level := cfg.Log.Level
	if *verbose {
		level = "debug"
	}
	logger.Init(&logger.Config{Level: level, Format: cfg.Log.Format, Output: stderr})

	p := &presenter{out: stdout}
	f := form.New(service.NewConverterService(&cfg.Converter),
		form.WithDefaults(cfg.Converter.DefaultInterval, cfg.Converter.DefaultQuality),
		form.WithOnChange(p.render),
	)

	file, err := form.LocalFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	f.SelectFile(file)
	if *interval != 0 {
		if err := f.SetInterval(*interval); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}
	if *quality != "" {
		f.SetQuality(*quality)
	}
	f.SetOCR(*ocr)

	fmt.Fprintf(stdout, "Video: %s\n", f.FileSummary())

	// Interrupt behaves like the clear button.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			f.Reset()
		case <-done:
		}
	}()

	if err := f.Convert(context.WithoutCancel(ctx)); err != nil {
		if errors.Is(err, form.ErrReset) {
			fmt.Fprintln(stderr, "Canceled")
			return 130
		}
		return 1
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Fprintf(stderr, "Error: creating output directory: %v\n", err)
		return 1
	}
	path, err := f.SaveTo(*outDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Saved: %s\n", path)
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := &config.Config{}
	cfg.Converter.Endpoint = os.Getenv(config.EndpointEnv)
	cfg.SetDefaults()
	return cfg, nil
}

// presenter prints the form state as it changes.
type presenter struct {
	out    io.Writer
	phase  string
	status string
}

func (p *presenter) render(s form.Snapshot) {
	if s.Progress.Label != p.phase && s.Progress.Percent > 0 {
		fmt.Fprintf(p.out, "[%3d%%] %s\n", s.Progress.Percent, s.Progress.Label)
	}
	p.phase = s.Progress.Label

	if s.Status.Message != p.status && s.Status.Kind != form.StatusIdle {
		fmt.Fprintln(p.out, s.Status.Message)
	}
	p.status = s.Status.Message
}

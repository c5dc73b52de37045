package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dunamismax/shrinky/internal/codec"
	"github.com/dunamismax/shrinky/internal/config"
	"github.com/dunamismax/shrinky/internal/logging"
	"github.com/dunamismax/shrinky/internal/pipeline"
	"github.com/dunamismax/shrinky/internal/watch"
)

var version = "dev"

type options struct {
	outputType string
	geometry   string
	force      bool
	delete     bool
	info       bool
	debug      bool
	version    bool
	watchDir   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	logger := logging.New(stderr, "shrinky")

	cfg, err := config.Load()
	if err != nil {
		logger.Printf("load config: %v", err)
		return 1
	}

	opts, files, err := parseFlags(args, cfg.CLI, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if opts.version {
		fmt.Fprintf(stdout, "shrinky %s\n", version)
		return 0
	}

	plan, err := pipeline.ParsePlan(opts.outputType, opts.geometry)
	if err != nil {
		logger.Printf("error: %v", err)
		return 1
	}

	debug := logging.Debug(opts.debug, stderr, "shrinky")
	debug.Printf("non-native codecs available=%t", codec.NonNativeAvailable())
	processor, err := pipeline.NewProcessor(pipeline.WithLogger(debug))
	if err != nil {
		logger.Printf("error: %v", err)
		return 1
	}
	c := &converter{
		processor: processor,
		plan:      plan,
		force:     opts.force,
		delete:    opts.delete,
		stdin:     stdin,
		stdout:    stdout,
		logger:    debug,
	}

	if opts.watchDir != "" {
		if err := runWatch(ctx, c, opts.watchDir, logger); err != nil {
			logger.Printf("error: %v", err)
			return 1
		}
		return 0
	}

	if len(files) != 1 {
		logger.Printf("error: expected exactly one input file, got %d", len(files))
		return 2
	}

	if opts.info {
		err = c.inspect(files[0])
	} else {
		_, err = c.convert(ctx, files[0])
	}
	if err != nil {
		logger.Printf("error: %v", err)
		return 1
	}
	return 0
}

func parseFlags(args []string, defaults config.CLIConfig, stderr io.Writer) (options, []string, error) {
	opts := options{
		outputType: defaults.Type,
		geometry:   defaults.Geometry,
		force:      defaults.Force,
		delete:     defaults.Delete,
		debug:      defaults.Debug,
	}

	fs := flag.NewFlagSet("shrinky", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: shrinky [flags] FILE")
		fmt.Fprintln(stderr, "       shrinky [flags] --watch DIR")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Converts an image to another format, or to the smallest of jpg, png,")
		fmt.Fprintln(stderr, "webp, avif, heic and heif when no type is given.")
		fmt.Fprintln(stderr)
		fs.PrintDefaults()
	}

	for _, name := range []string{"t", "type"} {
		fs.StringVar(&opts.outputType, name, opts.outputType, "output `format` (jpg, png, webp, avif, heic, heif); empty tries all")
	}
	for _, name := range []string{"g", "geometry"} {
		fs.StringVar(&opts.geometry, name, opts.geometry, "resize to `WxH`, Wx or xH")
	}
	for _, name := range []string{"f", "force"} {
		fs.BoolVar(&opts.force, name, opts.force, "overwrite an existing output file")
	}
	for _, name := range []string{"d", "delete"} {
		fs.BoolVar(&opts.delete, name, opts.delete, "offer to delete the original after converting")
	}
	for _, name := range []string{"i", "info"} {
		fs.BoolVar(&opts.info, name, false, "print image information without converting")
	}
	fs.BoolVar(&opts.debug, "debug", opts.debug, "log each conversion step")
	fs.BoolVar(&opts.version, "version", false, "print the version and exit")
	fs.StringVar(&opts.watchDir, "watch", "", "convert images as they appear in `DIR`")

	if err := fs.Parse(args); err != nil {
		return options{}, nil, err
	}
	if opts.watchDir != "" && (opts.delete || opts.info) {
		fmt.Fprintln(stderr, "--watch cannot be combined with --delete or --info")
		return options{}, nil, errors.New("invalid flag combination")
	}
	return opts, fs.Args(), nil
}

func runWatch(ctx context.Context, c *converter, dir string, logger *log.Logger) error {
	w, err := watch.New(dir, c.convert, watch.WithLogger(logger))
	if err != nil {
		return err
	}
	defer w.Close()

	logger.Printf("watching %s plan=%s", dir, c.plan)
	return w.Run(ctx)
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/dunamismax/shrinky/internal/domain"
	"github.com/dunamismax/shrinky/internal/format"
	"github.com/dunamismax/shrinky/internal/pipeline"
	"github.com/dustin/go-humanize"
)

var errOutputExists = errors.New("output file exists")

type converter struct {
	processor *pipeline.Processor
	plan      pipeline.Plan
	force     bool
	delete    bool
	stdin     io.Reader
	stdout    io.Writer
	logger    *log.Logger
}

// convert writes the converted file next to path and returns its location.
func (c *converter) convert(ctx context.Context, path string) (string, error) {
	in, err := format.FromPath(path)
	if err != nil {
		return "", err
	}
	if !c.plan.Auto {
		if err := c.checkOutput(path, pipeline.OutputPath(path, c.plan.Output)); err != nil {
			return "", err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}

	conv, err := c.processor.Convert(ctx, data, in, c.plan)
	if err != nil {
		return "", err
	}
	if conv.Output.Size() == 0 {
		return "", fmt.Errorf("%s encoder produced no data", conv.Output.Format)
	}

	out := pipeline.OutputPath(path, conv.Output.Format)
	if err := c.checkOutput(path, out); err != nil {
		return "", err
	}
	if err := os.WriteFile(out, conv.Output.Data, 0o644); err != nil {
		return "", fmt.Errorf("write output: %w", err)
	}
	c.logger.Printf("wrote %s", out)

	fmt.Fprintf(c.stdout, "%s -> %s (%s %s, %s bytes)\n",
		path, out, conv.Output.Format, conv.Target, formatBytes(int64(conv.Output.Size())))

	if c.delete && out != path && (conv.Output.Format != in || conv.Savings().Shrunk()) {
		if err := c.offerDelete(path, in, out, conv); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (c *converter) checkOutput(input, out string) error {
	if c.force {
		return nil
	}
	if _, err := os.Stat(out); err == nil {
		if out == input {
			return fmt.Errorf("%w: %s is the input file; use --force to overwrite it", errOutputExists, out)
		}
		return fmt.Errorf("%w: %s; use --force to overwrite", errOutputExists, out)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat output: %w", err)
	}
	return nil
}

func (c *converter) offerDelete(path string, in format.Format, out string, conv pipeline.Conversion) error {
	writeSummary(c.stdout, path, in, out, conv.Output.Format, conv.Savings())
	fmt.Fprint(c.stdout, "Delete original file? [y/N]: ")
	if !confirm(c.stdin) {
		return nil
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete original: %w", err)
	}
	fmt.Fprintf(c.stdout, "Deleted %s\n", path)
	return nil
}

func (c *converter) inspect(path string) error {
	in, err := format.FromPath(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	info, err := pipeline.Inspect(data, in, c.plan.Geometry)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "File:       %s\n", path)
	fmt.Fprintf(c.stdout, "Format:     %s\n", info.Format)
	fmt.Fprintf(c.stdout, "Dimensions: %s\n", info.Source)
	if c.plan.Geometry != nil {
		fmt.Fprintf(c.stdout, "Resized:    %s\n", info.Target)
	}
	fmt.Fprintf(c.stdout, "Size:       %s bytes\n", formatBytes(int64(info.Bytes)))
	return nil
}

func writeSummary(w io.Writer, path string, in format.Format, out string, outFormat format.Format, s domain.Savings) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Original: %s (%s, %s bytes)\n", path, in, formatBytes(s.Original))
	fmt.Fprintf(w, "New:      %s (%s, %s bytes)\n", out, outFormat, formatBytes(s.Converted))
	switch {
	case s.Shrunk():
		fmt.Fprintf(w, "Savings:  %s bytes (%.0f%% smaller)\n", formatBytes(s.Saved()), s.Percent())
	case s.Grew():
		fmt.Fprintf(w, "Increase: %s bytes (%.0f%% larger)\n", formatBytes(-s.Saved()), s.Percent())
	}
	fmt.Fprintln(w)
}

// confirm reads one line and accepts only y or yes.
func confirm(r io.Reader) bool {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// formatBytes groups digits in threes: 1234567 -> "1,234,567".
func formatBytes(n int64) string {
	return humanize.Comma(n)
}

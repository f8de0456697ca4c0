package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Brownie44l1/poar-detector/internal/client"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v3"
)

var (
	endpointFlag = &cli.StringFlag{
		Name:  "endpoint",
		Usage: "Prediction URL",
		Value: client.DefaultEndpoint,
	}

	directFlag = &cli.BoolFlag{
		Name:  "direct",
		Usage: "Call the model server directly instead of the API gateway",
	}

	modelFlag = &cli.StringFlag{
		Name:  "model",
		Usage: "Model name used with --direct",
		Value: client.DefaultModelName,
	}

	timeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "Request timeout",
		Value: client.DefaultTimeout,
	}

	formatFlag = &cli.StringFlag{
		Name:  "format",
		Usage: "Response output format [json, yaml]",
		Value: client.FormatJSON,
	}

	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Prints verbose logs (optional, default: false)",
	}
)

func main() {
	initLogging(false)

	cmd := &cli.Command{
		Name:      "predict",
		Usage:     "Send an image to the authenticity detector",
		ArgsUsage: "[image]",
		Flags: []cli.Flag{
			endpointFlag,
			directFlag,
			modelFlag,
			timeoutFlag,
			formatFlag,
			debugFlag,
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("prediction failed", "error", err)
		os.Exit(1)
	}
}

func initLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})))
}

func run(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool(debugFlag.Name) {
		initLogging(true)
	}

	endpoint := cmd.String(endpointFlag.Name)
	if cmd.Bool(directFlag.Name) {
		endpoint = client.DirectEndpoint(cmd.String(modelFlag.Name))
	}

	data, contentType, err := loadImage(cmd.Args().First())
	if err != nil {
		return err
	}

	slog.Info("sending request",
		"endpoint", endpoint,
		"content_type", contentType,
		"size", len(data))

	c := client.New(endpoint, client.WithTimeout(cmd.Duration(timeoutFlag.Name)))
	p, err := c.Predict(ctx, data, contentType)
	if err != nil {
		reportError(err)
		return err
	}

	fmt.Println("Response:")
	if err := client.WriteResponse(os.Stdout, p, cmd.String(formatFlag.Name)); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}
	fmt.Println()
	return client.WriteSummary(os.Stdout, p)
}

// loadImage reads path, or synthesizes a sample PNG when path is empty.
func loadImage(path string) ([]byte, string, error) {
	if path == "" {
		slog.Info("no image given, using generated sample")
		data, err := client.SampleImage()
		if err != nil {
			return nil, "", fmt.Errorf("creating sample image: %w", err)
		}
		return data, "image/png", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading image: %w", err)
	}
	return data, client.ContentTypeFor(path), nil
}

func reportError(err error) {
	var connErr *client.ConnectionError
	var httpErr *client.HTTPError

	switch {
	case errors.As(err, &connErr):
		fmt.Fprintln(os.Stderr, "Connection error. Make sure the services are running:")
		fmt.Fprintln(os.Stderr, "  Go API:       http://localhost:8787")
		fmt.Fprintln(os.Stderr, "  Model server: "+client.DirectBaseURL)
	case errors.As(err, &httpErr):
		fmt.Fprintf(os.Stderr, "%s\nResponse: %s\n", httpErr.Error(), httpErr.Body)
	}
}

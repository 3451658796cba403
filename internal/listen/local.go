package listen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/devicehub/sdk-go/internal/config"
	"github.com/devicehub/sdk-go/pkg/dispatch"
	"github.com/devicehub/sdk-go/pkg/events"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Local dispatches envelopes stored as JSON files. Each file holds one envelope or an array of them.
func Local(path string, gzip bool, logLevel zerolog.Level) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zerolog.SetGlobalLevel(logLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return
	}

	outputs, err := openSinks(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialise sinks")
		return
	}
	defer outputs.close()

	dispatcher := dispatch.New(dispatch.NewSliceSource(), newRouter(nil, nil, outputs.taps...),
		dispatch.WithGzip(gzip || cfg.Gzip),
		dispatch.WithSort(cfg.Sort),
	)

	results := process(ctx, path, dispatcher)
	log.Info().Int("messages", len(results)).Msg("finished")
}

// process dispatches every file under path, one batch per file.
func process(ctx context.Context, path string, dispatcher *dispatch.Dispatcher) []dispatch.Result {
	stat, err := os.Stat(path)
	if err != nil {
		log.Error().Err(err).Msg("failed to stat file")
		return nil
	}

	if stat.IsDir() {
		files, err := os.ReadDir(path)
		if err != nil {
			log.Error().Err(err).Msg("failed to read directory")
			return nil
		}

		var results []dispatch.Result
		for _, f := range files {
			if ctx.Err() != nil {
				break
			}
			if !f.IsDir() && filepath.Ext(f.Name()) != ".json" {
				continue
			}
			results = append(results, process(ctx, filepath.Join(path, f.Name()), dispatcher)...)
		}
		return results
	}

	envs, err := readEnvelopes(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to read envelopes")
		return nil
	}

	results := dispatcher.ProcessBatch(ctx, envs)
	for _, result := range results {
		logResult(result)
	}
	return results
}

func readEnvelopes(path string) ([]events.Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var envs []events.Envelope
		if err := json.Unmarshal(data, &envs); err != nil {
			return nil, fmt.Errorf("invalid envelope array: %w", err)
		}
		return envs, nil
	}

	var env events.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	return []events.Envelope{env}, nil
}

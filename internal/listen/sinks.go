package listen

import (
	"context"
	"fmt"

	"github.com/devicehub/sdk-go/internal/config"
	"github.com/devicehub/sdk-go/internal/sink"
	"github.com/devicehub/sdk-go/pkg/dispatch"
	"github.com/rs/zerolog/log"
)

// sinks are the optional downstream systems every decoded event is forwarded to.
type sinks struct {
	taps    []dispatch.HandlerFunc
	closers []func()
}

// openSinks connects to every sink that has been configured.
func openSinks(ctx context.Context, cfg *config.Config) (*sinks, error) {
	s := &sinks{}

	if len(cfg.KafkaBrokers) > 0 {
		client, err := sink.NewKafkaClient(cfg.KafkaBrokers)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("failed to initialise kafka client: %w", err)
		}
		s.add(sink.NewKafka(client, cfg.KafkaTopic).Handle, client.Close)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("forwarding events to kafka")
	}

	if cfg.RabbitURL != "" {
		channel, err := sink.NewRabbitChannel(cfg.RabbitURL)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("failed to initialise rabbit channel: %w", err)
		}
		if err := sink.DeclareExchange(channel, cfg.RabbitExchange); err != nil {
			channel.Close()
			s.close()
			return nil, err
		}
		s.add(sink.NewRabbit(channel, cfg.RabbitExchange).Handle, func() {
			if err := channel.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close rabbit channel")
			}
		})
		log.Info().Str("exchange", cfg.RabbitExchange).Msg("forwarding events to rabbit")
	}

	if cfg.DatabaseURL != "" {
		pool, err := sink.NewDatabasePool(ctx, cfg.DatabaseURL)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("failed to initialise database: %w", err)
		}
		db := sink.NewPostgres(pool)
		if err := db.EnsureSchema(ctx); err != nil {
			pool.Close()
			s.close()
			return nil, fmt.Errorf("failed to create events table: %w", err)
		}
		s.add(db.Handle, pool.Close)
		log.Info().Msg("recording events in postgres")
	}

	return s, nil
}

func (s *sinks) add(tap dispatch.HandlerFunc, closer func()) {
	s.taps = append(s.taps, tap)
	s.closers = append(s.closers, closer)
}

func (s *sinks) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

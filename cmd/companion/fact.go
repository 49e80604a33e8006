package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/becomeliminal/nim-companion/config"
	"github.com/becomeliminal/nim-companion/engine"
	"github.com/becomeliminal/nim-companion/logger"
	"github.com/becomeliminal/nim-companion/memory/buffer"
)

// errNoFact is returned when the model produced nothing usable.
var errNoFact = errors.New("no fact generated")

type FactCommander struct {
	cfg    *config.Config
	logger *zap.Logger
}

const factLongDesc string = `Generate one daily fact and print it.

The topic is recorded in Redis so later runs avoid repeating it.`

const factShortDesc string = "Generate a daily fact"

func NewFactCmd() *cobra.Command {
	cmder := &FactCommander{}

	cmd := &cobra.Command{
		Use:   "fact",
		Short: factShortDesc,
		Long:  factLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.cfg, err = loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return cmder.run(ctx, cmd.OutOrStdout())
		},
	}

	return cmd
}

func (c *FactCommander) run(ctx context.Context, out io.Writer) error {
	if c.cfg.Anthropic.APIKey == "" {
		return errors.New("ANTHROPIC_API_KEY is required")
	}

	c.logger = logger.New(c.cfg.Debug)
	defer c.logger.Sync()

	redisClient, err := buffer.Connect(buffer.RedisOptions{URL: c.cfg.Redis.URL})
	if err != nil {
		return err
	}
	defer redisClient.Close()

	gen := engine.NewAnthropicGenerator(newAnthropicClient(c.cfg.Anthropic), c.cfg.Anthropic.FactModel,
		engine.WithTemperature(0.85))
	facts := engine.NewFactGenerator(gen, buffer.NewTopicLog(redisClient, 0), c.cfg.Language, c.logger)

	return printFact(out, facts.Generate(ctx))
}

func printFact(out io.Writer, fact *engine.Fact) error {
	if fact == nil {
		return errNoFact
	}
	_, err := fmt.Fprintf(out, "%s\n\n%s\n", fact.Topic, fact.Content)
	return err
}

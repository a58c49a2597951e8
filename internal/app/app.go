package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/therealbobo/sheetpoll/internal/cmdinfo"
	"github.com/therealbobo/sheetpoll/internal/config"
	"github.com/therealbobo/sheetpoll/internal/source"
	"github.com/therealbobo/sheetpoll/internal/timestamp"
	"github.com/therealbobo/sheetpoll/internal/watermark"

	"github.com/rs/zerolog/log"
)

type RunOptions struct {
	// Out receives one JSON document per emitted record. Defaults to stdout.
	Out io.Writer
	// MaxRecords stops the loop after that many records. Zero runs until ctx is done.
	MaxRecords int
}

func openStore(conf config.Config) (watermark.Backend, error) {
	return watermark.Open(conf.StateStore, conf.StatePath, conf.StateKey)
}

// sleepUntil waits for d unless ctx ends first.
func sleepUntil(ctx context.Context) func(time.Duration) {
	return func(d time.Duration) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
	}
}

func newSource(ctx context.Context, conf config.Config, store watermark.Store) *source.Source {
	fetcher := &cmdinfo.CmdInfo{
		Name:        source.Kind,
		Interpreter: conf.Interpreter,
		Script:      conf.ScriptPath,
		Args:        conf.Args,
		WorkDir:     conf.WorkDir,
		Env:         conf.Env,
		MaxOutput:   conf.MaxOutputBytes,
	}
	return source.New(source.Options{
		AgentID:        conf.AgentID,
		TimestampField: conf.TimestampField,
		Layout:         timestamp.NewLayout(conf.TimestampFormat, conf.Location),
		Selector:       conf.RecordsSelector,
		PollInterval:   conf.PollInterval,
		Sleep:          sleepUntil(ctx),
	}, fetcher, store)
}

// Run drives a source built from confContent until ctx is done or
// MaxRecords records were written. Failed cycles are retried after the
// poll interval.
func Run(ctx context.Context, confContent []byte, opts RunOptions) error {
	conf, err := config.Parse(confContent)
	if err != nil {
		return err
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	store, err := openStore(conf)
	if err != nil {
		return err
	}
	defer store.Close()

	src := newSource(ctx, conf, store)
	pause := sleepUntil(ctx)
	enc := json.NewEncoder(opts.Out)

	log.Info().Str("kind", src.Kind()).Str("script", conf.ScriptPath).
		Dur("poll interval", conf.PollInterval).Msg("source started")

	sent := 0
	for ctx.Err() == nil {
		rec, err := src.GetOutput()
		if err != nil {
			log.Warn().Err(err).Dur("retry in", conf.PollInterval).Msg("cycle failed")
			pause(conf.PollInterval)
			continue
		}
		if rec == nil {
			continue
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("writing record: %w", err)
		}
		sent++
		if opts.MaxRecords > 0 && sent >= opts.MaxRecords {
			break
		}
	}

	log.Info().Int("records", sent).Str("watermark", src.Watermark()).Msg("source stopped")
	return nil
}

// ShowWatermark returns the persisted watermark for the configured store.
func ShowWatermark(confContent []byte) (string, bool, error) {
	conf, err := config.Parse(confContent)
	if err != nil {
		return "", false, err
	}
	store, err := openStore(conf)
	if err != nil {
		return "", false, err
	}
	defer store.Close()
	return store.Load()
}

// ResetWatermark clears the persisted watermark.
func ResetWatermark(confContent []byte) error {
	conf, err := config.Parse(confContent)
	if err != nil {
		return err
	}
	store, err := openStore(conf)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Reset(); err != nil {
		return err
	}
	log.Info().Str("store", conf.StateStore).Str("path", conf.StatePath).Msg("watermark reset")
	return nil
}

package source

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/therealbobo/sheetpoll/internal/ingestion"
	"github.com/therealbobo/sheetpoll/internal/timestamp"
	"github.com/therealbobo/sheetpoll/internal/watermark"
)

const (
	Kind       = "gsheet"
	AgentIDKey = "agent_id"
)

// Fetcher returns one raw batch from the producer.
type Fetcher interface {
	Fetch() ([]byte, error)
}

type Options struct {
	AgentID        string
	TimestampField string
	Layout         timestamp.Layout
	Selector       string
	PollInterval   time.Duration
	// Sleep paces fetches. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Source pulls batches from a Fetcher and hands out the records newer than
// the persisted watermark, one per GetOutput call.
//
// Delivery is at-least-once: the watermark is saved right after a record is
// chosen, so a crash or a failed save before that point re-delivers the
// record on restart.
type Source struct {
	mu       sync.Mutex
	opts     Options
	fetcher  Fetcher
	ingestor ingestion.Ingestor
	store    watermark.Store
	queue    pendingQueue
	last     string
}

// New builds a Source and loads the watermark from store. A store that
// cannot be read is treated as empty so the next batch is ingested whole.
func New(opts Options, fetcher Fetcher, store watermark.Store) *Source {
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	s := &Source{
		opts:    opts,
		fetcher: fetcher,
		store:   store,
		ingestor: ingestion.NewJsonIngestor(ingestion.JsonIngestorConfig{
			Selector:       opts.Selector,
			TimestampField: opts.TimestampField,
			Layout:         opts.Layout,
		}),
	}

	log.Debug().Str("format", opts.Layout.Format).Str("field", opts.TimestampField).
		Dur("poll interval", opts.PollInterval).Msg("source configured")

	value, found, err := store.Load()
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("cannot load watermark, starting from scratch")
	case !found:
		log.Info().Msg("no watermark found, first run")
	default:
		s.last = value
		log.Info().Str("watermark", value).Msg("watermark loaded")
	}
	return s
}

func (s *Source) Kind() string { return Kind }

func (s *Source) Info() map[string]string {
	return map[string]string{
		"name":        "Google Sheets Source",
		"description": "Reads data from a Google Sheet via an external script",
	}
}

// Watermark returns the timestamp of the last emitted record.
func (s *Source) Watermark() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Pending returns the number of records waiting in the queue.
func (s *Source) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.len()
}

// GetOutput returns the next new record. A nil record with a nil error means
// the producer had nothing new and the call already slept for the poll
// interval. On error the queue and watermark are untouched and the call may
// be retried.
func (s *Source) GetOutput() (ingestion.Record, error) {
	rec, drained, err := s.next()
	if drained {
		s.opts.Sleep(s.opts.PollInterval)
	}
	return rec, err
}

// next runs one step of the cycle under the lock. drained reports that the
// queue is empty afterwards and the caller must pace the next fetch.
func (s *Source) next() (ingestion.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue.isEmpty() {
		raw, err := s.fetcher.Fetch()
		if err != nil {
			log.Error().Err(err).Msg("fetch failed")
			return nil, false, err
		}
		// filtering uses the watermark as of the start of the cycle
		newer, err := s.ingestor.ParseAndFilter(raw, s.last)
		if err != nil {
			log.Error().Err(err).Msg("cannot load batch")
			return nil, false, err
		}
		if len(newer) == 0 {
			log.Debug().Msg("no new records")
			return nil, true, nil
		}
		s.queue.pushBatch(newer)
	}

	rec, _ := s.queue.popFront()
	out := make(ingestion.Record, len(rec)+1)
	for k, v := range rec {
		out[k] = v
	}
	if s.opts.AgentID != "" {
		out[AgentIDKey] = s.opts.AgentID
	}

	// queued records always carry a string timestamp
	ts, _, _ := ingestion.TimestampOf(rec, s.opts.TimestampField)
	s.last = ts
	if err := s.store.Save(ts); err != nil {
		log.Error().Err(err).Str("watermark", ts).Msg("cannot save watermark, record may be re-delivered after restart")
	} else {
		log.Debug().Str("watermark", ts).Msg("watermark saved")
	}

	if e := log.Debug(); e.Enabled() {
		dumpRecord(e, out)
	}

	if s.queue.isEmpty() {
		log.Debug().Msg("last queued record sent")
		return out, true, nil
	}
	return out, false, nil
}

func dumpRecord(e *zerolog.Event, r ingestion.Record) {
	b, err := json.Marshal(r)
	if err != nil {
		e.Err(err).Msg("sending record")
		return
	}
	e.RawJSON("record", b).Msg("sending record")
}

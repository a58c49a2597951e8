package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	jmespath "github.com/jmespath-community/go-jmespath"
	"github.com/rs/zerolog/log"

	"github.com/therealbobo/sheetpoll/internal/timestamp"
)

// ErrParse is returned when a batch is not valid structured data.
var ErrParse = errors.New("malformed batch")

type JsonIngestorConfig struct {
	// Selector is an optional JMESPath expression locating the records
	// inside the producer document.
	Selector       string
	TimestampField string
	Layout         timestamp.Layout
}

type jsonIngestor struct {
	config JsonIngestorConfig
}

func NewJsonIngestor(cfg JsonIngestorConfig) *jsonIngestor {
	return &jsonIngestor{config: cfg}
}

func decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data any
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after document")
	}
	return data, nil
}

// Parse turns a producer document into records. The document may be:
//  1. [{...},{...}] -> one record per element
//  2. {}            -> no records
//  3. {...}         -> a single record
//
// Any element that is not an object rejects the whole batch.
func (s *jsonIngestor) Parse(raw []byte) ([]Record, error) {
	data, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	if s.config.Selector != "" {
		data, err = jmespath.Search(s.config.Selector, data)
		if err != nil {
			return nil, fmt.Errorf("%w: selector %q: %v", ErrParse, s.config.Selector, err)
		}
	}

	switch v := data.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if len(v) == 0 {
			return nil, nil
		}
		return []Record{v}, nil
	case []any:
		records := make([]Record, 0, len(v))
		for i, e := range v {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: element %d is %T, not an object", ErrParse, i, e)
			}
			records = append(records, m)
		}
		return records, nil
	default:
		return nil, fmt.Errorf("%w: document is %T, not a list of objects", ErrParse, data)
	}
}

// Filter keeps, in order, the records whose timestamp field is later than
// watermark. Records without the field are skipped. A timestamp that does
// not decode fails the whole batch.
func (s *jsonIngestor) Filter(records []Record, watermark string) ([]Record, error) {
	var newer []Record
	for _, r := range records {
		ts, ok, err := TimestampOf(r, s.config.TimestampField)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		isNewer, err := s.config.Layout.IsNewer(ts, watermark)
		if err != nil {
			log.Error().Err(err).Str("field", s.config.TimestampField).Msg("cannot compare timestamps")
			return nil, err
		}
		if isNewer {
			newer = append(newer, r)
		}
	}
	return newer, nil
}

// ParseAndFilter runs Parse then Filter against a fixed watermark.
func (s *jsonIngestor) ParseAndFilter(raw []byte, watermark string) ([]Record, error) {
	records, err := s.Parse(raw)
	if err != nil {
		return nil, err
	}
	newer, err := s.Filter(records, watermark)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("parsed", len(records)).Int("newer", len(newer)).Msg("batch loaded")
	return newer, nil
}

// TimestampOf returns the text of field in r. A present but non-string
// value is reported as a format error.
func TimestampOf(r Record, field string) (string, bool, error) {
	v, ok := r[field]
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, fmt.Errorf("%w: field %q holds %T, not a string", timestamp.ErrFormat, field, v)
	}
	return s, true, nil
}

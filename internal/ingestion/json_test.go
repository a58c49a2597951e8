package ingestion

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/therealbobo/sheetpoll/internal/timestamp"
)

const formResponses string = `
[
  {"Horodateur": "01/01/2024 10:00:00", "v": 1},
  {"Horodateur": "01/01/2024 09:00:00", "v": 2},
  {"Name": "no timestamp", "v": 3},
  {"Horodateur": "02/01/2024 08:15:00", "v": 4}
]
`

func newTestIngestor(selector string) *jsonIngestor {
	return NewJsonIngestor(JsonIngestorConfig{
		Selector:       selector,
		TimestampField: "Horodateur",
		Layout:         timestamp.NewLayout("%d/%m/%Y %H:%M:%S", time.UTC),
	})
}

func Test_jsonIngestor_Parse(t *testing.T) {
	tests := []struct {
		name     string
		selector string
		raw      string
		want     []Record
		wantErr  bool
	}{
		{
			name: "list of objects",
			raw:  `[{"a": 1}, {"b": "x"}]`,
			want: []Record{
				{"a": json.Number("1")},
				{"b": "x"},
			},
		},
		{
			name: "empty document",
			raw:  `{}`,
			want: nil,
		},
		{
			name: "empty list",
			raw:  `[]`,
			want: []Record{},
		},
		{
			name: "single object",
			raw:  `{"Horodateur": "01/01/2024 10:00:00"}`,
			want: []Record{{"Horodateur": "01/01/2024 10:00:00"}},
		},
		{
			name:     "selector",
			selector: "data.rows",
			raw:      `{"data": {"rows": [{"a": 1.5}]}}`,
			want:     []Record{{"a": json.Number("1.5")}},
		},
		{
			name:     "selector without match",
			selector: "data.rows",
			raw:      `{"other": true}`,
			want:     nil,
		},
		{
			name:    "malformed",
			raw:     `[{"a": 1},`,
			wantErr: true,
		},
		{
			name:    "truncated output",
			raw:     `[{"Horodateur": "01/01/20`,
			wantErr: true,
		},
		{
			name:    "element is not an object",
			raw:     `[{"a": 1}, 2]`,
			wantErr: true,
		},
		{
			name:    "scalar document",
			raw:     `"hello"`,
			wantErr: true,
		},
		{
			name:    "trailing garbage",
			raw:     `[] []`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		s := newTestIngestor(tt.selector)
		got, err := s.Parse([]byte(tt.raw))
		if (err != nil) != tt.wantErr {
			t.Errorf("%q. jsonIngestor.Parse() error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrParse) {
			t.Errorf("%q. jsonIngestor.Parse() error = %v, want ErrParse", tt.name, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%q. jsonIngestor.Parse() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func Test_jsonIngestor_ParseAndFilter(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		watermark string
		want      []string
		wantErr   error
	}{
		{
			name:      "bootstrap keeps everything with a timestamp in order",
			raw:       formResponses,
			watermark: "",
			want:      []string{"01/01/2024 10:00:00", "01/01/2024 09:00:00", "02/01/2024 08:15:00"},
		},
		{
			name:      "only records after the watermark",
			raw:       formResponses,
			watermark: "01/01/2024 09:30:00",
			want:      []string{"01/01/2024 10:00:00", "02/01/2024 08:15:00"},
		},
		{
			name:      "nothing newer",
			raw:       formResponses,
			watermark: "02/01/2024 08:15:00",
			want:      nil,
		},
		{
			name:      "unparseable timestamp fails the batch",
			raw:       `[{"Horodateur": "01/01/2024 10:00:00"}, {"Horodateur": "soon"}]`,
			watermark: "01/01/2024 09:30:00",
			wantErr:   timestamp.ErrFormat,
		},
		{
			name:      "non-string timestamp fails the batch",
			raw:       `[{"Horodateur": 1704099600}]`,
			watermark: "",
			wantErr:   timestamp.ErrFormat,
		},
		{
			name:      "malformed watermark fails the batch",
			raw:       formResponses,
			watermark: "last tuesday",
			wantErr:   timestamp.ErrFormat,
		},
		{
			name:    "malformed batch",
			raw:     `not json`,
			wantErr: ErrParse,
		},
	}
	for _, tt := range tests {
		s := newTestIngestor("")
		got, err := s.ParseAndFilter([]byte(tt.raw), tt.watermark)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("%q. jsonIngestor.ParseAndFilter() error = %v, want %v", tt.name, err, tt.wantErr)
			continue
		}
		var stamps []string
		for _, r := range got {
			stamps = append(stamps, r["Horodateur"].(string))
		}
		if !reflect.DeepEqual(stamps, tt.want) {
			t.Errorf("%q. jsonIngestor.ParseAndFilter() = %v, want %v", tt.name, stamps, tt.want)
		}
	}
}

func Test_jsonIngestor_FilterIsIdempotent(t *testing.T) {
	s := newTestIngestor("")
	records, err := s.Parse([]byte(formResponses))
	if err != nil {
		t.Fatal(err)
	}
	first, err := s.Filter(records, "")
	if err != nil {
		t.Fatal(err)
	}
	// the latest of the batch, as the watermark would be after draining
	again, err := s.Filter(records, "02/01/2024 08:15:00")
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 3 || len(again) != 0 {
		t.Errorf("jsonIngestor.Filter() = %d then %d records, want 3 then 0", len(first), len(again))
	}
}

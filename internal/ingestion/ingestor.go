package ingestion

// Record is one structured row produced by the fetcher.
type Record map[string]any

type Ingestor interface {
	Parse(raw []byte) ([]Record, error)
	Filter(records []Record, watermark string) ([]Record, error)
	ParseAndFilter(raw []byte, watermark string) ([]Record, error)
}

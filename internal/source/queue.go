package source

import "github.com/therealbobo/sheetpoll/internal/ingestion"

// pendingQueue is a FIFO of records from one fetch cycle.
type pendingQueue struct {
	records []ingestion.Record
}

func (q *pendingQueue) pushBatch(records []ingestion.Record) {
	q.records = append(q.records, records...)
}

func (q *pendingQueue) popFront() (ingestion.Record, bool) {
	if len(q.records) == 0 {
		return nil, false
	}
	r := q.records[0]
	q.records[0] = nil
	q.records = q.records[1:]
	if len(q.records) == 0 {
		q.records = nil
	}
	return r, true
}

func (q *pendingQueue) isEmpty() bool {
	return len(q.records) == 0
}

func (q *pendingQueue) len() int {
	return len(q.records)
}

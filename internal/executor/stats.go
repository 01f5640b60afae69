package executor

import "sync"

// Stats is a snapshot of copier counters plus queue and tracker gauges.
type Stats struct {
	TradesDetected   int64 `json:"trades_detected"`
	SuccessfulTrades int64 `json:"successful_trades"`
	FailedTrades     int64 `json:"failed_trades"`
	RejectedTrades   int64 `json:"rejected_trades"`
	SkippedTrades    int64 `json:"skipped_trades"`
	SuccessfulOrders int64 `json:"successful_orders"`
	FailedOrders     int64 `json:"failed_orders"`
	RejectedOrders   int64 `json:"rejected_orders"`
	OrdersCanceled   int64 `json:"orders_canceled"`
	RetriedOrders    int64 `json:"retried_orders"`

	RetryQueueSize int     `json:"retry_queue_size"`
	DeadLetterSize int     `json:"dead_letter_size"`
	CircuitOpen    bool    `json:"circuit_open"`
	TrackedOrders  int     `json:"tracked_orders"`
	OpenOrders     int     `json:"open_orders"`
	FillRate       float64 `json:"fill_rate"`
}

type counter int

const (
	cntTradesDetected counter = iota
	cntSuccessfulTrades
	cntFailedTrades
	cntRejectedTrades
	cntSkippedTrades
	cntSuccessfulOrders
	cntFailedOrders
	cntRejectedOrders
	cntOrdersCanceled
	cntRetriedOrders
	numCounters
)

// counters is owned by one Copier.
type counters struct {
	mu sync.Mutex
	v  [numCounters]int64
}

func (c *counters) add(k counter, n int64) {
	c.mu.Lock()
	c.v[k] += n
	c.mu.Unlock()
}

func (c *counters) inc(k counter) { c.add(k, 1) }

func (c *counters) reset() {
	c.mu.Lock()
	c.v = [numCounters]int64{}
	c.mu.Unlock()
}

func (c *counters) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		TradesDetected:   c.v[cntTradesDetected],
		SuccessfulTrades: c.v[cntSuccessfulTrades],
		FailedTrades:     c.v[cntFailedTrades],
		RejectedTrades:   c.v[cntRejectedTrades],
		SkippedTrades:    c.v[cntSkippedTrades],
		SuccessfulOrders: c.v[cntSuccessfulOrders],
		FailedOrders:     c.v[cntFailedOrders],
		RejectedOrders:   c.v[cntRejectedOrders],
		OrdersCanceled:   c.v[cntOrdersCanceled],
		RetriedOrders:    c.v[cntRetriedOrders],
	}
}

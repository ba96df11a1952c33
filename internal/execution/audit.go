package execution

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"

	"trader_go/internal/domain"
)

// AuditEvent is the event kind recorded in the order audit log.
type AuditEvent string

const (
	AuditSent     AuditEvent = "sent"
	AuditAcked    AuditEvent = "acked"
	AuditPartial  AuditEvent = "partial"
	AuditFilled   AuditEvent = "filled"
	AuditCanceled AuditEvent = "canceled"
	AuditRejected AuditEvent = "rejected"
)

var auditHeader = []string{
	"ts", "event", "client_id", "exchange_id", "symbol", "side",
	"qty", "filled_qty", "price", "fill_price", "reason",
}

// AuditLog is the append-only CSV order audit trail. Every order lifecycle
// event is one row; the file is flushed per write so a crash loses at most
// the in-flight row.
type AuditLog struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// NewAuditLog opens (or creates) the audit CSV at path, writing the header
// only when the file is empty.
func NewAuditLog(path string) (*AuditLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	a := &AuditLog{f: f, w: csv.NewWriter(f)}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		if err := a.w.Write(auditHeader); err != nil {
			f.Close()
			return nil, err
		}
		a.w.Flush()
	}
	return a, nil
}

// Record appends one order event row.
func (a *AuditLog) Record(
	ts time.Time,
	event AuditEvent,
	clientID, exchangeID, symbol string,
	side domain.Side,
	qty, filledQty int64,
	price, fillPrice float64,
	reason string,
) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	row := []string{
		ts.UTC().Format(time.RFC3339Nano),
		string(event),
		clientID,
		exchangeID,
		symbol,
		string(side),
		fmt.Sprintf("%d", qty),
		fmt.Sprintf("%d", filledQty),
		formatPrice(price),
		formatPrice(fillPrice),
		reason,
	}
	if err := a.w.Write(row); err != nil {
		return err
	}
	a.w.Flush()
	return a.w.Error()
}

// RecordReport appends the row matching a fill report outcome.
func (a *AuditLog) RecordReport(ts time.Time, order *domain.Order, report *domain.FillReport) error {
	var event AuditEvent
	switch report.Status {
	case domain.FillStatusFilled:
		event = AuditFilled
	case domain.FillStatusPartiallyFilled:
		event = AuditPartial
	case domain.FillStatusCanceled:
		event = AuditCanceled
	default:
		event = AuditRejected
	}
	return a.Record(ts, event, order.ID, "", order.Symbol, order.Side,
		order.Qty, report.FilledQty, order.LimitPrice, report.FillPrice, report.Reason)
}

// Close flushes and closes the underlying file.
func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.w.Flush()
	return a.f.Close()
}

func formatPrice(p float64) string {
	if p == 0 {
		return ""
	}
	return fmt.Sprintf("%.4f", p)
}

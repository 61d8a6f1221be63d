// Package export streams snapshots to a writer as JSON lines or CSV rows.
package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Dicklesworthstone/zek/internal/broker"
	"github.com/Dicklesworthstone/zek/internal/model"
)

// Supported formats.
const (
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
)

var ErrUnknownFormat = errors.New("unknown export format")

// Writer encodes snapshots.
type Writer interface {
	Write(s *model.Snapshot) error
	Flush() error
}

// New returns a writer for format ("jsonl", "json" or "csv").
func New(format string, w io.Writer) (Writer, error) {
	switch strings.ToLower(format) {
	case FormatJSONL, "json", "ndjson":
		return NewJSONL(w), nil
	case FormatCSV:
		return NewCSV(w), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// JSONL writes one snapshot object per line.
type JSONL struct {
	buf *bufio.Writer
	enc *json.Encoder
}

func NewJSONL(w io.Writer) *JSONL {
	buf := bufio.NewWriter(w)
	return &JSONL{buf: buf, enc: json.NewEncoder(buf)}
}

func (j *JSONL) Write(s *model.Snapshot) error { return j.enc.Encode(s) }

func (j *JSONL) Flush() error { return j.buf.Flush() }

// CSVHeader lists the scalar columns written by CSV. Network and disk rates
// are summed across interfaces and volumes.
var CSVHeader = []string{
	"captured_at",
	"cpu_total_percent",
	"memory_used_bytes",
	"memory_total_bytes",
	"swap_used_bytes",
	"swap_total_bytes",
	"load1",
	"load5",
	"load15",
	"process_count",
	"net_rx_bps",
	"net_tx_bps",
	"disk_read_bps",
	"disk_write_bps",
}

// CSV writes a header followed by one row per snapshot.
type CSV struct {
	w           *csv.Writer
	wroteHeader bool
}

func NewCSV(w io.Writer) *CSV { return &CSV{w: csv.NewWriter(w)} }

func (c *CSV) Write(s *model.Snapshot) error {
	if !c.wroteHeader {
		if err := c.w.Write(CSVHeader); err != nil {
			return err
		}
		c.wroteHeader = true
	}
	return c.w.Write(Row(s))
}

func (c *CSV) Flush() error {
	c.w.Flush()
	return c.w.Error()
}

// Row renders s in CSVHeader order.
func Row(s *model.Snapshot) []string {
	var rx, tx, rd, wr float64
	for _, n := range s.Interfaces {
		rx += n.RxThroughputBps
		tx += n.TxThroughputBps
	}
	for _, d := range s.Volumes {
		rd += d.ReadThroughputBps
		wr += d.WriteThroughputBps
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	u := func(v uint64) string { return strconv.FormatUint(v, 10) }
	return []string{
		strconv.FormatInt(s.CapturedAt, 10),
		f(s.CPUTotalPercent),
		u(s.MemoryUsedBytes),
		u(s.MemoryTotalBytes),
		u(s.SwapUsedBytes),
		u(s.SwapTotalBytes),
		f(s.Load1),
		f(s.Load5),
		f(s.Load15),
		strconv.Itoa(s.ProcessCount),
		f(rx),
		f(tx),
		f(rd),
		f(wr),
	}
}

// Stream writes every snapshot from sub until ctx is done, the subscription
// closes or limit snapshots were written (limit <= 0 means no limit). Each
// snapshot is flushed as soon as it is written.
func Stream(ctx context.Context, sub *broker.Subscription, w Writer, limit int) (int, error) {
	n := 0
	for limit <= 0 || n < limit {
		s, ok := sub.Recv(ctx)
		if !ok {
			break
		}
		if err := w.Write(s); err != nil {
			return n, fmt.Errorf("write snapshot: %w", err)
		}
		if err := w.Flush(); err != nil {
			return n, fmt.Errorf("flush: %w", err)
		}
		n++
	}
	return n, nil
}

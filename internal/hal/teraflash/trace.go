package teraflash

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"codeberg.org/teralab/teractl/internal/data"
	"codeberg.org/teralab/teractl/internal/errors"
)

const (
	TimeColumn = "time_abs_ps"
)

// SignalColumn returns the normalized signal column name of a channel.
func SignalColumn(ch int) string {
	return fmt.Sprintf("signal%d_na", ch)
}

// AcquireTrace opens a TCP connection to the trace port and reads one
// length-prefixed CSV trace. A short read fails the call; no partial trace
// is returned.
func (c *Client) AcquireTrace(ctx context.Context) (*data.Trace, error) {
	c.log.Info().Msg("Acquiring synchronous trace")

	c.mu.Lock()
	connected := c.connectedLocked()
	host := c.host
	c.mu.Unlock()

	if !connected {
		c.log.Error().Msg("Acquire requested while not connected")
		return nil, c.errFactory.WithData(errors.ErrNotConnected, "acquire trace")
	}

	running, err := c.IsRunning()
	switch {
	case err != nil:
		c.log.Warn().Err(err).Msg("Could not read RUN state before acquisition")
	case !running:
		c.log.Warn().Msg("Acquiring trace while RUN state is OFF")
	}

	dialer := net.Dialer{Timeout: c.opts.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(c.opts.tracePort)))
	if err != nil {
		return nil, c.errFactory.Wrap(errors.ErrConnectionFailed, err).WithData("trace port")
	}
	defer func() {
		conn.Close()
		c.log.Debug().Msg("TCP socket closed")
	}()

	if err := conn.SetDeadline(time.Now().Add(c.opts.timeout)); err != nil {
		return nil, c.errFactory.Wrap(errors.ErrOperationFailed, err)
	}

	payload, err := c.readFrame(conn)
	if err != nil {
		return nil, err
	}

	trace, err := c.parseTrace(payload)
	if err != nil {
		return nil, err
	}

	c.log.Info().Int("samples", trace.Len()).Msg("Trace acquisition complete")
	return trace, nil
}

// readFrame reads a 6-digit ASCII length followed by exactly that many bytes.
func (c *Client) readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, lengthDigits)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, c.readError(err, "length header")
	}

	for _, b := range header {
		if b < '0' || b > '9' {
			return nil, c.errFactory.WithData(ErrInvalidLength, string(header))
		}
	}
	length, err := strconv.Atoi(string(header))
	if err != nil {
		return nil, c.errFactory.Wrap(ErrInvalidLength, err).WithData(string(header))
	}
	if length <= 0 || length > maxPayloadLength {
		return nil, c.errFactory.WithData(ErrInvalidLength, length)
	}
	c.log.Debug().Int("length", length).Msg("TCP payload length")

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		c.log.Error().Err(err).Int("length", length).Msg("TCP connection closed prematurely")
		return nil, c.readError(err, "payload")
	}

	return payload, nil
}

func (c *Client) readError(err error, what string) error {
	switch {
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		return c.errFactory.Wrap(errors.ErrConnectionClosed, err).WithData(what)
	case isTimeout(err):
		return c.errFactory.Wrap(errors.ErrTimeout, err).WithData(what)
	default:
		return c.errFactory.Wrap(errors.ErrOperationFailed, err).WithData(what)
	}
}

func normalizeHeader(h string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(h)), "/", "_")
}

// parseTrace decodes a header row plus numeric rows into columns keyed by
// normalized header.
func (c *Client) parseTrace(payload []byte) (*data.Trace, error) {
	if !utf8.Valid(payload) {
		return nil, c.errFactory.WithData(ErrMalformedTrace, "payload is not UTF-8")
	}

	r := csv.NewReader(strings.NewReader(strings.TrimSpace(string(payload))))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, c.errFactory.Wrap(ErrMalformedTrace, err)
	}
	if len(records) == 0 {
		return nil, c.errFactory.WithData(ErrMalformedTrace, "missing header")
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}
	c.log.Debug().Strs("headers", header).Msg("Parsed headers")

	rows := records[1:]
	columns := make([][]float64, len(header))
	for i := range columns {
		columns[i] = make([]float64, len(rows))
	}

	for n, row := range rows {
		if len(row) != len(header) {
			c.log.Error().Int("header", len(header)).Int("data", len(row)).Msg("Column mismatch")
			return nil, c.errFactory.WithData(ErrColumnMismatch,
				fmt.Sprintf("row %d: header has %d columns, data has %d", n+1, len(header), len(row)))
		}
		for i, field := range row {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, c.errFactory.Wrap(ErrMalformedTrace, err).WithData(fmt.Sprintf("row %d column %q", n+1, header[i]))
			}
			columns[i][n] = v
		}
	}

	trace := &data.Trace{
		Columns:   make(map[string][]float64, len(header)),
		RawHeader: header,
	}
	for i, name := range header {
		trace.Columns[normalizeHeader(name)] = columns[i]
	}

	c.log.Debug().Int("samples", len(rows)).Msg("Trace parsed")
	return trace, nil
}

// Waveform extracts the time axis and the active channel's signal.
func (c *Client) Waveform(trace *data.Trace) (*data.Waveform, error) {
	timeCol, ok := trace.Column(TimeColumn)
	if !ok {
		return nil, c.errFactory.WithData(ErrMissingColumn, TimeColumn)
	}
	name := SignalColumn(c.Channel())
	signal, ok := trace.Column(name)
	if !ok {
		return nil, c.errFactory.WithData(ErrMissingColumn, name)
	}
	return data.NewWaveform(timeCol, signal)
}

// Acquire reads one trace and returns the active channel's waveform.
func (c *Client) Acquire(ctx context.Context) (*data.Waveform, error) {
	trace, err := c.AcquireTrace(ctx)
	if err != nil {
		return nil, err
	}
	return c.Waveform(trace)
}

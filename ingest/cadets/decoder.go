package cadets

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/google/uuid"

	"github.com/sysprov/pvm/errors"
	"github.com/sysprov/pvm/ingest"
)

// maxRecordSize bounds a single trace line. CADETS cmdlines can be large
// but a multi-megabyte record is damage, not data.
const maxRecordSize = 4 << 20

// Decoder reads the CADETS line-oriented JSON framing: the trace is one
// JSON array with a single record per line, where continuation lines carry
// a leading comma and the array brackets sit on lines of their own.
type Decoder struct {
	br *bufio.Reader
}

// NewDecoder wraps a raw trace stream.
func NewDecoder(r io.Reader) ingest.Decoder {
	return &Decoder{br: bufio.NewReaderSize(r, 64*1024)}
}

// readLine assembles the next line. A line exceeding maxRecordSize is
// discarded through its newline and reported as a corrupt record, so the
// decoder stays positioned on the following line.
func (d *Decoder) readLine() ([]byte, error) {
	var buf []byte
	for {
		frag, err := d.br.ReadSlice('\n')
		buf = append(buf, frag...)
		switch err {
		case nil:
			if len(buf) > maxRecordSize {
				return nil, errors.Wrapf(errors.ErrCorruptRecord,
					"record exceeds %d bytes", maxRecordSize)
			}
			return buf, nil
		case bufio.ErrBufferFull:
			if len(buf) > maxRecordSize {
				if serr := d.skipLine(); serr != nil {
					return nil, serr
				}
				return nil, errors.Wrapf(errors.ErrCorruptRecord,
					"record exceeds %d bytes", maxRecordSize)
			}
		case io.EOF:
			if len(buf) == 0 {
				return nil, io.EOF
			}
			if len(buf) > maxRecordSize {
				return nil, errors.Wrapf(errors.ErrCorruptRecord,
					"record exceeds %d bytes", maxRecordSize)
			}
			return buf, nil
		default:
			return nil, err
		}
	}
}

// skipLine discards input up to and including the next newline.
func (d *Decoder) skipLine() error {
	for {
		_, err := d.br.ReadSlice('\n')
		switch err {
		case nil, io.EOF:
			return nil
		case bufio.ErrBufferFull:
		default:
			return err
		}
	}
}

// Next returns the next record, io.EOF at end of stream, or an error
// wrapping errors.ErrCorruptRecord for a single undecodable line. The
// decoder stays usable after a corrupt line so the caller can skip it.
func (d *Decoder) Next() (ingest.Event, error) {
	for {
		raw, err := d.readLine()
		if err != nil {
			return nil, err
		}
		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}
		if len(line) == 1 && (line[0] == '[' || line[0] == ']') {
			continue
		}
		line = bytes.TrimSpace(bytes.TrimPrefix(line, []byte(",")))
		if len(line) == 0 {
			continue
		}

		var ev AuditEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, errors.Wrapf(errors.ErrCorruptRecord, "decoding record: %v", err)
		}
		if ev.Event == "" {
			return nil, errors.Wrap(errors.ErrCorruptRecord, "record has no event type")
		}
		if ev.SubjProcUUID == uuid.Nil {
			return nil, errors.Wrapf(errors.ErrCorruptRecord, "%s: record has no subject", ev.Event)
		}
		return &ev, nil
	}
}

var _ ingest.Decoder = (*Decoder)(nil)
var _ ingest.Event = (*AuditEvent)(nil)

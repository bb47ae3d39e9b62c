package merge

import (
	"bufio"
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

// ErrEmptyCSV is returned by ReadCSV when the input has no header row
var ErrEmptyCSV = errors.New("empty csv")

// ReadCSV parses delimited text with a header row into records keyed by
// header name. Short rows leave the missing fields nil; columns with a blank
// header are dropped. A leading byte order mark is ignored.
func ReadCSV(r io.Reader) ([]string, []map[string]*string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, ErrEmptyCSV
	}
	if err != nil {
		return nil, nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var out []map[string]*string
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return header, out, nil
		}
		if err != nil {
			return nil, nil, err
		}
		rec := make(map[string]*string, len(header))
		for i, name := range header {
			if name == "" {
				continue
			}
			if i < len(row) {
				v := row[i]
				rec[name] = &v
			} else {
				rec[name] = nil
			}
		}
		out = append(out, rec)
	}
}

// WriteCSV writes header and rows as RFC 4180 text with every field quoted.
// Embedded quotes are doubled; delimiters and line breaks stay inside quotes.
// Records end with CRLF.
func WriteCSV(w io.Writer, header []string, rows [][]string) error {
	bw := bufio.NewWriter(w)
	if header != nil {
		if err := writeRecord(bw, header); err != nil {
			return err
		}
	}
	for _, row := range rows {
		if err := writeRecord(bw, row); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeRecord(w *bufio.Writer, fields []string) error {
	for i, f := range fields {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if err := w.WriteByte('"'); err != nil {
			return err
		}
		if _, err := w.WriteString(strings.ReplaceAll(f, `"`, `""`)); err != nil {
			return err
		}
		if err := w.WriteByte('"'); err != nil {
			return err
		}
	}
	_, err := w.WriteString("\r\n")
	return err
}

package campaign

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

var (
	phoneColumns = []string{"phone_number", "phone", "telefone", "numero", "number"}
	nameColumns  = []string{"name", "nome", "cliente", "contact"}
)

const minPhoneDigits = 10

// ParseContacts reads a contact list with a header row. The delimiter is
// detected among comma, semicolon and tab. Rows whose phone has fewer than
// ten digits are skipped; unrecognized non-empty columns go to ExtraData.
func ParseContacts(r io.Reader) ([]Contact, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(1024)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("campaign: read csv: %w", err)
	}

	reader := csv.NewReader(br)
	reader.Comma = sniffDelimiter(head)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("campaign: read csv header: %w", err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}

	var contacts []Contact
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return contacts, fmt.Errorf("campaign: read csv row: %w", err)
		}
		row := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(record) {
				row[col] = strings.TrimSpace(record[i])
			}
		}
		phone := digitsOnly(firstColumn(row, phoneColumns))
		if len(phone) < minPhoneDigits {
			continue
		}
		c := Contact{PhoneNumber: phone, Name: firstColumn(row, nameColumns), Status: ContactPending}
		for col, v := range row {
			if v == "" || col == "" || known(col) {
				continue
			}
			if c.ExtraData == nil {
				c.ExtraData = make(map[string]string)
			}
			c.ExtraData[col] = v
		}
		contacts = append(contacts, c)
	}
	return contacts, nil
}

func sniffDelimiter(sample []byte) rune {
	line := string(sample)
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	best, bestCount := ',', 0
	for _, d := range []rune{',', ';', '\t'} {
		if n := strings.Count(line, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func firstColumn(row map[string]string, names []string) string {
	for _, n := range names {
		if v := row[n]; v != "" {
			return v
		}
	}
	return ""
}

func known(col string) bool {
	return slices.Contains(phoneColumns, col) || slices.Contains(nameColumns, col)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

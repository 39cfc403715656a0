package labelset

import (
	"bytes"
	"encoding/json"
)

// ExportIndent is the indentation used for exported documents.
const ExportIndent = "  "

// Export serializes the dataset back into the document shape it was loaded
// from. Member order is preserved and every mask carries an explicit label.
func Export(d *Dataset) ([]byte, error) {
	var compact bytes.Buffer
	if err := d.appendJSON(&compact); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", ExportIndent); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// Equal reports whether two datasets serialize to the same document.
func Equal(a, b *Dataset) bool {
	ea, errA := Export(a)
	eb, errB := Export(b)
	return errA == nil && errB == nil && bytes.Equal(ea, eb)
}

func (d *Dataset) appendJSON(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	if d != nil {
		for i, key := range d.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeKey(buf, key); err != nil {
				return err
			}
			if err := d.images[key].appendJSON(buf); err != nil {
				return err
			}
		}
	}
	buf.WriteByte('}')
	return nil
}

func (img *Image) appendJSON(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	for i, m := range img.members {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(buf, m.key); err != nil {
			return err
		}
		if m.raw != nil {
			buf.Write(m.raw)
			continue
		}
		if err := img.splits[m.key].appendJSON(buf); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func (s *Split) appendJSON(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	for i, m := range s.members {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(buf, m.key); err != nil {
			return err
		}
		if m.raw != nil {
			buf.Write(m.raw)
			continue
		}
		if err := s.masks[m.key].appendJSON(buf); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func (m *Mask) appendJSON(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	for i, f := range m.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(buf, f.key); err != nil {
			return err
		}
		buf.Write(f.raw)
	}
	buf.WriteByte('}')
	return nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	q, err := quote(key)
	if err != nil {
		return err
	}
	buf.Write(q)
	buf.WriteByte(':')
	return nil
}

// quote encodes s as a JSON string without HTML escaping.
func quote(s string) ([]byte, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(b.Bytes(), "\n"), nil
}

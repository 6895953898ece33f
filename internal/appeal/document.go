package appeal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// document is the appeal file held in memory for one operation. Entries keep
// the order they appear in the file, and values that were not touched are
// written back byte-for-byte (modulo indentation).
type document struct {
	keys   []string
	values map[string]json.RawMessage
}

func newDocument() *document {
	return &document{values: make(map[string]json.RawMessage)}
}

func parseDocument(data []byte) (*document, error) {
	doc := newDocument()
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("appeal: document is not a JSON object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("appeal: unexpected token %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		doc.set(key, raw)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("appeal: trailing data after document")
	}
	return doc, nil
}

func (d *document) get(key string) (json.RawMessage, bool) {
	raw, ok := d.values[key]
	return raw, ok
}

// set replaces a value in place or appends a new key at the end.
func (d *document) set(key string, raw json.RawMessage) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = raw
}

func (d *document) each(fn func(key string, raw json.RawMessage)) {
	for _, key := range d.keys {
		fn(key, d.values[key])
	}
}

// encode renders the document with two-space indentation and without
// escaping HTML or non-ASCII characters.
func (d *document) encode() ([]byte, error) {
	if len(d.keys) == 0 {
		return []byte("{}\n"), nil
	}
	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, key := range d.keys {
		name, err := marshalUnescaped(key)
		if err != nil {
			return nil, err
		}
		buf.WriteString("  ")
		buf.Write(name)
		buf.WriteString(": ")
		if err := json.Indent(&buf, d.values[key], "  ", "  "); err != nil {
			return nil, fmt.Errorf("appeal: encode %s: %w", key, err)
		}
		if i < len(d.keys)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

func marshalUnescaped(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

package encoder

import (
	"context"
	"io"
	"strings"

	"github.com/baldanca/dataset-exporter/record"
	"github.com/baldanca/dataset-exporter/sink"
	"github.com/baldanca/dataset-exporter/source"
)

// XML streams records as <records> with one <record> element per row and one
// child element per mapped column.
//
// Element names are sanitized to [A-Za-z0-9_.-], with an underscore prefix
// when the name would start with a digit. Text content escapes the five XML
// metacharacters. Lists render as repeated <item> elements and maps recurse
// into child elements.
type XML struct{}

var _ Encoder = XML{}

const xmlHeader = "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<records>\n"

func (XML) ContentType() string { return "application/xml" }

func (XML) FileExtension() string { return ".xml" }

func (XML) EncodeTo(ctx context.Context, src source.Batches, columns record.ColumnMapping, dst sink.Sink) error {
	w := sink.NewWriter(ctx, dst)

	tags := make([]string, len(columns))
	for i, col := range columns {
		tags[i] = sanitizeTag(col.Name)
	}

	if _, err := io.WriteString(w, xmlHeader); err != nil {
		return err
	}

	buf := make([]byte, 0, 1024)
	err := forEachBatch(ctx, src, func(batch []record.Record) error {
		for i := range batch {
			buf = append(buf[:0], "  <record>"...)
			for j, col := range columns {
				buf = appendElement(buf, tags[j], batch[i].Field(col.Source))
			}
			buf = append(buf, "</record>\n"...)
			if _, err := w.Write(buf); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	_, err = io.WriteString(w, "</records>\n")
	return err
}

func appendElement(dst []byte, tag string, v record.Value) []byte {
	dst = append(dst, '<')
	dst = append(dst, tag...)
	dst = append(dst, '>')
	dst = appendContent(dst, v)
	dst = append(dst, '<', '/')
	dst = append(dst, tag...)
	dst = append(dst, '>')
	return dst
}

func appendContent(dst []byte, v record.Value) []byte {
	switch v.Kind() {
	case record.KindNull:
		return dst
	case record.KindBool:
		if v.Bool() {
			return append(dst, "true"...)
		}
		return append(dst, "false"...)
	case record.KindNumber:
		// Number literals contain no metacharacters.
		return append(dst, v.Number()...)
	case record.KindString:
		return appendEscaped(dst, v.Text())
	case record.KindList:
		for _, item := range v.Items() {
			dst = appendElement(dst, "item", item)
		}
		return dst
	default: // record.KindMap
		for i := 0; i < v.Len(); i++ {
			key, child := v.Entry(i)
			dst = appendElement(dst, sanitizeTag(key), child)
		}
		return dst
	}
}

func appendEscaped(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '&':
			dst = append(dst, "&amp;"...)
		case '<':
			dst = append(dst, "&lt;"...)
		case '>':
			dst = append(dst, "&gt;"...)
		case '"':
			dst = append(dst, "&quot;"...)
		case '\'':
			dst = append(dst, "&apos;"...)
		default:
			dst = append(dst, s[i])
		}
	}
	return dst
}

// sanitizeTag maps arbitrary names onto safe XML element names. Names that
// are already safe pass through without allocating.
func sanitizeTag(name string) string {
	if name == "" {
		return "_"
	}

	clean := true
	for _, r := range name {
		if !safeTagRune(r) {
			clean = false
			break
		}
	}
	if clean && !asciiDigit(rune(name[0])) {
		return name
	}

	var b strings.Builder
	b.Grow(len(name) + 1)
	for i, r := range name {
		if i == 0 && asciiDigit(r) {
			b.WriteByte('_')
		}
		if safeTagRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func safeTagRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_' || r == '.' || r == '-':
		return true
	}
	return false
}

func asciiDigit(r rune) bool { return r >= '0' && r <= '9' }

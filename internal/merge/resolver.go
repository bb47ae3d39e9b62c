// Package merge expands record and context merge tokens in templates and
// serializes the merged rows as delimited text.
package merge

import (
	"strings"

	"github.com/campaignops/api/internal/model"
)

// Token delimiters. Record tokens are resolved per row, context tokens once
// per batch.
const (
	RecordOpen   = "{{"
	RecordClose  = "}}"
	ContextOpen  = "[["
	ContextClose = "]]"
)

// Schema declares the field names each namespace recognises. A name present
// as a key in the record or context map is recognised as well.
type Schema struct {
	RecordFields  []string `json:"recordFields"`
	ContextFields []string `json:"contextFields"`
}

// Resolver substitutes merge tokens. It is immutable and safe for
// concurrent use.
type Resolver struct {
	record  map[string]struct{}
	context map[string]struct{}
}

// NewResolver creates a resolver for the given schema
func NewResolver(schema Schema) *Resolver {
	return &Resolver{
		record:  nameSet(schema.RecordFields),
		context: nameSet(schema.ContextFields),
	}
}

func nameSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[strings.TrimSpace(n)] = struct{}{}
	}
	return set
}

// Resolve returns s with every recognised token replaced by its value, or the
// empty string when the value is missing or nil. Unrecognised tokens and
// unbalanced delimiters are copied verbatim. Substituted values are never
// scanned again.
func (r *Resolver) Resolve(s string, record, ctx map[string]*string) string {
	if !strings.Contains(s, RecordOpen) && !strings.Contains(s, ContextOpen) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		open, closing, values, known := r.namespaceAt(s[i:], record, ctx)
		if open == "" {
			b.WriteByte(s[i])
			i++
			continue
		}

		rest := s[i+len(open):]
		end := strings.Index(rest, closing)
		if end < 0 {
			b.WriteString(open)
			i += len(open)
			continue
		}

		inner := rest[:end]
		if strings.Contains(inner, RecordOpen) || strings.Contains(inner, ContextOpen) || strings.ContainsAny(inner, "\r\n") {
			b.WriteString(open)
			i += len(open)
			continue
		}

		name := strings.TrimSpace(inner)
		token := s[i : i+len(open)+end+len(closing)]
		i += len(token)

		if _, ok := known[name]; !ok {
			if _, ok := values[name]; !ok {
				b.WriteString(token)
				continue
			}
		}
		if v := values[name]; v != nil {
			b.WriteString(*v)
		}
	}

	return b.String()
}

func (r *Resolver) namespaceAt(s string, record, ctx map[string]*string) (open, closing string, values map[string]*string, known map[string]struct{}) {
	switch {
	case strings.HasPrefix(s, RecordOpen):
		return RecordOpen, RecordClose, record, r.record
	case strings.HasPrefix(s, ContextOpen):
		return ContextOpen, ContextClose, ctx, r.context
	default:
		return "", "", nil, nil
	}
}

// ResolveTemplate resolves both the subject and the body of a template
func (r *Resolver) ResolveTemplate(tpl model.MergeTemplate, record, ctx map[string]*string) model.ResolvedTemplate {
	return model.ResolvedTemplate{
		Name:    tpl.Name,
		Subject: r.Resolve(tpl.Subject, record, ctx),
		Body:    r.Resolve(tpl.Body, record, ctx),
	}
}

// Tokens lists the distinct token names used in s per namespace, in order of
// first appearance.
func Tokens(s string) (recordNames, contextNames []string) {
	seen := map[string]bool{}
	for i := 0; i < len(s); i++ {
		var open, closing string
		switch {
		case strings.HasPrefix(s[i:], RecordOpen):
			open, closing = RecordOpen, RecordClose
		case strings.HasPrefix(s[i:], ContextOpen):
			open, closing = ContextOpen, ContextClose
		default:
			continue
		}
		rest := s[i+len(open):]
		end := strings.Index(rest, closing)
		if end < 0 {
			i += len(open) - 1
			continue
		}
		inner := rest[:end]
		if strings.Contains(inner, RecordOpen) || strings.Contains(inner, ContextOpen) || strings.ContainsAny(inner, "\r\n") {
			i += len(open) - 1
			continue
		}
		name := strings.TrimSpace(inner)
		key := open + name
		if !seen[key] {
			seen[key] = true
			if open == RecordOpen {
				recordNames = append(recordNames, name)
			} else {
				contextNames = append(contextNames, name)
			}
		}
		i += len(open) + end + len(closing) - 1
	}
	return recordNames, contextNames
}

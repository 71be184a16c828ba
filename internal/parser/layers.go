package parser

import (
	"encoding/json"
	"strconv"
	"strings"

	"livecap/internal/models"
)

// layerSet is the decoder's layer mapping, keyed by lowercase layer name.
type layerSet struct {
	raw map[string]json.RawMessage
}

// has reports whether the layer is present and not null.
func (ls layerSet) has(name string) bool {
	return !isNull(ls.raw[name])
}

// fields decodes a layer's field mapping. Layers tshark emits as arrays
// (repeated protocol occurrences) use their first element.
func (ls layerSet) fields(name string) fieldMap {
	raw, ok := ls.raw[name]
	if !ok || isNull(raw) {
		return nil
	}
	var m fieldMap
	if err := json.Unmarshal(raw, &m); err == nil {
		return m
	}
	var list []fieldMap
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return nil
}

// details keys every layer by its uppercased name and keeps the decoder's
// own name alongside the untouched fields.
func (ls layerSet) details() map[string]models.LayerDetail {
	out := make(map[string]models.LayerDetail, len(ls.raw))
	for name, fields := range ls.raw {
		out[strings.ToUpper(name)] = models.LayerDetail{
			Name:   name,
			Fields: fields,
		}
	}
	return out
}

// fieldMap holds the fields of one layer.
type fieldMap map[string]any

// get returns the field rendered as text, or "" when it is missing or empty.
// Keys are given in dotted form ("ip.src"); the ek spelling ("ip_ip_src")
// is tried when the dotted one is absent.
func (m fieldMap) get(key string) string {
	v, ok := m[key]
	if !ok {
		v, ok = m[ekKey(key)]
	}
	if !ok {
		return ""
	}
	return text(v)
}

// ekKey prefixes the layer name and replaces dots, as tshark -T ek does.
func ekKey(key string) string {
	layer, _, _ := strings.Cut(key, ".")
	return layer + "_" + strings.ReplaceAll(key, ".", "_")
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case []any:
		if len(t) == 0 {
			return ""
		}
		return text(t[0])
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

package labelset

import (
	"bytes"
	"encoding/json"
	"fmt"

	"segtag/internal/category"
)

// LoadError reasons.
const (
	ReasonParseFailure = "parse-failure"
	ReasonNotAnObject  = "not-an-object"
)

// LoadError reports a document that could not become a Dataset.
type LoadError struct {
	Reason string
	Path   string
	Err    error
}

func (e *LoadError) Error() string {
	msg := "load dataset: " + e.Reason
	if e.Path != "" {
		msg += " at " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error { return e.Err }

var unknownRaw = mustQuote(category.Unknown)

// Load parses a labeling document. The top level must be a non-null JSON
// object. Masks without a label are assigned category.Unknown here and only
// here.
func Load(data []byte) (*Dataset, error) {
	if !json.Valid(data) {
		err := json.Unmarshal(data, new(any))
		return nil, &LoadError{Reason: ReasonParseFailure, Err: err}
	}
	if !isObject(data) {
		return nil, &LoadError{Reason: ReasonNotAnObject}
	}
	members, err := readObject(data)
	if err != nil {
		return nil, &LoadError{Reason: ReasonParseFailure, Err: err}
	}
	ds := &Dataset{images: make(map[string]*Image, len(members)), keys: make([]string, 0, len(members))}
	for _, m := range members {
		img, err := loadImage(m.key, m.raw)
		if err != nil {
			return nil, err
		}
		ds.images[m.key] = img
		ds.keys = append(ds.keys, m.key)
	}
	return ds, nil
}

func loadImage(imageKey string, raw json.RawMessage) (*Image, error) {
	if !isObject(raw) {
		return nil, &LoadError{Reason: ReasonParseFailure, Path: imageKey, Err: fmt.Errorf("image must be an object")}
	}
	members, err := readObject(raw)
	if err != nil {
		return nil, &LoadError{Reason: ReasonParseFailure, Path: imageKey, Err: err}
	}
	img := &Image{splits: make(map[string]*Split), members: make([]member, 0, len(members))}
	for _, m := range members {
		if !IsSplitKey(m.key) {
			img.members = append(img.members, m)
			continue
		}
		path := imageKey + "/" + m.key
		split, err := loadSplit(path, m.raw)
		if err != nil {
			return nil, err
		}
		img.splits[m.key] = split
		img.keys = append(img.keys, m.key)
		img.members = append(img.members, member{key: m.key})
	}
	return img, nil
}

func loadSplit(path string, raw json.RawMessage) (*Split, error) {
	if !isObject(raw) {
		return nil, &LoadError{Reason: ReasonParseFailure, Path: path, Err: fmt.Errorf("split must be an object")}
	}
	members, err := readObject(raw)
	if err != nil {
		return nil, &LoadError{Reason: ReasonParseFailure, Path: path, Err: err}
	}
	split := &Split{masks: make(map[string]*Mask), members: make([]member, 0, len(members))}
	for _, m := range members {
		if !IsMaskKey(m.key) {
			split.members = append(split.members, m)
			continue
		}
		mask, err := loadMask(path+"/"+m.key, m.raw)
		if err != nil {
			return nil, err
		}
		split.masks[m.key] = mask
		split.keys = append(split.keys, m.key)
		split.members = append(split.members, member{key: m.key})
	}
	return split, nil
}

func loadMask(path string, raw json.RawMessage) (*Mask, error) {
	if !isObject(raw) {
		return nil, &LoadError{Reason: ReasonParseFailure, Path: path, Err: fmt.Errorf("mask must be an object")}
	}
	fields, err := readObject(raw)
	if err != nil {
		return nil, &LoadError{Reason: ReasonParseFailure, Path: path, Err: err}
	}
	mask := &Mask{fields: fields}
	labeled := false
	for i, f := range mask.fields {
		switch f.key {
		case "label":
			if bytes.Equal(bytes.TrimSpace(f.raw), []byte("null")) {
				mask.fields[i].raw = unknownRaw
				mask.label = category.Unknown
				labeled = true
				continue
			}
			var label string
			if err := json.Unmarshal(f.raw, &label); err != nil {
				return nil, &LoadError{Reason: ReasonParseFailure, Path: path + "/label", Err: err}
			}
			mask.label = label
			labeled = true
		case "bbox":
			mask.bbox = decodeBox(f.raw)
		case "box":
			if mask.bbox == nil {
				mask.bbox = decodeBox(f.raw)
			}
		}
	}
	if !labeled {
		mask.label = category.Unknown
		mask.fields = append(mask.fields, member{key: "label", raw: unknownRaw})
	}
	return mask, nil
}

// decodeBox accepts a four-number array; anything else leaves the mask without
// a box while the raw member is still passed through.
func decodeBox(raw json.RawMessage) *BBox {
	var coords []float64
	if err := json.Unmarshal(raw, &coords); err != nil || len(coords) != 4 {
		return nil
	}
	b := BBox{coords[0], coords[1], coords[2], coords[3]}
	return &b
}

func isObject(raw []byte) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// readObject decodes one JSON object into its members in document order. A
// repeated key keeps its first position and its last value.
func readObject(raw []byte) ([]member, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object")
	}
	var members []member
	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key")
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("decode %q: %w", key, err)
		}
		if i, dup := index[key]; dup {
			members[i].raw = value
			continue
		}
		index[key] = len(members)
		members = append(members, member{key: key, raw: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return members, nil
}

func mustQuote(s string) json.RawMessage {
	b, err := quote(s)
	if err != nil {
		panic(err)
	}
	return b
}

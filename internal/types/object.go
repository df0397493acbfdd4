package types

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/elliotchance/orderedmap/v2"
)

// Object is an insertion-ordered string-keyed map. It is the value tree node
// for structs, nested objects and variants, and the field map of a Record.
type Object struct {
	m *orderedmap.OrderedMap[string, interface{}]
}

// NewObject creates an empty Object.
func NewObject() *Object {
	return &Object{m: orderedmap.NewOrderedMap[string, interface{}]()}
}

func (o *Object) init() {
	if o.m == nil {
		o.m = orderedmap.NewOrderedMap[string, interface{}]()
	}
}

// Set stores v under key. Existing keys keep their position.
func (o *Object) Set(key string, v interface{}) {
	o.init()
	o.m.Set(key, v)
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (interface{}, bool) {
	if o == nil || o.m == nil {
		return nil, false
	}
	return o.m.Get(key)
}

// Has reports whether key is present.
func (o *Object) Has(key string) bool {
	_, ok := o.Get(key)
	return ok
}

// Delete removes key.
func (o *Object) Delete(key string) bool {
	if o == nil || o.m == nil {
		return false
	}
	return o.m.Delete(key)
}

// Len returns the number of keys.
func (o *Object) Len() int {
	if o == nil || o.m == nil {
		return 0
	}
	return o.m.Len()
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	if o == nil || o.m == nil {
		return nil
	}
	return o.m.Keys()
}

// Each calls fn for every entry in insertion order.
func (o *Object) Each(fn func(key string, v interface{})) {
	if o == nil || o.m == nil {
		return
	}
	for el := o.m.Front(); el != nil; el = el.Next() {
		fn(el.Key, el.Value)
	}
}

// MarshalJSON writes the entries in insertion order.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	var err error
	o.Each(func(key string, v interface{}) {
		if err != nil {
			return
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		var kb, vb []byte
		if kb, err = json.Marshal(key); err != nil {
			return
		}
		if vb, err = json.Marshal(v); err != nil {
			err = fmt.Errorf("field %q: %w", key, err)
			return
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	})
	if err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping key order. Nested objects
// become *Object, arrays []interface{} and numbers json.Number.
func (o *Object) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}
	o.m = orderedmap.NewOrderedMap[string, interface{}]()
	return decodeObjectBody(dec, o)
}

func decodeObjectBody(dec *json.Decoder, o *Object) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		v, err := decodeValue(dec)
		if err != nil {
			return err
		}
		o.Set(key, v)
	}
	_, err := dec.Token() // closing '}'
	return err
}

func decodeValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch d {
	case '{':
		child := NewObject()
		if err := decodeObjectBody(dec, child); err != nil {
			return nil, err
		}
		return child, nil
	case '[':
		items := []interface{}{}
		for dec.More() {
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		if _, err := dec.Token(); err != nil { // closing ']'
			return nil, err
		}
		return items, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %v", d)
	}
}

package sim

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf16"

	"github.com/dbsmedya/goextract/internal/heap"
	"github.com/dbsmedya/goextract/internal/types"
)

// RefPrefix marks a string value as a reference to a bound object id.
const RefPrefix = "@"

// NewObject allocates an instance of className with all fields zeroed. If the
// class derives from an object base, its native handle is set to a live value.
func (h *Heap) NewObject(className string) (heap.Addr, error) {
	c, ok := h.FindClass(className)
	if !ok {
		return heap.Null, fmt.Errorf("unknown class %s", className)
	}
	if tag := h.Tag(c); tag != heap.TagClass && tag != heap.TagObject && tag != heap.TagGenericInst {
		return heap.Null, fmt.Errorf("class %s is not a reference type", className)
	}
	obj := h.alloc(h.instanceSize(c))
	if err := h.WritePtr(obj, heap.Addr(c)); err != nil {
		return heap.Null, err
	}
	if f, ok := h.findField(c, NativeHandleField); ok {
		if err := h.WritePtr(obj.Offset(f.Offset), 0x7f0000000000|obj); err != nil {
			return heap.Null, err
		}
	}
	return obj, nil
}

// MustNewObject is NewObject that panics on error. Intended for tests.
func (h *Heap) MustNewObject(className string) heap.Addr {
	obj, err := h.NewObject(className)
	if err != nil {
		panic(err)
	}
	return obj
}

// NewString allocates a foreign string.
func (h *Heap) NewString(s string) heap.Addr {
	units := utf16.Encode([]rune(s))
	str := h.alloc(heap.StringCharsOffset + 2*len(units))
	c, _ := h.FindClass("System.String")
	_ = h.WritePtr(str, heap.Addr(c))
	_ = h.WriteUint(str.Offset(heap.StringLengthOffset), 4, uint64(len(units)))
	for i, u := range units {
		_ = h.WriteUint(str.Offset(heap.StringCharsOffset+2*i), 2, uint64(u))
	}
	return str
}

// NewArray allocates a zeroed array of n elements of elemType.
func (h *Heap) NewArray(elemType string, n int) (heap.Addr, error) {
	ac, ok := h.FindClass(elemType + "[]")
	if !ok {
		return heap.Null, fmt.Errorf("unknown element type %s", elemType)
	}
	stride := h.ValueSize(h.ElementClass(ac))
	arr := h.alloc(heap.ArrayDataOffset + n*stride)
	if err := h.WritePtr(arr, heap.Addr(ac)); err != nil {
		return heap.Null, err
	}
	if err := h.WriteUint(arr.Offset(heap.ArrayLengthOffset), 8, uint64(n)); err != nil {
		return heap.Null, err
	}
	return arr, nil
}

// SetElement writes v into element i of arr.
func (h *Heap) SetElement(arr heap.Addr, i int, v interface{}) error {
	ac, err := h.ClassOf(arr)
	if err != nil {
		return err
	}
	elem := h.ElementClass(ac)
	if elem == 0 {
		return fmt.Errorf("%s is not an array", arr)
	}
	n, err := heap.ReadArrayLength(h, arr)
	if err != nil {
		return err
	}
	if i < 0 || i >= n {
		return fmt.Errorf("index %d out of range [0,%d)", i, n)
	}
	stride := h.ValueSize(elem)
	return h.writeValue(arr.Offset(heap.ArrayDataOffset+i*stride), elem, v)
}

// NewList allocates a generic list of elemType holding values. The backing
// array is allocated with spare capacity so that _size, not the array length,
// bounds the logical contents.
func (h *Heap) NewList(elemType string, values []interface{}) (heap.Addr, error) {
	lc, ok := h.FindClass("List`1<" + elemType + ">")
	if !ok {
		return heap.Null, fmt.Errorf("unknown element type %s", elemType)
	}
	list, err := h.NewObject(h.ClassName(lc))
	if err != nil {
		return heap.Null, err
	}
	items, err := h.NewArray(elemType, len(values)+4)
	if err != nil {
		return heap.Null, err
	}
	for i, v := range values {
		if err := h.SetElement(items, i, v); err != nil {
			return heap.Null, err
		}
	}
	if err := h.SetField(list, listItemsField, items); err != nil {
		return heap.Null, err
	}
	if err := h.SetField(list, listSizeField, len(values)); err != nil {
		return heap.Null, err
	}
	return list, nil
}

// SetField writes v into the named instance field of obj.
func (h *Heap) SetField(obj heap.Addr, field string, v interface{}) error {
	c, err := h.ClassOf(obj)
	if err != nil {
		return err
	}
	f, ok := h.findField(c, field)
	if !ok {
		return fmt.Errorf("class %s has no field %s", h.ClassName(c), field)
	}
	if err := h.writeValue(obj.Offset(f.Offset), f.Type, v); err != nil {
		return fmt.Errorf("%s.%s: %w", h.ClassName(c), field, err)
	}
	return nil
}

// MustSetField is SetField that panics on error. Intended for tests.
func (h *Heap) MustSetField(obj heap.Addr, field string, v interface{}) {
	if err := h.SetField(obj, field, v); err != nil {
		panic(err)
	}
}

func (h *Heap) writeValue(addr heap.Addr, c heap.Class, v interface{}) error {
	if c == 0 {
		return fmt.Errorf("field type is not defined")
	}
	tag := h.Tag(c)
	switch {
	case tag == heap.TagBool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", v)
		}
		var u uint64
		if b {
			u = 1
		}
		return h.WriteUint(addr, 1, u)
	case tag == heap.TagR4:
		f, ok := types.AsFloat64(v)
		if !ok {
			return fmt.Errorf("expected number, got %T", v)
		}
		return h.WriteUint(addr, 4, uint64(math.Float32bits(float32(f))))
	case tag == heap.TagR8:
		f, ok := types.AsFloat64(v)
		if !ok {
			return fmt.Errorf("expected number, got %T", v)
		}
		return h.WriteUint(addr, 8, math.Float64bits(f))
	case tag == heap.TagChar && isText(v):
		return h.WriteUint(addr, 2, uint64(utf16.Encode([]rune(v.(string)))[0]))
	case tag.IsPrimitive():
		i, ok := types.AsInt64(v)
		if !ok {
			return fmt.Errorf("expected integer, got %T", v)
		}
		return h.WriteUint(addr, tag.Size(), uint64(i))
	case tag == heap.TagString:
		switch s := v.(type) {
		case nil:
			return h.WritePtr(addr, heap.Null)
		case string:
			return h.WritePtr(addr, h.NewString(s))
		case heap.Addr:
			return h.WritePtr(addr, s)
		}
		return fmt.Errorf("expected string, got %T", v)
	case tag == heap.TagValueType && h.IsEnum(c):
		f, _ := h.findField(c, enumValueField)
		return h.writeValue(addr.Offset(f.Offset), f.Type, v)
	case tag == heap.TagValueType:
		values, ok := v.(map[string]interface{})
		if !ok {
			return fmt.Errorf("expected mapping for struct %s, got %T", h.ClassName(c), v)
		}
		for name, fv := range values {
			f, ok := h.findField(c, name)
			if !ok {
				return fmt.Errorf("struct %s has no field %s", h.ClassName(c), name)
			}
			if err := h.writeValue(addr.Offset(f.Offset), f.Type, fv); err != nil {
				return err
			}
		}
		return nil
	default:
		ptr, err := h.pointerFor(c, v)
		if err != nil {
			return err
		}
		return h.WritePtr(addr, ptr)
	}
}

// pointerFor turns v into a pointer suitable for a reference-typed slot of class c.
func (h *Heap) pointerFor(c heap.Class, v interface{}) (heap.Addr, error) {
	switch p := v.(type) {
	case nil:
		return heap.Null, nil
	case heap.Addr:
		return p, nil
	case string:
		id, ok := strings.CutPrefix(p, RefPrefix)
		if !ok {
			return heap.Null, fmt.Errorf("reference %q must start with %s", p, RefPrefix)
		}
		addr, ok := h.refs[id]
		if !ok {
			return heap.Null, fmt.Errorf("unbound reference %s", p)
		}
		return addr, nil
	case []interface{}:
		if h.Tag(c) == heap.TagArray {
			elem := h.ClassName(h.ElementClass(c))
			arr, err := h.NewArray(elem, len(p))
			if err != nil {
				return heap.Null, err
			}
			for i, ev := range p {
				if err := h.SetElement(arr, i, ev); err != nil {
					return heap.Null, err
				}
			}
			return arr, nil
		}
		if f, ok := h.findField(c, listItemsField); ok {
			return h.NewList(h.ClassName(h.ElementClass(f.Type)), p)
		}
		return heap.Null, fmt.Errorf("class %s does not accept a sequence", h.ClassName(c))
	}
	return heap.Null, fmt.Errorf("cannot store %T in %s", v, h.ClassName(c))
}

func isText(v interface{}) bool {
	s, ok := v.(string)
	return ok && s != ""
}

// Bind associates id with obj so that "@id" strings resolve to it.
func (h *Heap) Bind(id string, obj heap.Addr) {
	h.refs[id] = obj
}

// Ref returns the object bound to id.
func (h *Heap) Ref(id string) (heap.Addr, bool) {
	obj, ok := h.refs[id]
	return obj, ok
}

// SetName sets the value returned by the object's own name accessor.
func (h *Heap) SetName(obj heap.Addr, name string) {
	h.names[obj] = name
}

// Kill zeroes the native handle of obj, the way the host marks a destroyed object.
func (h *Heap) Kill(obj heap.Addr) error {
	c, err := h.ClassOf(obj)
	if err != nil {
		return err
	}
	f, ok := h.findField(c, NativeHandleField)
	if !ok {
		return fmt.Errorf("class %s has no %s", h.ClassName(c), NativeHandleField)
	}
	return h.WritePtr(obj.Offset(f.Offset), heap.Null)
}

// Free unmaps obj's memory entirely, the way a collected object disappears.
func (h *Heap) Free(obj heap.Addr) {
	delete(h.blocks, obj)
	delete(h.names, obj)
}

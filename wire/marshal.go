// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"strconv"
)

//######################################################################
//
// Struct-tag driven (de)serialization, the same technique the GNUnet
// Go port uses for its message bodies (data/marshal.go), generalized
// here to the datagram layer of this package. Field types can be any
// of these:
//
//    int{16,32,64}         -- Signed integer of given size
//    uint{8,16,32,64}      -- Unsigned integer of given size (little-endian)
//    []uint8               -- variable length byte array
//    string                -- variable length string
//    *struct{}, struct{}   -- nested structure
//    []*struct{}, []struct -- list of structures with allowed fields
//
// Integer fields (of size > 1) can be tagged for big-endian representation:
//
//    field1 int64 `order:"big"`
//
// Variable-length slices can be tagged with a "size" tag: "*" for greedy
// (consume the rest of the buffer), a decimal literal for a fixed count,
// or the name of a previous integer field holding the count:
//
//    Count int16
//    Items []Item `size:"Count"`
//
//######################################################################

// Marshal creates a byte array from a (reference to an) object.
func Marshal(obj interface{}) ([]byte, error) {
	var marshal func(x reflect.Value) ([]byte, error)
	marshal = func(x reflect.Value) ([]byte, error) {
		data := new(bytes.Buffer)
		for i := 0; i < x.NumField(); i++ {
			f := x.Field(i)
			if !f.CanSet() {
				continue
			}
			ft := x.Type().Field(i)
			switch v := f.Interface().(type) {
			case string:
				data.Write([]byte(v))
				data.Write([]byte{0})
			case uint8, uint16, int16, uint32, int32, uint64, int64:
				if ft.Tag.Get("order") == "big" {
					binary.Write(data, binary.BigEndian, v)
				} else {
					binary.Write(data, binary.LittleEndian, v)
				}
			case []uint8:
				data.Write(v)
			default:
				switch f.Kind() {
				case reflect.Ptr:
					e := f.Elem()
					if e.IsValid() {
						sub, err := marshal(f.Elem())
						if err != nil {
							return nil, err
						}
						data.Write(sub)
					}
				case reflect.Struct:
					sub, err := marshal(f)
					if err != nil {
						return nil, err
					}
					data.Write(sub)
				case reflect.Slice:
					for i := 0; i < f.Len(); i++ {
						e := f.Index(i)
						switch e.Kind() {
						case reflect.Ptr:
							sub, err := marshal(e.Elem())
							if err != nil {
								return nil, err
							}
							data.Write(sub)
						case reflect.Struct:
							sub, err := marshal(e)
							if err != nil {
								return nil, err
							}
							data.Write(sub)
						}
					}
				default:
					return nil, fmt.Errorf("wire.Marshal: unknown field type %v", f.Type())
				}
			}
		}
		return data.Bytes(), nil
	}
	a := reflect.ValueOf(obj)
	switch a.Kind() {
	case reflect.Ptr:
		e := a.Elem()
		if e.IsValid() {
			return marshal(e)
		}
		return nil, errors.New("wire.Marshal: object is nil")
	case reflect.Struct:
		return marshal(a)
	}
	return nil, errors.New("wire.Marshal: object is not a struct")
}

// Unmarshal reads a byte array to fill an object pointed to by obj.
func Unmarshal(obj interface{}, data []byte) error {
	buf := bytes.NewBuffer(data)
	var unmarshal func(x reflect.Value) error
	unmarshal = func(x reflect.Value) error {
		for i := 0; i < x.NumField(); i++ {
			f := x.Field(i)
			if !f.CanSet() {
				continue
			}
			ft := x.Type().Field(i)
			readInt := func(a interface{}) {
				if ft.Tag.Get("order") == "big" {
					binary.Read(buf, binary.BigEndian, a)
				} else {
					binary.Read(buf, binary.LittleEndian, a)
				}
			}
			switch f.Interface().(type) {
			case string:
				s := ""
				b := make([]byte, 1)
				for {
					if _, err := buf.Read(b); err != nil {
						return err
					}
					if b[0] == 0 {
						break
					}
					s += string(b)
				}
				f.SetString(s)
			case uint8:
				var a uint8
				binary.Read(buf, binary.LittleEndian, &a)
				f.SetUint(uint64(a))
			case uint16:
				var a uint16
				readInt(&a)
				f.SetUint(uint64(a))
			case int16:
				var a int16
				readInt(&a)
				f.SetInt(int64(a))
			case uint32:
				var a uint32
				readInt(&a)
				f.SetUint(uint64(a))
			case int32:
				var a int32
				readInt(&a)
				f.SetInt(int64(a))
			case uint64:
				var a uint64
				readInt(&a)
				f.SetUint(a)
			case int64:
				var a int64
				readInt(&a)
				f.SetInt(a)
			case []uint8:
				size := f.Len()
				if size == 0 {
					sizeTag := ft.Tag.Get("size")
					stl := len(sizeTag)
					if stl == 0 {
						return errors.New("wire.Unmarshal: missing size tag on field " + ft.Name)
					}
					if sizeTag[0] == '*' {
						size = buf.Len()
						if stl > 1 {
							off, err := strconv.ParseInt(sizeTag[1:], 10, 16)
							if err != nil {
								return err
							}
							size += int(off)
						}
					} else if n, err := strconv.Atoi(sizeTag); err == nil {
						size = n
					} else {
						size = int(x.FieldByName(sizeTag).Uint())
					}
				}
				a := make([]byte, size)
				n, _ := buf.Read(a)
				if n != size {
					return fmt.Errorf("wire.Unmarshal: size mismatch on %s - want %d, got %d", ft.Name, size, n)
				}
				f.SetBytes(a)
			default:
				switch f.Kind() {
				case reflect.Ptr:
					e := f.Elem()
					if e.IsValid() {
						if err := unmarshal(e); err != nil {
							return err
						}
					}
				case reflect.Struct:
					if err := unmarshal(f); err != nil {
						return err
					}
				case reflect.Slice:
					count := f.Len()
					if count == 0 {
						sizeTag := ft.Tag.Get("size")
						if sizeTag == "*" {
							count = -1
						} else if len(sizeTag) > 0 {
							if n, err := strconv.Atoi(sizeTag); err == nil {
								count = n
							} else {
								count = int(x.FieldByName(sizeTag).Uint())
							}
						} else {
							return errors.New("wire.Unmarshal: missing size tag on field " + ft.Name)
						}
					}
					et := f.Type().Elem()
					isPtr := false
					if et.Kind() == reflect.Ptr {
						isPtr = true
						et = et.Elem()
					}
					for i := 0; i < count || count < 0; i++ {
						if buf.Len() == 0 {
							break
						}
						var e reflect.Value
						if count < 0 || i >= f.Len() {
							ep := reflect.New(et)
							e = ep.Elem()
							if isPtr {
								f.Set(reflect.Append(f, ep))
							} else {
								f.Set(reflect.Append(f, e))
								e = f.Index(f.Len() - 1)
							}
						} else {
							e = f.Index(i)
						}
						switch e.Kind() {
						case reflect.Ptr:
							if err := unmarshal(e.Elem()); err != nil {
								return err
							}
						case reflect.Struct:
							if err := unmarshal(e); err != nil {
								return err
							}
						}
					}
				default:
					return fmt.Errorf("wire.Unmarshal: unknown field type %v", f.Kind())
				}
			}
		}
		return nil
	}
	a := reflect.ValueOf(obj)
	if a.Kind() == reflect.Ptr {
		if e := a.Elem(); e.Kind() == reflect.Struct {
			return unmarshal(e)
		}
	}
	return fmt.Errorf("wire.Unmarshal: target must be a pointer to struct, got %v", a.Type())
}

package domain

import (
	"encoding/json"
	"reflect"
	"strings"
	"sync"
)

// Extra holds open extension properties that are carried through untouched.
type Extra map[string]json.RawMessage

var knownFieldsCache sync.Map // reflect.Type -> map[string]struct{}

func knownFields(t reflect.Type) map[string]struct{} {
	if cached, ok := knownFieldsCache.Load(t); ok {
		return cached.(map[string]struct{})
	}
	fields := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		fields[name] = struct{}{}
	}
	knownFieldsCache.Store(t, fields)
	return fields
}

// marshalWithExtra encodes v and merges extension keys that do not collide with declared fields.
func marshalWithExtra(v any, extra Extra) ([]byte, error) {
	base, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return base, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, err
	}
	for k, raw := range extra {
		if _, exists := fields[k]; !exists {
			fields[k] = raw
		}
	}
	return json.Marshal(fields)
}

// extraFields returns the keys of data that are not declared on v's struct type.
func extraFields(data []byte, v any) (Extra, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for name := range knownFields(reflect.TypeOf(v)) {
		delete(fields, name)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

// DecodeWithExtra unmarshals data into v, a pointer to a struct, and returns
// the keys v does not declare.
func DecodeWithExtra(data []byte, v any) (Extra, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	return extraFields(data, reflect.ValueOf(v).Elem().Interface())
}

// EncodeWithExtra is the inverse of DecodeWithExtra.
func EncodeWithExtra(v any, extra Extra) ([]byte, error) {
	return marshalWithExtra(v, extra)
}

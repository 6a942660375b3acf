package tangguh

import (
	json "github.com/goccy/go-json"
)

// Marshaler serializes request bodies. The default uses goccy/go-json, a
// drop-in replacement for encoding/json.
type Marshaler func(v any) ([]byte, error)

// Unmarshaler deserializes response bodies for the typed helpers.
type Unmarshaler func(data []byte, v any) error

func defaultMarshaler() Marshaler     { return json.Marshal }
func defaultUnmarshaler() Unmarshaler { return json.Unmarshal }

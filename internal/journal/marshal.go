package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/causeway/internal/ir"
)

// marshalObject converts an IRObject to canonical JSON TEXT for storage.
func marshalObject(obj ir.IRObject) (string, error) {
	if obj == nil {
		obj = ir.IRObject{}
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal object: %w", err)
	}
	return string(data), nil
}

// marshalNullable stores a nil object as SQL NULL.
func marshalNullable(obj ir.IRObject) (sql.NullString, error) {
	if obj == nil {
		return sql.NullString{}, nil
	}
	s, err := marshalObject(obj)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

// unmarshalObject parses canonical JSON TEXT to IRObject.
// IRObject.UnmarshalJSON keeps large integers exact via json.Number.
func unmarshalObject(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return ir.IRObject{}, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	return obj, nil
}

func unmarshalNullable(data sql.NullString) (ir.IRObject, error) {
	if !data.Valid {
		return nil, nil
	}
	return unmarshalObject(data.String)
}

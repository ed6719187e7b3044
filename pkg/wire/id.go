// Package wire implements the JSON-RPC wire contract ⇄ typed domain
// conversions used by pkg/rpc and pkg/appserver: an untagged String|Integer
// id type, and total enum mappings that always resolve to an explicit
// InvalidEnum rather than silently defaulting.
package wire

import (
	"encoding/json"
	"strconv"

	"github.com/pretyflaco/openagents-sub005/internal/errs"
)

// ID is the JSON-RPC message id: either a JSON string or a JSON number.
// Implements the untagged "String | Integer" variant from the wire
// contract by trying both on unmarshal and remembering which it was.
type ID struct {
	str      string
	num      int64
	isString bool
	isSet    bool
}

func NewStringID(s string) ID { return ID{str: s, isString: true, isSet: true} }
func NewIntID(n int64) ID     { return ID{num: n, isSet: true} }

func (id ID) IsSet() bool { return id.isSet }

func (id ID) String() string {
	if !id.isSet {
		return ""
	}
	if id.isString {
		return id.str
	}
	return strconv.FormatInt(id.num, 10)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if !id.isSet {
		return []byte("null"), nil
	}
	if id.isString {
		return json.Marshal(id.str)
	}
	return json.Marshal(id.num)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ID{}
		return nil
	}

	var asInt int64
	if err := json.Unmarshal(data, &asInt); err == nil {
		*id = ID{num: asInt, isSet: true}
		return nil
	}

	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		*id = ID{str: asString, isString: true, isSet: true}
		return nil
	}

	return errs.Newf(errs.KindInvalidRequest, "wire: id is neither string nor integer: %s", string(data))
}

// Equal compares two ids by value and kind.
func (id ID) Equal(other ID) bool {
	if id.isSet != other.isSet {
		return false
	}
	if id.isString != other.isString {
		return false
	}
	if id.isString {
		return id.str == other.str
	}
	return id.num == other.num
}

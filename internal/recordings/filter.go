package recordings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidFilter is returned for filters outside the supported subset.
var ErrInvalidFilter = errors.New("invalid filter")

const (
	maxFilterDepth = 4
	maxPatternLen  = 256
)

// Fields that compare as text, keyed by their JSON name.
var textColumns = map[string]string{
	"title":       "title",
	"description": "description",
	"tag":         "tag",
	"mode":        "mode",
	"email":       "email",
}

// Fields that compare as integers.
var intColumns = map[string]string{
	"fileRoot":   "file_root",
	"forkedFrom": "forked_from",
}

// Predicate is a compiled filter: a boolean SQL expression over the summary table and its
// positional arguments, numbered from $1.
type Predicate struct {
	SQL  string
	Args []interface{}
}

// MatchAll selects every row.
var MatchAll = Predicate{SQL: "TRUE"}

// ParseFilter compiles a JSON filter document into a Predicate.
//
// Supported: {"title"|"description"|"tag"|"mode"|"email": "v" | {"$regex": "r", "$options": "i"} | {"$in": [...]}},
// {"fileRoot"|"forkedFrom": n | {"$in": [n...]}}, {"userGroups": "id" | {"$in": ["id"...]}},
// {"$or": [filter...]}. Keys of one object are ANDed.
func ParseFilter(doc string) (Predicate, error) {
	doc = strings.TrimSpace(doc)
	if doc == "" {
		return MatchAll, nil
	}
	c := &compiler{}
	sql, err := c.object(json.RawMessage(doc), 0)
	if err != nil {
		return Predicate{}, err
	}
	return Predicate{SQL: sql, Args: c.args}, nil
}

type compiler struct {
	args []interface{}
}

func (c *compiler) bind(v interface{}) string {
	c.args = append(c.args, v)
	return "$" + strconv.Itoa(len(c.args))
}

func invalid(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidFilter, fmt.Sprintf(format, a...))
}

func kind(raw json.RawMessage) byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	return raw[0]
}

func (c *compiler) object(raw json.RawMessage, depth int) (string, error) {
	if depth > maxFilterDepth {
		return "", invalid("nested too deeply")
	}
	var obj map[string]json.RawMessage
	if kind(raw) != '{' || json.Unmarshal(raw, &obj) != nil {
		return "", invalid("filter must be a JSON object")
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	for _, key := range keys {
		clause, err := c.field(key, obj[key], depth)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}
	switch len(clauses) {
	case 0:
		return "TRUE", nil
	case 1:
		return clauses[0], nil
	}
	return "(" + strings.Join(clauses, " AND ") + ")", nil
}

func (c *compiler) field(key string, raw json.RawMessage, depth int) (string, error) {
	if key == "$or" {
		return c.or(raw, depth)
	}
	if col, ok := textColumns[key]; ok {
		return c.text(key, col, raw)
	}
	if col, ok := intColumns[key]; ok {
		return c.integer(key, col, raw)
	}
	if key == "userGroups" {
		return c.groups(raw)
	}
	return "", invalid("unsupported field %q", key)
}

func (c *compiler) or(raw json.RawMessage, depth int) (string, error) {
	var branches []json.RawMessage
	if kind(raw) != '[' || json.Unmarshal(raw, &branches) != nil || len(branches) == 0 {
		return "", invalid("$or needs a non-empty array")
	}
	parts := make([]string, 0, len(branches))
	for _, b := range branches {
		p, err := c.object(b, depth+1)
		if err != nil {
			return "", err
		}
		parts = append(parts, p)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, " OR ") + ")", nil
}

// operator decodes {"$op": ..., "$options": ...}; ok is false for a plain value.
func operator(raw json.RawMessage) (ops map[string]json.RawMessage, ok bool, err error) {
	if kind(raw) != '{' {
		return nil, false, nil
	}
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, true, invalid("malformed operator")
	}
	return ops, true, nil
}

func (c *compiler) text(key, col string, raw json.RawMessage) (string, error) {
	ops, isOp, err := operator(raw)
	if err != nil {
		return "", err
	}
	if !isOp {
		var s string
		if kind(raw) != '"' || json.Unmarshal(raw, &s) != nil {
			return "", invalid("%s must be a string", key)
		}
		return col + " = " + c.bind(s), nil
	}
	if in, ok := ops["$in"]; ok && len(ops) == 1 {
		var list []string
		if json.Unmarshal(in, &list) != nil {
			return "", invalid("%s.$in must be an array of strings", key)
		}
		return col + " = ANY(" + c.bind(list) + ")", nil
	}
	pattern, ok := ops["$regex"]
	if !ok {
		return "", invalid("unsupported operator on %s", key)
	}
	var re, options string
	if json.Unmarshal(pattern, &re) != nil || len(re) > maxPatternLen {
		return "", invalid("%s.$regex must be a string of at most %d bytes", key, maxPatternLen)
	}
	if _, err := regexp.Compile(re); err != nil {
		return "", invalid("%s.$regex: %v", key, err)
	}
	for k, v := range ops {
		switch k {
		case "$regex":
		case "$options":
			if json.Unmarshal(v, &options) != nil || (options != "" && options != "i") {
				return "", invalid("only the i option is supported")
			}
		default:
			return "", invalid("unsupported operator %s on %s", k, key)
		}
	}
	op := " ~ "
	if options == "i" {
		op = " ~* "
	}
	return col + op + c.bind(re), nil
}

func parseInt(raw json.RawMessage) (int64, bool) {
	switch kind(raw) {
	case '"', '{', '[', 't', 'f', 'n', 0:
		return 0, false
	}
	var n json.Number
	if json.Unmarshal(raw, &n) != nil {
		return 0, false
	}
	v, err := n.Int64()
	return v, err == nil
}

func (c *compiler) integer(key, col string, raw json.RawMessage) (string, error) {
	ops, isOp, err := operator(raw)
	if err != nil {
		return "", err
	}
	if !isOp {
		v, ok := parseInt(raw)
		if !ok {
			return "", invalid("%s must be an integer", key)
		}
		return col + " = " + c.bind(v), nil
	}
	in, ok := ops["$in"]
	if !ok || len(ops) != 1 {
		return "", invalid("unsupported operator on %s", key)
	}
	var items []json.RawMessage
	if kind(in) != '[' || json.Unmarshal(in, &items) != nil {
		return "", invalid("%s.$in must be an array", key)
	}
	list := make([]int64, 0, len(items))
	for _, it := range items {
		v, ok := parseInt(it)
		if !ok {
			return "", invalid("%s.$in must hold integers", key)
		}
		list = append(list, v)
	}
	return col + " = ANY(" + c.bind(list) + ")", nil
}

func (c *compiler) groups(raw json.RawMessage) (string, error) {
	ops, isOp, err := operator(raw)
	if err != nil {
		return "", err
	}
	if !isOp {
		var id string
		if kind(raw) != '"' || json.Unmarshal(raw, &id) != nil {
			return "", invalid("userGroups must be a string")
		}
		return c.bind(id) + " = ANY(user_groups)", nil
	}
	in, ok := ops["$in"]
	var list []string
	if !ok || len(ops) != 1 || json.Unmarshal(in, &list) != nil {
		return "", invalid("userGroups supports a group id or $in")
	}
	return "user_groups && " + c.bind(list), nil
}

package metadata

import (
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
)

// TableModel lets a struct override its table name.
type TableModel interface {
	TableName() string
}

// Mapper derives entity types from Go structs using `db` tags and caches
// the result per reflect.Type.
//
// Tag formats:
//   - "column"       -> property mapped to column
//   - "column,pk"    -> key property (composite keys keep declaration order)
//   - "pk"           -> column named "pk" that is the single key
//   - "-"            -> field skipped
//
// Without a tag the column is the snake_case field name. The first exported
// embedded struct without a tag becomes the base type (table-per-hierarchy);
// unexported embedded structs are flattened.
type Mapper struct {
	mu           sync.RWMutex
	cache        map[reflect.Type]*EntityType
	FieldMapFunc func(string) string
}

// NewMapper creates a mapper with snake_case column naming.
func NewMapper() *Mapper {
	return &Mapper{
		cache:        make(map[reflect.Type]*EntityType),
		FieldMapFunc: SnakeCase,
	}
}

var defaultMapper = NewMapper()

// FromStruct derives an entity type from a struct value or pointer using the
// process-wide mapper.
func FromStruct(model any) (*EntityType, error) {
	return defaultMapper.EntityOf(model)
}

// EntityOf returns the entity type for model, building it on first use.
func (m *Mapper) EntityOf(model any) (*EntityType, error) {
	if model == nil {
		return nil, errors.New("metadata: nil model")
	}
	typ := reflect.TypeOf(model)
	for typ.Kind() == reflect.Ptr || typ.Kind() == reflect.Slice {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("metadata: expected struct, got %s", typ.Kind())
	}

	m.mu.RLock()
	et, ok := m.cache[typ]
	m.mu.RUnlock()
	if ok {
		return et, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.build(typ)
}

// build assumes m.mu is held.
func (m *Mapper) build(typ reflect.Type) (*EntityType, error) {
	if et, ok := m.cache[typ]; ok {
		return et, nil
	}

	et := NewEntityType(typ.Name(), m.tableName(typ))

	var base *EntityType
	var keyNames []string
	legacyKey := ""
	idField := ""

	var collect func(t reflect.Type, allowBase bool) error
	collect = func(t reflect.Type, allowBase bool) error {
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			tag, hasTag := field.Tag.Lookup("db")

			if field.Anonymous && !hasTag && field.Type.Kind() == reflect.Struct {
				if allowBase && base == nil && field.IsExported() {
					b, err := m.build(field.Type)
					if err != nil {
						return err
					}
					base = b
					continue
				}
				if err := collect(field.Type, false); err != nil {
					return err
				}
				continue
			}

			if !field.IsExported() {
				continue
			}

			column, isPK := parseDBTag(tag)
			if column == "-" {
				continue
			}
			if column == "" {
				column = m.FieldMapFunc(field.Name)
			}

			kind, nullable := kindOf(field.Type)
			if _, err := et.AddProperty(field.Name, column, DefaultTypeMapping(kind), nullable); err != nil {
				return err
			}

			switch {
			case column == "pk":
				legacyKey = field.Name
			case isPK:
				keyNames = append(keyNames, field.Name)
			}
			if idField == "" && (field.Name == "ID" || field.Name == "Id") {
				idField = field.Name
			}
		}
		return nil
	}
	if err := collect(typ, true); err != nil {
		return nil, fmt.Errorf("metadata: %s: %w", typ.Name(), err)
	}

	if base != nil {
		if err := et.SetBaseType(base); err != nil {
			return nil, err
		}
		m.cache[typ] = et
		return et, nil
	}

	switch {
	case len(keyNames) > 0:
	case legacyKey != "":
		keyNames = []string{legacyKey}
	case idField != "":
		keyNames = []string{idField}
	}
	if len(keyNames) > 0 {
		if err := et.SetPrimaryKey(keyNames...); err != nil {
			return nil, err
		}
	}

	m.cache[typ] = et
	return et, nil
}

func (m *Mapper) tableName(typ reflect.Type) string {
	if tm, ok := reflect.New(typ).Interface().(TableModel); ok {
		return tm.TableName()
	}
	if tm, ok := reflect.Zero(typ).Interface().(TableModel); ok {
		return tm.TableName()
	}
	return m.FieldMapFunc(typ.Name())
}

// parseDBTag splits a db tag into the column name and the pk flag.
func parseDBTag(tag string) (column string, isPK bool) {
	parts := strings.Split(tag, ",")
	column = strings.TrimSpace(parts[0])
	for _, part := range parts[1:] {
		if strings.TrimSpace(part) == "pk" {
			isPK = true
			break
		}
	}
	if column == "pk" {
		isPK = true
	}
	return column, isPK
}

// SnakeCase converts a Go field name to snake_case. Upper-case runs are one
// word: "CustomerID" -> "customer_id", "HTTPServer" -> "http_server".
func SnakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	b.Grow(len(name) + 4)
	for i, r := range runes {
		upper := 'A' <= r && r <= 'Z'
		if upper && i > 0 {
			prevLower := 'a' <= runes[i-1] && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && 'a' <= runes[i+1] && runes[i+1] <= 'z'
			prevUpper := 'A' <= runes[i-1] && runes[i-1] <= 'Z'
			if prevLower || (prevUpper && nextLower) {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

var (
	timeType  = reflect.TypeOf(time.Time{})
	bytesType = reflect.TypeOf([]byte(nil))
)

var nullTypes = map[reflect.Type]Kind{
	reflect.TypeOf(sql.NullString{}):  KindString,
	reflect.TypeOf(sql.NullInt64{}):   KindInt,
	reflect.TypeOf(sql.NullInt32{}):   KindInt,
	reflect.TypeOf(sql.NullInt16{}):   KindInt,
	reflect.TypeOf(sql.NullByte{}):    KindInt,
	reflect.TypeOf(sql.NullFloat64{}): KindFloat,
	reflect.TypeOf(sql.NullBool{}):    KindBool,
	reflect.TypeOf(sql.NullTime{}):    KindTime,
}

// kindOf maps a Go type to a Kind; pointers and sql.Null* types are nullable.
func kindOf(t reflect.Type) (Kind, bool) {
	if k, ok := nullTypes[t]; ok {
		return k, true
	}
	nullable := false
	if t.Kind() == reflect.Ptr {
		nullable = true
		t = t.Elem()
	}
	switch {
	case t == timeType:
		return KindTime, nullable
	case t == bytesType:
		return KindBytes, true
	}
	switch t.Kind() {
	case reflect.Bool:
		return KindBool, nullable
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return KindInt, nullable
	case reflect.Float32, reflect.Float64:
		return KindFloat, nullable
	case reflect.String:
		return KindString, nullable
	default:
		return KindUnknown, nullable
	}
}

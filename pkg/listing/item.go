// Package listing defines the records returned by the storage files listing
// API and the collection they are accumulated into.
package listing

import (
	"encoding/json"
)

// Field is a single named value of an Item.
type Field struct {
	Name  string
	Value any
}

// Item is one record of a listing page. Fields keep the order in which they
// appeared in the response body. Values are string, json.Number, bool, nil or
// json.RawMessage for nested objects and arrays.
type Item []Field

// Get returns the value of the named field.
func (it Item) Get(name string) (any, bool) {
	for _, f := range it {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Set replaces the value of the named field, appending it if missing.
func (it Item) Set(name string, value any) Item {
	for i := range it {
		if it[i].Name == name {
			it[i].Value = value
			return it
		}
	}
	return append(it, Field{Name: name, Value: value})
}

// Names returns the field names in order.
func (it Item) Names() []string {
	names := make([]string, len(it))
	for i, f := range it {
		names[i] = f.Name
	}
	return names
}

// Map returns the item as a plain map.
func (it Item) Map() map[string]any {
	m := make(map[string]any, len(it))
	for _, f := range it {
		m[f.Name] = f.Value
	}
	return m
}

// MarshalJSON encodes the item as a JSON object preserving field order.
func (it Item) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, f := range it {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, key...)
		buf = append(buf, ':')
		buf = append(buf, val...)
	}
	return append(buf, '}'), nil
}

// Page is the decoded body of a single listing response.
type Page []Item

// Collection accumulates the items of every page in request order.
type Collection []Item

// Append adds all items of page to the collection.
func (c Collection) Append(page Page) Collection {
	return append(c, page...)
}

// Columns returns the union of field names across all items, in order of
// first appearance.
func (c Collection) Columns() []string {
	seen := make(map[string]struct{})
	var columns []string
	for _, it := range c {
		for _, f := range it {
			if _, ok := seen[f.Name]; ok {
				continue
			}
			seen[f.Name] = struct{}{}
			columns = append(columns, f.Name)
		}
	}
	return columns
}

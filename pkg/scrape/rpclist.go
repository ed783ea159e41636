package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/sitebackup/pkg/checkpoint"
	"github.com/Sternrassler/sitebackup/pkg/client"
	"github.com/Sternrassler/sitebackup/pkg/pagination"
	"github.com/Sternrassler/sitebackup/pkg/sqlite"
	"github.com/Sternrassler/sitebackup/pkg/transport"
	"github.com/rs/zerolog"
)

// ListSpec describes a paged JSON-RPC list method.
type ListSpec struct {
	Name   string
	Method string
	Params transport.Params

	// PageParam is the param carrying the page number. Defaults to "page".
	PageParam string

	Mode     pagination.Mode
	MaxPages int

	// ItemsField is the result field holding the item list. Empty means the
	// result itself is the list.
	ItemsField string

	// TotalField is the result field holding the page count. Defaults to
	// "total_pages".
	TotalField string

	// IDField is the item field used as record id. Defaults to "id".
	IDField string
}

func (s ListSpec) withDefaults() ListSpec {
	if s.PageParam == "" {
		s.PageParam = "page"
	}
	if s.TotalField == "" {
		s.TotalField = "total_pages"
	}
	if s.IDField == "" {
		s.IDField = "id"
	}
	return s
}

// NewRPCListTask builds a task that walks spec's list method and stores each
// item in records.
func NewRPCListTask(spec ListSpec, c *client.Client, registry *checkpoint.Registry, records *sqlite.RecordStore, logger *zerolog.Logger) *PagedTask[json.RawMessage] {
	spec = spec.withDefaults()
	return &PagedTask[json.RawMessage]{
		TaskName: spec.Name,
		Registry: registry,
		Mode:     spec.Mode,
		MaxPages: spec.MaxPages,
		Fetch: func(ctx context.Context, page int) (pagination.Page[json.RawMessage], error) {
			var result json.RawMessage
			if err := c.Call(ctx, spec.Method, spec.Params.With(spec.PageParam, page), &result); err != nil {
				return pagination.Page[json.RawMessage]{}, err
			}
			return DecodePage(result, spec.ItemsField, spec.TotalField)
		},
		Store: func(ctx context.Context, page int, items []json.RawMessage) error {
			return storeItems(ctx, records, spec.Name, spec.IDField, items)
		},
		Logger: logger,
	}
}

// DecodePage extracts items and the page count from a list result.
func DecodePage(result json.RawMessage, itemsField, totalField string) (pagination.Page[json.RawMessage], error) {
	var page pagination.Page[json.RawMessage]
	trimmed := bytes.TrimSpace(result)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return page, nil
	}

	if itemsField == "" {
		if err := json.Unmarshal(trimmed, &page.Items); err != nil {
			return page, fmt.Errorf("decode item list: %w", err)
		}
		return page, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return page, fmt.Errorf("decode list result: %w", err)
	}
	if raw, ok := fields[itemsField]; ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		if err := json.Unmarshal(raw, &page.Items); err != nil {
			return page, fmt.Errorf("decode %s: %w", itemsField, err)
		}
	}
	if raw, ok := fields[totalField]; ok {
		var total json.Number
		if err := json.Unmarshal(raw, &total); err != nil {
			return page, fmt.Errorf("decode %s: %w", totalField, err)
		}
		n, err := total.Int64()
		if err != nil {
			return page, fmt.Errorf("decode %s: %w", totalField, err)
		}
		page.TotalPages = int(n)
	}
	return page, nil
}

// ItemID returns the value of field in a JSON object as a string.
func ItemID(item json.RawMessage, field string) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil {
		return "", fmt.Errorf("decode item: %w", err)
	}
	raw, ok := fields[field]
	if !ok {
		return "", fmt.Errorf("item has no %q field", field)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("item field %q is neither string nor number", field)
}

func storeItems(ctx context.Context, records *sqlite.RecordStore, task, idField string, items []json.RawMessage) error {
	for _, item := range items {
		id, err := ItemID(item, idField)
		if err != nil {
			return fmt.Errorf("%s: %w", task, err)
		}
		if _, err := records.Put(ctx, task, id, item); err != nil {
			return err
		}
	}
	return nil
}

// Package pagination implements opaque cursor tokens for list endpoints.
package pagination

import (
	"encoding/base64"
	"encoding/json"
)

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size,default=50" validate:"gte=1,lte=250"`
}

// Cursor marks the last row of a page. ID carries the row key the next
// page starts after.
type Cursor struct {
	ID string `json:"id,omitempty"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token"`
	HasMore       bool   `json:"has_more"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}
	return &cursor, nil
}

// Paginate slices rows to one page and builds the page info. keyOf must
// return a stable row key and rows must already be ordered by it.
func Paginate[T any](rows []T, p Pagination, keyOf func(T) string) ([]T, *PageInfo, error) {
	size := p.PageSize
	if size <= 0 {
		size = 50
	}

	start := 0
	if p.PageToken != "" {
		cursor, err := DecodeCursor(p.PageToken)
		if err != nil {
			return nil, nil, err
		}
		for i, row := range rows {
			if keyOf(row) == cursor.ID {
				start = i + 1
				break
			}
		}
	}

	if start >= len(rows) {
		return nil, &PageInfo{}, nil
	}

	end := start + size
	hasMore := end < len(rows)
	if !hasMore {
		end = len(rows)
	}

	page := rows[start:end]
	info := &PageInfo{HasMore: hasMore}
	if hasMore {
		token, err := EncodeCursor(Cursor{ID: keyOf(page[len(page)-1])})
		if err != nil {
			return nil, nil, err
		}
		info.NextPageToken = token
	}
	return page, info, nil
}

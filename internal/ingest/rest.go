package ingest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"lightmix/internal/dataset"
)

// Client fetches rows from a dataset service over REST.
type Client struct {
	base string
	rest *resty.Client
}

// NewClient builds a REST client for the dataset service at base.
func NewClient(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second) // default fallback
	}
	return &Client{base: base, rest: r}
}

type rowsResp struct {
	Rows  []map[string]string `json:"rows"`
	Total int                 `json:"total"`
}

// FetchRows pages through the dataset service until it runs out of rows,
// returning them in service order. pageSize bounds each request.
func (c *Client) FetchRows(ctx context.Context, pageSize int) ([]map[string]string, error) {
	if pageSize <= 0 {
		pageSize = 500
	}
	path := "/api/v1/rows"

	var out []map[string]string
	for offset := 0; ; offset += pageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var page rowsResp
		resp, err := c.rest.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"offset": strconv.Itoa(offset),
				"limit":  strconv.Itoa(pageSize),
			}).
			SetResult(&page).
			// Some dataset services omit the Content-Type header; the
			// payload is JSON regardless.
			ForceContentType("application/json").
			Get(c.base + path)
		if err != nil {
			return nil, fmt.Errorf("ingest: request failed: %w", err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("ingest: API error: status %d, body: %s", resp.StatusCode(), resp.String())
		}

		out = append(out, page.Rows...)
		if len(page.Rows) < pageSize {
			break
		}
	}

	log.Info().Str("base", c.base).Int("rows", len(out)).Msg("dataset fetched")
	return out, nil
}

// FetchFrame fetches all rows and shapes them into a frame with the given
// column order. Keys absent from a row become missing cells.
func (c *Client) FetchFrame(ctx context.Context, columns []string, pageSize int) (*dataset.Frame, error) {
	rows, err := c.FetchRows(ctx, pageSize)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("ingest: dataset service returned no rows")
	}
	return dataset.FromMaps(columns, rows), nil
}

package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	internal "github.com/ZanzyTHEbar/rlhf-datasets/rlds"

	"github.com/rs/zerolog"
)

// maxPageSize is the largest page the rows API serves.
const maxPageSize = 100

type rowsPage struct {
	Rows []struct {
		RowIdx int            `json:"row_idx"`
		Row    map[string]any `json:"row"`
	} `json:"rows"`
	NumRowsTotal int `json:"num_rows_total"`
}

// loadRemote pages through the datasets-server rows API until every row of
// the split is loaded.
func loadRemote(ctx context.Context, opts Options, dataset, split string, logger zerolog.Logger) (RecordSource, error) {
	endpoint := strings.TrimRight(opts.RemoteEndpoint, "/")
	if endpoint == "" {
		endpoint = internal.DefaultRemoteEndpoint
	}
	config := opts.RemoteConfig
	if config == "" {
		config = internal.DefaultRemoteConfig
	}
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var records []Record
	total := -1
	for offset := 0; total < 0 || offset < total; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q := url.Values{}
		q.Set("dataset", dataset)
		q.Set("config", config)
		q.Set("split", split)
		q.Set("offset", strconv.Itoa(offset))
		q.Set("length", strconv.Itoa(pageSize))

		body, err := opts.HTTP.Fetch(ctx, endpoint+"/rows?"+q.Encode())
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s@%s rows at offset %d: %w", dataset, split, offset, err)
		}
		page, err := decodePage(body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s@%s rows at offset %d: %w", dataset, split, offset, err)
		}
		total = page.NumRowsTotal
		if len(page.Rows) == 0 {
			break
		}
		for _, r := range page.Rows {
			records = append(records, Record(r.Row))
		}
		offset += len(page.Rows)
		logger.Debug().Int("offset", offset).Int("total", total).Msg("Fetched remote rows")
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: remote dataset %s@%s has no rows", ErrLocatorNotFound, dataset, split)
	}
	return &memSource{records: records}, nil
}

func decodePage(body []byte) (*rowsPage, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var page rowsPage
	if err := dec.Decode(&page); err != nil {
		return nil, err
	}
	for _, r := range page.Rows {
		normalizeJSON(r.Row)
	}
	return &page, nil
}

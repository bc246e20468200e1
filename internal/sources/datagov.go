package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// DataGov searches the data.gov CKAN catalog.
type DataGov struct {
	client  *Client
	baseURL string
	apiKey  string
}

func NewDataGov(client *Client, baseURL, apiKey string) *DataGov {
	return &DataGov{client: client, baseURL: baseURL, apiKey: apiKey}
}

func (d *DataGov) headers() map[string]string {
	headers := map[string]string{"Accept": "application/json"}
	if d.apiKey != "" {
		headers["X-Api-Key"] = d.apiKey
	}
	return headers
}

func normalizeDataset(dataset map[string]any) SourceItem {
	var pdfURL string
	for _, raw := range listField(dataset, "resources") {
		resource, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if strings.EqualFold(strField(resource, "format"), "PDF") {
			pdfURL = strField(resource, "url")
			break
		}
	}

	agency := strField(mapField(dataset, "organization"), "title")
	id := firstNonEmpty(strField(dataset, "id"), strField(dataset, "name"))

	excerpt := strField(dataset, "notes")
	if len(excerpt) > 500 {
		excerpt = excerpt[:500]
	}

	return SourceItem{
		SourceType:  "datagov",
		ID:          id,
		Title:       firstNonEmpty(strField(dataset, "title"), "Untitled Dataset"),
		Agency:      agency,
		Date:        firstNonEmpty(strField(dataset, "metadata_modified"), strField(dataset, "metadata_created")),
		URL:         "https://catalog.data.gov/dataset/" + id,
		Excerpt:     excerpt,
		PDFURL:      pdfURL,
		ContentType: "dataset",
		Raw:         dataset,
	}
}

func (d *DataGov) SearchDatasets(ctx context.Context, query, organization, resFormat string, rows int) ([]map[string]any, []SourceItem, error) {
	if rows <= 0 {
		rows = 10
	}

	var fqParts []string
	if organization != "" {
		fqParts = append(fqParts, fmt.Sprintf("organization:%q", organization))
	}
	if resFormat != "" {
		fqParts = append(fqParts, fmt.Sprintf("res_format:%q", resFormat))
	}

	params := url.Values{
		"q":     {query},
		"rows":  {strconv.Itoa(rows)},
		"start": {"0"},
	}
	if len(fqParts) > 0 {
		params.Set("fq", strings.Join(fqParts, " AND "))
	}

	d.client.obs.Log().Info().Str("query", query).Msg("Searching data.gov")

	var payload struct {
		Result struct {
			Results []map[string]any `json:"results"`
		} `json:"result"`
	}
	err := d.client.do(ctx, request{
		method:  http.MethodGet,
		url:     d.baseURL + "/package_search",
		headers: d.headers(),
		params:  params,
	}, &payload)
	if err != nil {
		return nil, nil, err
	}

	items := make([]SourceItem, 0, len(payload.Result.Results))
	for _, dataset := range payload.Result.Results {
		items = append(items, normalizeDataset(dataset))
	}
	return payload.Result.Results, items, nil
}

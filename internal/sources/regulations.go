package sources

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// Regulations searches documents and dockets on Regulations.gov.
type Regulations struct {
	client  *Client
	baseURL string
	apiKey  string
}

func NewRegulations(client *Client, baseURL, apiKey string) *Regulations {
	return &Regulations{client: client, baseURL: baseURL, apiKey: apiKey}
}

func (r *Regulations) headers() map[string]string {
	return map[string]string{
		"X-Api-Key": r.apiKey,
		"Accept":    "application/json",
	}
}

type regulationsEnvelope struct {
	Data []map[string]any `json:"data"`
}

type regulationsSingle struct {
	Data map[string]any `json:"data"`
}

func normalizeRegulationsDocument(doc map[string]any) SourceItem {
	attrs := mapField(doc, "attributes")
	id := strField(doc, "id")
	return SourceItem{
		SourceType: "regulations_document",
		ID:         id,
		Title:      firstNonEmpty(strField(attrs, "title"), "Untitled Document"),
		Agency:     strField(attrs, "agencyId"),
		Date:       strField(attrs, "postedDate"),
		URL:        "https://www.regulations.gov/document/" + id,
		Excerpt:    firstNonEmpty(strField(attrs, "summary"), strField(attrs, "abstract")),
		Raw:        doc,
	}
}

func normalizeRegulationsDocket(docket map[string]any) SourceItem {
	attrs := mapField(docket, "attributes")
	id := strField(docket, "id")
	return SourceItem{
		SourceType: "regulations_docket",
		ID:         id,
		Title:      firstNonEmpty(strField(attrs, "title"), "Untitled Docket"),
		Agency:     strField(attrs, "agencyId"),
		Date:       firstNonEmpty(strField(attrs, "lastModifiedDate"), strField(attrs, "modifyDate")),
		URL:        "https://www.regulations.gov/docket/" + id,
		Excerpt:    firstNonEmpty(strField(attrs, "abstract"), strField(attrs, "summary")),
		Raw:        docket,
	}
}

func (r *Regulations) SearchDocuments(ctx context.Context, term, dateGE, dateLE string, pageSize int) ([]map[string]any, []SourceItem, error) {
	if pageSize <= 0 {
		pageSize = 10
	}
	params := url.Values{
		"filter[searchTerm]": {term},
		"sort":               {"-postedDate"},
		"page[size]":         {strconv.Itoa(pageSize)},
		"page[number]":       {"1"},
	}
	if dateGE != "" {
		params.Set("filter[postedDate][ge]", dateGE)
	}
	if dateLE != "" {
		params.Set("filter[postedDate][le]", dateLE)
	}

	r.client.obs.Log().Info().Str("term", term).Msg("Searching Regulations.gov documents")

	var envelope regulationsEnvelope
	err := r.client.do(ctx, request{
		method:  http.MethodGet,
		url:     r.baseURL + "/documents",
		headers: r.headers(),
		params:  params,
	}, &envelope)
	if err != nil {
		return nil, nil, err
	}

	items := make([]SourceItem, 0, len(envelope.Data))
	for _, doc := range envelope.Data {
		items = append(items, normalizeRegulationsDocument(doc))
	}
	return envelope.Data, items, nil
}

func (r *Regulations) GetDocument(ctx context.Context, documentID string) (map[string]any, SourceItem, error) {
	r.client.obs.Log().Info().Str("document_id", documentID).Msg("Fetching Regulations.gov document")

	var single regulationsSingle
	err := r.client.do(ctx, request{
		method:  http.MethodGet,
		url:     r.baseURL + "/documents/" + url.PathEscape(documentID),
		headers: r.headers(),
	}, &single)
	if err != nil {
		return nil, SourceItem{}, err
	}
	return single.Data, normalizeRegulationsDocument(single.Data), nil
}

func (r *Regulations) SearchDockets(ctx context.Context, term string, pageSize int) ([]map[string]any, []SourceItem, error) {
	if pageSize <= 0 {
		pageSize = 10
	}
	params := url.Values{
		"filter[searchTerm]": {term},
		"sort":               {"-lastModifiedDate"},
		"page[size]":         {strconv.Itoa(pageSize)},
		"page[number]":       {"1"},
	}

	r.client.obs.Log().Info().Str("term", term).Msg("Searching Regulations.gov dockets")

	var envelope regulationsEnvelope
	err := r.client.do(ctx, request{
		method:  http.MethodGet,
		url:     r.baseURL + "/dockets",
		headers: r.headers(),
		params:  params,
	}, &envelope)
	if err != nil {
		return nil, nil, err
	}

	items := make([]SourceItem, 0, len(envelope.Data))
	for _, docket := range envelope.Data {
		items = append(items, normalizeRegulationsDocket(docket))
	}
	return envelope.Data, items, nil
}

func (r *Regulations) GetDocket(ctx context.Context, docketID string) (map[string]any, SourceItem, error) {
	r.client.obs.Log().Info().Str("docket_id", docketID).Msg("Fetching Regulations.gov docket")

	var single regulationsSingle
	err := r.client.do(ctx, request{
		method:  http.MethodGet,
		url:     r.baseURL + "/dockets/" + url.PathEscape(docketID),
		headers: r.headers(),
	}, &single)
	if err != nil {
		return nil, SourceItem{}, err
	}
	return single.Data, normalizeRegulationsDocket(single.Data), nil
}

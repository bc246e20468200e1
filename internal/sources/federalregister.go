package sources

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// FederalRegister searches published rules, proposed rules, and notices.
// The API needs no key.
type FederalRegister struct {
	client  *Client
	baseURL string
}

func NewFederalRegister(client *Client, baseURL string) *FederalRegister {
	return &FederalRegister{client: client, baseURL: baseURL}
}

func normalizeFederalRegisterDocument(doc map[string]any) SourceItem {
	var agencies []string
	for _, raw := range listField(doc, "agencies") {
		if a, ok := raw.(map[string]any); ok {
			if name := strField(a, "name"); name != "" {
				agencies = append(agencies, name)
			}
		}
	}
	return SourceItem{
		SourceType:  "federal_register",
		ID:          strField(doc, "document_number"),
		Title:       firstNonEmpty(strField(doc, "title"), "Untitled Document"),
		Agency:      strings.Join(agencies, ", "),
		Date:        strField(doc, "publication_date"),
		URL:         strField(doc, "html_url"),
		Excerpt:     strField(doc, "abstract"),
		PDFURL:      strField(doc, "pdf_url"),
		ContentType: strField(doc, "type"),
		Raw:         doc,
	}
}

func (f *FederalRegister) SearchDocuments(ctx context.Context, query, documentType, agency string, days, perPage int) ([]map[string]any, []SourceItem, error) {
	if perPage <= 0 {
		perPage = 10
	}
	if perPage > 1000 {
		perPage = 1000
	}
	params := url.Values{
		"conditions[term]": {query},
		"per_page":         {strconv.Itoa(perPage)},
		"page":             {"1"},
		"order":            {"newest"},
	}
	if documentType != "" {
		params.Set("conditions[type][]", documentType)
	}
	if agency != "" {
		params.Set("conditions[agencies][]", agency)
	}
	if days > 0 {
		start, _ := DateRange(days)
		params.Set("conditions[publication_date][gte]", start)
	}

	f.client.obs.Log().Info().Str("query", query).Msg("Searching Federal Register")

	var payload struct {
		Results []map[string]any `json:"results"`
	}
	err := f.client.do(ctx, request{
		method: http.MethodGet,
		url:    f.baseURL + "/documents.json",
		params: params,
	}, &payload)
	if err != nil {
		return nil, nil, err
	}

	items := make([]SourceItem, 0, len(payload.Results))
	for _, doc := range payload.Results {
		items = append(items, normalizeFederalRegisterDocument(doc))
	}
	return payload.Results, items, nil
}

func (f *FederalRegister) GetDocument(ctx context.Context, documentNumber string) (map[string]any, SourceItem, error) {
	f.client.obs.Log().Info().Str("document_number", documentNumber).Msg("Fetching Federal Register document")

	var doc map[string]any
	err := f.client.do(ctx, request{
		method: http.MethodGet,
		url:    f.baseURL + "/documents/" + url.PathEscape(documentNumber) + ".json",
	}, &doc)
	if err != nil {
		return nil, SourceItem{}, err
	}
	return doc, normalizeFederalRegisterDocument(doc), nil
}

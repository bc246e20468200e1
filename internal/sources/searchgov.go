package sources

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// SearchGov runs site-wide web search over government domains via the
// Search.gov i14y API. It only works when an affiliate and access key
// are configured.
type SearchGov struct {
	client    *Client
	baseURL   string
	affiliate string
	accessKey string
}

func NewSearchGov(client *Client, baseURL, affiliate, accessKey string) *SearchGov {
	return &SearchGov{
		client:    client,
		baseURL:   baseURL,
		affiliate: affiliate,
		accessKey: accessKey,
	}
}

// Configured reports whether the affiliate credentials are present. The
// tool surface omits this source entirely when they are not.
func (s *SearchGov) Configured() bool {
	return s.affiliate != "" && s.accessKey != ""
}

func normalizeWebResult(result map[string]any) SourceItem {
	link := strField(result, "link")
	id := link
	if len(id) > 100 {
		id = id[:100]
	}
	return SourceItem{
		SourceType:  "searchgov",
		ID:          id,
		Title:       firstNonEmpty(strField(result, "title"), "Untitled"),
		Date:        firstNonEmpty(strField(result, "publication_date"), strField(result, "created_at")),
		URL:         link,
		Excerpt:     strField(result, "snippet"),
		ContentType: "web_result",
		Raw:         result,
	}
}

func (s *SearchGov) Search(ctx context.Context, query string, limit int) ([]map[string]any, []SourceItem, error) {
	if limit <= 0 {
		limit = 10
	}
	params := url.Values{
		"affiliate":           {s.affiliate},
		"access_key":          {s.accessKey},
		"query":               {query},
		"enable_highlighting": {"false"},
		"limit":               {strconv.Itoa(limit)},
		"offset":              {"0"},
	}

	s.client.obs.Log().Info().Str("query", query).Msg("Searching Search.gov")

	var payload struct {
		Web struct {
			Results []map[string]any `json:"results"`
		} `json:"web"`
	}
	err := s.client.do(ctx, request{
		method: http.MethodGet,
		url:    s.baseURL + "/results/i14y",
		params: params,
	}, &payload)
	if err != nil {
		return nil, nil, err
	}

	items := make([]SourceItem, 0, len(payload.Web.Results))
	for _, result := range payload.Web.Results {
		items = append(items, normalizeWebResult(result))
	}
	return payload.Web.Results, items, nil
}

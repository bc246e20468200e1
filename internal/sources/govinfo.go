package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// GovInfo searches the GPO GovInfo repository and fetches package
// summaries and content.
type GovInfo struct {
	client  *Client
	baseURL string
	apiKey  string
}

func NewGovInfo(client *Client, baseURL, apiKey string) *GovInfo {
	return &GovInfo{client: client, baseURL: baseURL, apiKey: apiKey}
}

func (g *GovInfo) keyParams(params url.Values) url.Values {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", g.apiKey)
	return params
}

func normalizeGovInfoResult(result map[string]any) SourceItem {
	packageID := strField(result, "packageId")
	link := "https://www.govinfo.gov/app/details/" + packageID
	if granule := strField(result, "granuleId"); granule != "" {
		link += "/" + granule
	}

	agency := ""
	switch authors := result["governmentAuthor"].(type) {
	case []any:
		if len(authors) > 0 {
			if s, ok := authors[0].(string); ok {
				agency = s
			}
		}
	case string:
		agency = authors
	}

	return SourceItem{
		SourceType: "govinfo_result",
		ID:         packageID,
		Title:      firstNonEmpty(strField(result, "title"), "Untitled"),
		Agency:     agency,
		Date:       firstNonEmpty(strField(result, "lastModified"), strField(result, "dateIssued")),
		URL:        link,
		Excerpt:    firstNonEmpty(strField(result, "abstract"), strField(result, "description")),
		Raw:        result,
	}
}

func normalizeGovInfoPackage(pkg map[string]any) SourceItem {
	packageID := strField(pkg, "packageId")
	return SourceItem{
		SourceType: "govinfo_package",
		ID:         packageID,
		Title:      firstNonEmpty(strField(pkg, "title"), "Untitled Package"),
		Agency:     strField(pkg, "publisher"),
		Date:       firstNonEmpty(strField(pkg, "lastModified"), strField(pkg, "dateIssued")),
		URL:        "https://www.govinfo.gov/app/details/" + packageID,
		Excerpt:    firstNonEmpty(strField(pkg, "abstract"), strField(pkg, "description")),
		Raw:        pkg,
	}
}

// BuildQuery assembles a GovInfo search expression. Collection and date
// clauses are only appended when the keywords don't already carry them.
func BuildQuery(keywords, collection string, days int) string {
	keywords = strings.TrimSpace(keywords)
	lowered := strings.ToLower(keywords)
	var parts []string

	if collection != "" && !strings.Contains(lowered, "collection:") {
		parts = append(parts, "collection:"+collection)
	}
	if keywords != "" {
		parts = append(parts, keywords)
	}
	if days > 0 && !strings.Contains(lowered, "publishdate:range") && !strings.Contains(lowered, "dateissued:range") {
		start := time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02")
		parts = append(parts, fmt.Sprintf("publishdate:range(%s,)", start))
	}
	return strings.Join(parts, " AND ")
}

func (g *GovInfo) Search(ctx context.Context, query string, pageSize int) (map[string]any, []SourceItem, error) {
	if pageSize <= 0 {
		pageSize = 10
	}

	g.client.obs.Log().Info().Str("query", query).Msg("Searching GovInfo")

	var payload map[string]any
	err := g.client.do(ctx, request{
		method: http.MethodPost,
		url:    g.baseURL + "/search",
		params: g.keyParams(nil),
		jsonBody: map[string]any{
			"query":      query,
			"pageSize":   strconv.Itoa(pageSize),
			"offsetMark": "*",
			"sorts":      []map[string]string{{"field": "lastModified", "sortOrder": "DESC"}},
		},
		noCache: true,
	}, &payload)
	if err != nil {
		return nil, nil, err
	}

	var items []SourceItem
	for _, raw := range listField(payload, "results") {
		if result, ok := raw.(map[string]any); ok {
			items = append(items, normalizeGovInfoResult(result))
		}
	}
	return payload, items, nil
}

func (g *GovInfo) GetPackageSummary(ctx context.Context, packageID string) (map[string]any, SourceItem, error) {
	g.client.obs.Log().Info().Str("package_id", packageID).Msg("Fetching GovInfo package")

	var summary map[string]any
	err := g.client.do(ctx, request{
		method: http.MethodGet,
		url:    g.baseURL + "/packages/" + url.PathEscape(packageID) + "/summary",
		params: g.keyParams(nil),
	}, &summary)
	if err != nil {
		return nil, SourceItem{}, err
	}
	return summary, normalizeGovInfoPackage(summary), nil
}

// PackageContentURL points at a renderable format of the package. The
// fetch layer retrieves and converts it; the PDF URL rides along for
// indexing into session memory.
func (g *GovInfo) PackageContentURL(packageID, format string) string {
	return g.baseURL + "/packages/" + url.PathEscape(packageID) + "/" + format + "?api_key=" + url.QueryEscape(g.apiKey)
}

func (g *GovInfo) GetCollection(ctx context.Context, collectionCode, startDatetime string, pageSize int) (map[string]any, []SourceItem, error) {
	if pageSize <= 0 {
		pageSize = 10
	}
	if startDatetime == "" {
		startDatetime = time.Now().UTC().AddDate(0, 0, -30).Format("2006-01-02T15:04:05Z")
	}

	params := g.keyParams(url.Values{
		"pageSize":   {strconv.Itoa(pageSize)},
		"offsetMark": {"*"},
	})

	g.client.obs.Log().Info().Str("collection", collectionCode).Msg("Fetching GovInfo collection")

	var payload map[string]any
	err := g.client.do(ctx, request{
		method: http.MethodGet,
		url:    g.baseURL + "/collections/" + url.PathEscape(collectionCode) + "/" + url.PathEscape(startDatetime),
		params: params,
	}, &payload)
	if err != nil {
		return nil, nil, err
	}

	var items []SourceItem
	for _, raw := range listField(payload, "packages") {
		if pkg, ok := raw.(map[string]any); ok {
			items = append(items, normalizeGovInfoPackage(pkg))
		}
	}
	return payload, items, nil
}

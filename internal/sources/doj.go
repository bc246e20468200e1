package sources

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DOJ searches Department of Justice press releases.
type DOJ struct {
	client  *Client
	baseURL string
}

func NewDOJ(client *Client, baseURL string) *DOJ {
	return &DOJ{client: client, baseURL: baseURL}
}

// dojTimestamp converts the epoch-seconds strings the DOJ API uses into
// YYYY-MM-DD; unparseable values pass through unchanged.
func dojTimestamp(v any) string {
	raw := anyToString(v)
	if raw == "" {
		return ""
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return raw
	}
	return time.Unix(secs, 0).Format("2006-01-02")
}

func normalizePressRelease(release map[string]any) SourceItem {
	id := firstNonEmpty(strField(release, "uuid"), anyToString(release["nid"]))

	link := strField(release, "url")
	if link == "" {
		if path := strField(release, "path"); path != "" {
			link = "https://www.justice.gov" + path
		}
	}

	date := dojTimestamp(release["created"])
	if date == "" {
		date = dojTimestamp(release["changed"])
	}

	agency := "Department of Justice"
	if components := listField(release, "component"); len(components) > 0 {
		switch c := components[0].(type) {
		case map[string]any:
			if name := strField(c, "name"); name != "" {
				agency = name
			}
		case string:
			agency = c
		}
	}

	excerpt := strField(release, "teaser")
	if body := mapField(release, "body"); body != nil {
		if summary := strField(body, "summary"); summary != "" {
			excerpt = summary
		}
	}

	return SourceItem{
		SourceType:  "doj_press_release",
		ID:          id,
		Title:       firstNonEmpty(strField(release, "title"), "Untitled Press Release"),
		Agency:      agency,
		Date:        date,
		URL:         link,
		Excerpt:     excerpt,
		ContentType: "press_release",
		Raw:         release,
	}
}

func (d *DOJ) SearchPressReleases(ctx context.Context, query, component string, days, limit int) ([]map[string]any, []SourceItem, error) {
	if limit <= 0 {
		limit = 10
	}
	params := url.Values{
		"pagesize":  {strconv.Itoa(limit)},
		"page":      {"0"},
		"sort":      {"date"},
		"direction": {"DESC"},
	}
	if query != "" {
		params.Set("keyword", query)
	}
	if component != "" {
		params.Set("component", component)
	}

	d.client.obs.Log().Info().Str("query", query).Msg("Searching DOJ press releases")

	// The endpoint answers with either a bare list or a wrapped object.
	var payload any
	err := d.client.do(ctx, request{
		method:  http.MethodGet,
		url:     d.baseURL + "/press_releases.json",
		headers: map[string]string{"Accept": "application/json"},
		params:  params,
	}, &payload)
	if err != nil {
		return nil, nil, err
	}

	var releases []map[string]any
	switch body := payload.(type) {
	case []any:
		for _, raw := range body {
			if r, ok := raw.(map[string]any); ok {
				releases = append(releases, r)
			}
		}
	case map[string]any:
		rawList := listField(body, "results")
		if rawList == nil {
			rawList = listField(body, "data")
		}
		for _, raw := range rawList {
			if r, ok := raw.(map[string]any); ok {
				releases = append(releases, r)
			}
		}
	}

	if days > 0 && len(releases) > 0 {
		cutoff := time.Now().AddDate(0, 0, -days)
		filtered := releases[:0]
		for _, release := range releases {
			raw := anyToString(release["created"])
			secs, err := strconv.ParseInt(raw, 10, 64)
			if raw == "" || err != nil || !time.Unix(secs, 0).Before(cutoff) {
				filtered = append(filtered, release)
			}
		}
		releases = filtered
	}

	if len(releases) > limit {
		releases = releases[:limit]
	}
	items := make([]SourceItem, 0, len(releases))
	for _, release := range releases {
		items = append(items, normalizePressRelease(release))
	}
	return releases, items, nil
}

package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Congress fetches bills and roll-call votes from the Congress.gov API.
type Congress struct {
	client  *Client
	baseURL string
	apiKey  string
}

func NewCongress(client *Client, baseURL, apiKey string) *Congress {
	return &Congress{client: client, baseURL: baseURL, apiKey: apiKey}
}

func (c *Congress) headers() map[string]string {
	return map[string]string{
		"X-Api-Key": c.apiKey,
		"Accept":    "application/json",
	}
}

func normalizeBill(bill map[string]any) SourceItem {
	billType := strings.ToLower(strField(bill, "type"))
	number := anyToString(bill["number"])
	congress := anyToString(bill["congress"])
	latest := mapField(bill, "latestAction")

	return SourceItem{
		SourceType:  "congress_bill",
		ID:          fmt.Sprintf("%s-%s-%s", congress, billType, number),
		Title:       firstNonEmpty(strField(bill, "title"), "Untitled Bill"),
		Date:        firstNonEmpty(strField(bill, "updateDate"), strField(latest, "actionDate")),
		URL:         fmt.Sprintf("https://www.congress.gov/bill/%sth-congress/%s/%s", congress, billType, number),
		Excerpt:     strField(latest, "text"),
		ContentType: "bill",
		Raw:         bill,
	}
}

func normalizeVote(vote map[string]any, chamber string) SourceItem {
	voteNumber := firstNonEmpty(anyToString(vote["rollNumber"]), anyToString(vote["rollCallNumber"]))
	congress := anyToString(vote["congress"])
	session := anyToString(vote["session"])

	title := firstNonEmpty(strField(vote, "question"), "Roll Call Vote")
	if result := strField(vote, "result"); result != "" {
		title += " - " + result
	}

	return SourceItem{
		SourceType:  "congress_vote",
		ID:          fmt.Sprintf("%s-%s-%s-%s", congress, session, chamber, voteNumber),
		Title:       title,
		Agency:      strings.ToUpper(chamber[:1]) + chamber[1:],
		Date:        firstNonEmpty(strField(vote, "date"), strField(vote, "updateDate")),
		URL:         fmt.Sprintf("https://www.congress.gov/roll-call-vote/%sth-congress-%s/%s/%s", congress, session, chamber, voteNumber),
		Excerpt:     strField(vote, "description"),
		ContentType: "vote",
		Raw:         vote,
	}
}

// SearchBills lists recent bills, filtering client-side by title or
// number when a query is given (the list endpoint has no search term).
func (c *Congress) SearchBills(ctx context.Context, query string, congress, limit int) ([]map[string]any, []SourceItem, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 250 {
		limit = 250
	}

	endpoint := c.baseURL + "/bill"
	if congress > 0 {
		endpoint += "/" + strconv.Itoa(congress)
	}
	params := url.Values{
		"format": {"json"},
		"limit":  {strconv.Itoa(limit)},
		"offset": {"0"},
	}

	c.client.obs.Log().Info().Str("query", query).Msg("Fetching Congress bills")

	var payload struct {
		Bills []map[string]any `json:"bills"`
	}
	err := c.client.do(ctx, request{
		method:  http.MethodGet,
		url:     endpoint,
		headers: c.headers(),
		params:  params,
	}, &payload)
	if err != nil {
		return nil, nil, err
	}

	bills := payload.Bills
	if query != "" {
		lowered := strings.ToLower(query)
		filtered := bills[:0]
		for _, b := range bills {
			if strings.Contains(strings.ToLower(strField(b, "title")), lowered) ||
				strings.Contains(strings.ToLower(anyToString(b["number"])), lowered) {
				filtered = append(filtered, b)
			}
		}
		bills = filtered
	}
	if len(bills) > limit {
		bills = bills[:limit]
	}

	items := make([]SourceItem, 0, len(bills))
	for _, bill := range bills {
		items = append(items, normalizeBill(bill))
	}
	return bills, items, nil
}

func (c *Congress) GetBill(ctx context.Context, congress int, billType string, billNumber int) (map[string]any, SourceItem, error) {
	endpoint := fmt.Sprintf("%s/bill/%d/%s/%d", c.baseURL, congress, strings.ToLower(billType), billNumber)

	c.client.obs.Log().Info().Str("url", endpoint).Msg("Fetching Congress bill")

	var payload struct {
		Bill map[string]any `json:"bill"`
	}
	err := c.client.do(ctx, request{
		method:  http.MethodGet,
		url:     endpoint,
		headers: c.headers(),
		params:  url.Values{"format": {"json"}},
	}, &payload)
	if err != nil {
		return nil, SourceItem{}, err
	}
	if payload.Bill == nil {
		return nil, SourceItem{}, &APIError{StatusCode: http.StatusNotFound, Message: "bill not found"}
	}
	return payload.Bill, normalizeBill(payload.Bill), nil
}

func (c *Congress) SearchVotes(ctx context.Context, chamber string, congress, limit int) ([]map[string]any, []SourceItem, error) {
	if chamber == "" {
		chamber = "house"
	}
	if congress <= 0 {
		congress = 118
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > 250 {
		limit = 250
	}

	endpoint := fmt.Sprintf("%s/%s/rollCall/%d", c.baseURL, chamber, congress)

	c.client.obs.Log().Info().Str("chamber", chamber).Msg("Fetching Congress votes")

	var payload map[string]any
	err := c.client.do(ctx, request{
		method:  http.MethodGet,
		url:     endpoint,
		headers: c.headers(),
		params:  url.Values{"format": {"json"}, "limit": {strconv.Itoa(limit)}},
	}, &payload)
	if err != nil {
		return nil, nil, err
	}

	rawVotes := listField(payload, "roll_calls")
	if rawVotes == nil {
		rawVotes = listField(payload, "rollCalls")
	}
	if rawVotes == nil {
		if single := mapField(payload, "vote"); single != nil {
			rawVotes = []any{single}
		}
	}

	var votes []map[string]any
	var items []SourceItem
	for _, raw := range rawVotes {
		vote, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		votes = append(votes, vote)
		items = append(items, normalizeVote(vote, chamber))
		if len(votes) >= limit {
			break
		}
	}
	return votes, items, nil
}

func anyToString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

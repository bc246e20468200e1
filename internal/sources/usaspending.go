package sources

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
)

// USASpending queries federal award spending. The API takes no key.
type USASpending struct {
	client  *Client
	baseURL string
}

func NewUSASpending(client *Client, baseURL string) *USASpending {
	return &USASpending{client: client, baseURL: baseURL}
}

var defaultSpendingFields = []string{
	"Award ID",
	"Recipient Name",
	"Award Amount",
	"Start Date",
	"End Date",
	"Awarding Agency",
	"Award Description",
}

var awardTypeCodes = map[string][]string{
	"contracts":       {"A", "B", "C", "D"},
	"grants":          {"02", "03", "04", "05"},
	"loans":           {"07", "08"},
	"direct_payments": {"06", "10"},
}

func formatCurrency(amount float64) string {
	abs := math.Abs(amount)
	switch {
	case abs >= 1_000_000_000_000:
		return fmt.Sprintf("$%.2fT", amount/1_000_000_000_000)
	case abs >= 1_000_000_000:
		return fmt.Sprintf("$%.2fB", amount/1_000_000_000)
	case abs >= 1_000_000:
		return fmt.Sprintf("$%.2fM", amount/1_000_000)
	case abs >= 1_000:
		return fmt.Sprintf("$%.2fK", amount/1_000)
	default:
		return fmt.Sprintf("$%.2f", amount)
	}
}

func awardAmount(result map[string]any) (float64, bool) {
	for _, key := range []string{"Award Amount", "total_obligations", "obligated_amount", "amount"} {
		if v, ok := result[key].(float64); ok {
			return v, true
		}
	}
	return 0, false
}

func normalizeSpending(result map[string]any) SourceItem {
	id := firstNonEmpty(
		strField(result, "generated_internal_id"),
		strField(result, "generated_unique_award_id"),
		anyToString(result["Award ID"]),
		strField(result, "award_id"),
		anyToString(result["internal_id"]),
	)

	title := firstNonEmpty(
		strField(result, "Recipient Name"),
		strField(result, "recipient_name"),
	)
	if title == "" {
		desc := firstNonEmpty(strField(result, "Award Description"), strField(result, "description"))
		if len(desc) > 100 {
			desc = desc[:100]
		}
		title = firstNonEmpty(desc, "Spending Record "+id)
	}

	agency := strField(result, "Awarding Agency")
	if agency == "" {
		if awarding := mapField(result, "awarding_agency"); awarding != nil {
			agency = strField(mapField(awarding, "toptier_agency"), "name")
		}
	}

	var excerpt string
	if amount, ok := awardAmount(result); ok {
		excerpt = "Amount: " + formatCurrency(amount)
	}
	if desc := firstNonEmpty(strField(result, "Award Description"), strField(result, "description")); desc != "" {
		if len(desc) > 200 {
			desc = desc[:200]
		}
		if excerpt != "" {
			excerpt += " - "
		}
		excerpt += desc
	}

	link := "https://www.usaspending.gov"
	if id != "" {
		link = "https://www.usaspending.gov/award/" + id
	}

	return SourceItem{
		SourceType:  "usaspending",
		ID:          id,
		Title:       title,
		Agency:      agency,
		Date:        firstNonEmpty(strField(result, "Start Date"), strField(result, "action_date"), strField(result, "period_of_performance_start_date")),
		URL:         link,
		Excerpt:     excerpt,
		ContentType: "spending",
		Raw:         result,
	}
}

// formatSpendingBrief renders a compact markdown summary the model can
// quote instead of raw award records.
func formatSpendingBrief(results []map[string]any, queryContext string) string {
	var sb strings.Builder
	sb.WriteString("# USAspending Summary\n\n")
	if queryContext != "" {
		fmt.Fprintf(&sb, "**Query Context:** %s\n\n", queryContext)
	}
	if len(results) == 0 {
		sb.WriteString("No spending data found for the specified criteria.\n")
		return sb.String()
	}

	fmt.Fprintf(&sb, "**Total Results:** %d\n\n", len(results))

	var total float64
	for _, r := range results {
		if amount, ok := awardAmount(r); ok {
			total += amount
		}
	}
	if total != 0 {
		fmt.Fprintf(&sb, "**Total Obligations:** %s\n\n", formatCurrency(total))
	}

	sb.WriteString("\n## Top Results\n\n")
	for i, result := range results {
		if i >= 10 {
			break
		}
		name := firstNonEmpty(
			strField(result, "Recipient Name"),
			strField(result, "recipient_name"),
			strField(result, "Awarding Agency"),
			strField(result, "name"),
		)
		if name == "" {
			name = fmt.Sprintf("Result %d", i+1)
		}
		fmt.Fprintf(&sb, "### %d. %s\n", i+1, name)
		if amount, ok := awardAmount(result); ok {
			fmt.Fprintf(&sb, "- **Amount:** %s\n", formatCurrency(amount))
		}
		if desc := firstNonEmpty(strField(result, "Award Description"), strField(result, "description")); desc != "" {
			if len(desc) > 200 {
				desc = desc[:200]
			}
			fmt.Fprintf(&sb, "- **Description:** %s...\n", desc)
		}
		if id := firstNonEmpty(anyToString(result["Award ID"]), strField(result, "award_id"), anyToString(result["internal_id"])); id != "" {
			fmt.Fprintf(&sb, "- **Award ID:** %s\n", id)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// SearchSpending queries awards by keyword, agency, recipient, and award
// type over the trailing window of days.
func (u *USASpending) SearchSpending(ctx context.Context, keywords []string, agency, recipient, awardType string, days, limit int) ([]map[string]any, []SourceItem, string, error) {
	if days <= 0 {
		days = 365
	}
	if limit <= 0 {
		limit = 10
	}

	filters := map[string]any{}

	var cleaned []string
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if len(k) >= 3 {
			cleaned = append(cleaned, k)
		}
	}
	if len(cleaned) > 0 {
		filters["keywords"] = cleaned
	}

	if agency = strings.TrimSpace(agency); agency != "" {
		filters["agencies"] = []map[string]string{{"type": "awarding", "tier": "toptier", "name": agency}}
	}
	if recipient = strings.TrimSpace(recipient); recipient != "" {
		filters["recipient_search_text"] = []string{recipient}
	}

	effective := strings.ToLower(strings.TrimSpace(awardType))
	if effective == "" {
		effective = "contracts"
	}
	codes, ok := awardTypeCodes[effective]
	if !ok {
		return nil, nil, "", &APIError{
			StatusCode: http.StatusBadRequest,
			Message:    fmt.Sprintf("unsupported award_type %q; supported: contracts, direct_payments, grants, loans", awardType),
		}
	}
	filters["award_type_codes"] = codes

	start, end := DateRange(days)
	filters["time_period"] = []map[string]string{{"start_date": start, "end_date": end}}

	u.client.obs.Log().Info().Str("keywords", strings.Join(cleaned, ",")).Msg("Searching USAspending")

	var payload struct {
		Results []map[string]any `json:"results"`
	}
	err := u.client.do(ctx, request{
		method: http.MethodPost,
		url:    u.baseURL + "/search/spending_by_award",
		jsonBody: map[string]any{
			"filters": filters,
			"fields":  defaultSpendingFields,
			"limit":   limit,
			"page":    1,
			"sort":    "Award Amount",
			"order":   "desc",
		},
	}, &payload)
	if err != nil {
		return nil, nil, "", err
	}

	items := make([]SourceItem, 0, len(payload.Results))
	for _, result := range payload.Results {
		items = append(items, normalizeSpending(result))
	}
	brief := formatSpendingBrief(payload.Results, strings.Join(cleaned, ", "))
	return payload.Results, items, brief, nil
}

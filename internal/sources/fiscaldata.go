package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// FiscalData queries Treasury fiscal datasets (public debt, interest
// rates, monthly receipts and outlays). No key required.
type FiscalData struct {
	client  *Client
	baseURL string
}

func NewFiscalData(client *Client, baseURL string) *FiscalData {
	return &FiscalData{client: client, baseURL: baseURL}
}

// fiscalDatasets maps the dataset names exposed to the model onto
// Treasury endpoints.
var fiscalDatasets = map[string]string{
	"debt_to_penny":           "/v2/accounting/od/debt_to_penny",
	"debt_outstanding":        "/v1/debt/mspd/mspd_table_1",
	"treasury_offset":         "/v1/debt/top/top_state",
	"interest_rates":          "/v1/accounting/od/avg_interest_rates",
	"monthly_receipts":        "/v1/accounting/mts/mts_table_4",
	"monthly_outlays":         "/v1/accounting/mts/mts_table_5",
	"federal_surplus_deficit": "/v2/accounting/od/statement_net_cost",
}

// FiscalDatasetNames lists the supported dataset keys, sorted.
func FiscalDatasetNames() []string {
	names := make([]string, 0, len(fiscalDatasets))
	for name := range fiscalDatasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func currencyFromAny(v any) string {
	switch t := v.(type) {
	case float64:
		return formatCurrency(t)
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return formatCurrency(f)
		}
		return t
	default:
		return "N/A"
	}
}

func normalizeFiscal(record map[string]any, dataset string) SourceItem {
	recordDate := strField(record, "record_date")

	title := "Fiscal Data Record - " + recordDate
	if v, ok := record["tot_pub_debt_out_amt"]; ok {
		title = "Public Debt: " + currencyFromAny(v)
	} else if v, ok := record["avg_interest_rate_amt"]; ok {
		title = fmt.Sprintf("Interest Rate: %v%% - %s", v, firstNonEmpty(strField(record, "security_desc"), "Treasury"))
	}

	return SourceItem{
		SourceType:  "fiscal_data",
		ID:          dataset + "-" + recordDate,
		Title:       title,
		Agency:      "U.S. Treasury",
		Date:        recordDate,
		URL:         "https://fiscaldata.treasury.gov/datasets/" + strings.ReplaceAll(dataset, "_", "-"),
		Excerpt:     "Record date: " + recordDate,
		ContentType: "fiscal_data",
		Raw:         record,
	}
}

func formatFiscalBrief(records []map[string]any, totalCount int, dataset string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Treasury Fiscal Data: %s\n\n", dataset)
	if len(records) == 0 {
		sb.WriteString("No fiscal data found for the specified criteria.\n")
		return sb.String()
	}

	fmt.Fprintf(&sb, "**Total Records:** %d\n\n", totalCount)
	sb.WriteString("**Data Source:** U.S. Treasury Fiscal Data\n\n")
	sb.WriteString("\n## Recent Data\n\n")

	known := []struct{ key, label string }{
		{"record_date", "Date"},
		{"tot_pub_debt_out_amt", "Total Public Debt Outstanding"},
		{"avg_interest_rate_amt", "Average Interest Rate"},
		{"security_desc", "Security Type"},
		{"current_month_net_rcpt_amt", "Monthly Receipts"},
		{"current_month_net_outly_amt", "Monthly Outlays"},
	}

	for i, record := range records {
		if i >= 10 {
			break
		}
		fmt.Fprintf(&sb, "### Record %d\n", i+1)
		for _, field := range known {
			v, ok := record[field.key]
			if !ok {
				continue
			}
			switch field.key {
			case "record_date", "security_desc":
				fmt.Fprintf(&sb, "- **%s:** %v\n", field.label, v)
			case "avg_interest_rate_amt":
				fmt.Fprintf(&sb, "- **%s:** %v%%\n", field.label, v)
			default:
				fmt.Fprintf(&sb, "- **%s:** %s\n", field.label, currencyFromAny(v))
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// QueryDataset runs one dataset query with optional field filters.
func (f *FiscalData) QueryDataset(ctx context.Context, dataset string, filters map[string]string, fields []string, sortBy string, pageSize int) ([]map[string]any, []SourceItem, string, error) {
	endpoint, ok := fiscalDatasets[dataset]
	if !ok {
		return nil, nil, "", &APIError{
			StatusCode: http.StatusBadRequest,
			Message:    fmt.Sprintf("unknown fiscal dataset %q; supported: %s", dataset, strings.Join(FiscalDatasetNames(), ", ")),
		}
	}
	if pageSize <= 0 {
		pageSize = 10
	}

	params := url.Values{
		"page[size]":   {strconv.Itoa(pageSize)},
		"page[number]": {"1"},
	}
	for field, condition := range filters {
		params.Set("filter["+field+"]", condition)
	}
	if len(fields) > 0 {
		params.Set("fields", strings.Join(fields, ","))
	}
	if sortBy == "" {
		sortBy = "-record_date"
	}
	params.Set("sort", sortBy)

	f.client.obs.Log().Info().Str("dataset", dataset).Msg("Querying Fiscal Data")

	var payload struct {
		Data []map[string]any `json:"data"`
		Meta struct {
			TotalCount int `json:"total-count"`
		} `json:"meta"`
	}
	err := f.client.do(ctx, request{
		method: http.MethodGet,
		url:    f.baseURL + endpoint,
		params: params,
	}, &payload)
	if err != nil {
		return nil, nil, "", err
	}

	items := make([]SourceItem, 0, len(payload.Data))
	for _, record := range payload.Data {
		items = append(items, normalizeFiscal(record, dataset))
	}
	total := payload.Meta.TotalCount
	if total == 0 {
		total = len(payload.Data)
	}
	return payload.Data, items, formatFiscalBrief(payload.Data, total, dataset), nil
}

// Package tools declares the federal data tools the model can call and
// dispatches calls to the source clients. Tool failures are returned as
// data inside the result so the model can read and react to them.
package tools

import (
	"fmt"
	"strings"

	"github.com/policyradar/policyradar/internal/provider"
)

// Source keys, matching the routing vocabulary the model sees.
const (
	SourceRegulations     = "regulations"
	SourceGovInfo         = "govinfo"
	SourceFederalRegister = "federal_register"
	SourceCongress        = "congress"
	SourceUSASpending     = "usaspending"
	SourceFiscalData      = "fiscal_data"
	SourceDataGov         = "datagov"
	SourceDOJ             = "doj"
	SourceSearchGov       = "searchgov"
)

// DisplayNames maps source keys to user-facing names.
var DisplayNames = map[string]string{
	SourceRegulations:     "Regulations.gov",
	SourceGovInfo:         "GovInfo",
	SourceFederalRegister: "Federal Register",
	SourceCongress:        "Congress.gov",
	SourceUSASpending:     "USAspending",
	SourceFiscalData:      "Treasury Fiscal Data",
	SourceDataGov:         "Data.gov",
	SourceDOJ:             "DOJ Press Releases",
	SourceSearchGov:       "Search.gov",
}

// Descriptions feed the source router's classification prompt.
var Descriptions = map[string]string{
	SourceRegulations:     "rulemakings, dockets, proposed/final rules, agency regulatory actions",
	SourceGovInfo:         "official publications and broad federal documents",
	SourceFederalRegister: "rules, notices, presidential documents in the Federal Register",
	SourceCongress:        "bills, legislation status, roll call votes, sponsors, committees",
	SourceUSASpending:     "federal awards, contracts, grants, recipients, agencies, award totals",
	SourceFiscalData:      "Treasury fiscal time series (debt, receipts, outlays, interest rates)",
	SourceDataGov:         "datasets, open data resources, data catalog discovery",
	SourceDOJ:             "DOJ press releases, enforcement announcements",
	SourceSearchGov:       "broad .gov site search",
}

// toolSources maps tool names to the source they draw from. Tools not
// listed here (URL fetch, PDF memory search) are always available.
var toolSources = map[string]string{
	"regs_search_documents":         SourceRegulations,
	"regs_search_dockets":           SourceRegulations,
	"regs_get_document":             SourceRegulations,
	"regs_read_document_content":    SourceRegulations,
	"govinfo_search":                SourceGovInfo,
	"govinfo_package_summary":       SourceGovInfo,
	"govinfo_read_package_content":  SourceGovInfo,
	"federal_register_search":       SourceFederalRegister,
	"federal_register_get_document": SourceFederalRegister,
	"congress_search_bills":         SourceCongress,
	"congress_get_bill":             SourceCongress,
	"congress_search_votes":         SourceCongress,
	"usaspending_search":            SourceUSASpending,
	"fiscal_data_query":             SourceFiscalData,
	"datagov_search":                SourceDataGov,
	"doj_search_press_releases":     SourceDOJ,
	"searchgov_search":              SourceSearchGov,
}

// ToolSource reports which source a tool belongs to; ok is false for
// tools that are available regardless of source selection.
func ToolSource(name string) (string, bool) {
	source, ok := toolSources[name]
	return source, ok
}

// daysTools lists the tools that accept a look-back window, so a
// request-level default can be injected when the model omits it.
var daysTools = map[string]bool{
	"regs_search_documents":     true,
	"govinfo_search":            true,
	"federal_register_search":   true,
	"usaspending_search":        true,
	"doj_search_press_releases": true,
}

// AcceptsDays reports whether the tool takes a days parameter.
func AcceptsDays(name string) bool {
	return daysTools[name]
}

func strProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func intProp(description string, def int) map[string]any {
	return map[string]any{"type": "integer", "description": description, "default": def}
}

func boolProp(description string) map[string]any {
	return map[string]any{"type": "boolean", "description": description, "default": false}
}

// Declarations returns every tool the model may call.
func Declarations() []provider.Tool {
	return []provider.Tool{
		{
			Name:        "regs_search_documents",
			Description: "Search for regulatory documents on Regulations.gov including proposed rules, final rules, notices, and other documents. Returns the most recent documents matching the search criteria.",
			Parameters: map[string]any{
				"search_term": strProp("Search keywords for finding documents (e.g., 'asylum', 'water quality', 'immigration')"),
				"days":        intProp("Number of days to look back from today (e.g., 30, 60, 90)", 30),
				"page_size":   intProp("Number of results to return (max 25)", 10),
			},
			Required: []string{"search_term"},
		},
		{
			Name:        "regs_search_dockets",
			Description: "Search for dockets (rulemaking proceedings) on Regulations.gov. Dockets contain the full record of a rulemaking including all related documents and public comments.",
			Parameters: map[string]any{
				"search_term": strProp("Search keywords for finding dockets"),
				"page_size":   intProp("Number of results to return", 10),
			},
			Required: []string{"search_term"},
		},
		{
			Name:        "regs_get_document",
			Description: "Get detailed information about a specific document from Regulations.gov by its document ID.",
			Parameters: map[string]any{
				"document_id": strProp("The Regulations.gov document ID (e.g., 'EPA-HQ-OW-2024-0001-0001')"),
			},
			Required: []string{"document_id"},
		},
		{
			Name:        "regs_read_document_content",
			Description: "Read and extract the full text content of a Regulations.gov document. Use this after searching to get the complete document text for analysis and summarization.",
			Parameters: map[string]any{
				"document_id": strProp("The Regulations.gov document ID to read (e.g., 'EPA-HQ-OW-2024-0001-0001')"),
			},
			Required: []string{"document_id"},
		},
		{
			Name:        "govinfo_search",
			Description: "Search GovInfo for Federal Register content and other official government publications. Supports keywords, collection filters, and time windows.",
			Parameters: map[string]any{
				"keywords":   strProp("Search keywords (e.g., 'immigration', 'water quality'). Use concise topic terms."),
				"collection": strProp("Optional collection code filter (e.g., 'FR' for Federal Register)."),
				"days":       intProp("Number of days to look back from today (e.g., 30, 60, 90).", 30),
				"query":      strProp("Advanced query override (e.g., 'collection:FR AND immigration AND publishdate:range(2024-01-01,)'). Use only when needed."),
				"page_size":  intProp("Number of results to return", 10),
			},
			Required: []string{"keywords"},
		},
		{
			Name:        "govinfo_package_summary",
			Description: "Get detailed summary information about a specific GovInfo package by its package ID.",
			Parameters: map[string]any{
				"package_id": strProp("The GovInfo package ID"),
			},
			Required: []string{"package_id"},
		},
		{
			Name:        "govinfo_read_package_content",
			Description: "Read and extract the full text content of a GovInfo package (Federal Register entry, bill, etc.). Use this after searching to get the complete document text for analysis and summarization.",
			Parameters: map[string]any{
				"package_id": strProp("The GovInfo package ID to read"),
			},
			Required: []string{"package_id"},
		},
		{
			Name:        "federal_register_search",
			Description: "Search the Federal Register API for rules, proposed rules, notices, and presidential documents.",
			Parameters: map[string]any{
				"query":         strProp("Search keywords"),
				"document_type": strProp("Optional type filter: RULE, PRORULE, NOTICE, or PRESDOCU"),
				"agency":        strProp("Optional agency slug filter (e.g., 'environmental-protection-agency')"),
				"days":          intProp("Number of days to look back from today", 30),
				"per_page":      intProp("Number of results to return", 10),
			},
			Required: []string{"query"},
		},
		{
			Name:        "federal_register_get_document",
			Description: "Get full details for a Federal Register document by its document number.",
			Parameters: map[string]any{
				"document_number": strProp("The Federal Register document number (e.g., '2024-12345')"),
			},
			Required: []string{"document_number"},
		},
		{
			Name:        "congress_search_bills",
			Description: "Search recent bills in Congress by keyword. Returns bill numbers, titles, and latest actions.",
			Parameters: map[string]any{
				"query":    strProp("Keywords to match against bill titles and numbers"),
				"congress": intProp("Congress number (e.g., 118)", 118),
				"limit":    intProp("Number of results to return", 10),
			},
			Required: []string{"query"},
		},
		{
			Name:        "congress_get_bill",
			Description: "Get detailed information about a specific bill by congress, type, and number.",
			Parameters: map[string]any{
				"congress":    intProp("Congress number (e.g., 118)", 118),
				"bill_type":   strProp("Bill type: hr, s, hjres, sjres, hconres, sconres, hres, or sres"),
				"bill_number": intProp("The bill number", 0),
			},
			Required: []string{"congress", "bill_type", "bill_number"},
		},
		{
			Name:        "congress_search_votes",
			Description: "Get recent roll call votes for a chamber of Congress.",
			Parameters: map[string]any{
				"chamber":  strProp("Chamber: 'house' or 'senate'"),
				"congress": intProp("Congress number (e.g., 118)", 118),
				"limit":    intProp("Number of results to return", 10),
			},
			Required: []string{},
		},
		{
			Name:        "usaspending_search",
			Description: "Search federal spending awards (contracts, grants, loans) on USAspending.gov by keywords, agency, or recipient.",
			Parameters: map[string]any{
				"keywords":   strProp("Search keywords (at least 3 characters)"),
				"agency":     strProp("Optional awarding agency name filter"),
				"recipient":  strProp("Optional recipient name filter"),
				"award_type": strProp("Award type: contracts, grants, loans, idvs, direct_payments, or other"),
				"days":       intProp("Number of days to look back from today", 365),
				"limit":      intProp("Number of results to return", 10),
			},
			Required: []string{"keywords"},
		},
		{
			Name:        "fiscal_data_query",
			Description: "Query Treasury Fiscal Data time series such as debt to the penny, average interest rates, and monthly receipts and outlays.",
			Parameters: map[string]any{
				"dataset":      strProp("Dataset key: debt_to_penny, debt_outstanding, treasury_offset, interest_rates, monthly_receipts, monthly_outlays, or federal_surplus_deficit"),
				"filter_field": strProp("Optional field name to filter on (e.g., 'record_date')"),
				"filter_value": strProp("Optional filter value (e.g., '2024-01-31')"),
				"sort_by":      strProp("Sort field, prefix with '-' for descending (default '-record_date')"),
				"page_size":    intProp("Number of records to return", 10),
			},
			Required: []string{"dataset"},
		},
		{
			Name:        "datagov_search",
			Description: "Search the Data.gov catalog for government datasets and open data resources.",
			Parameters: map[string]any{
				"query":        strProp("Search keywords"),
				"organization": strProp("Optional publishing organization filter (e.g., 'epa-gov')"),
				"format":       strProp("Optional resource format filter (e.g., 'CSV', 'PDF')"),
				"rows":         intProp("Number of results to return", 10),
			},
			Required: []string{"query"},
		},
		{
			Name:        "doj_search_press_releases",
			Description: "Search Department of Justice press releases and enforcement announcements.",
			Parameters: map[string]any{
				"query":     strProp("Search keywords"),
				"component": strProp("Optional DOJ component filter (e.g., 'Antitrust Division')"),
				"days":      intProp("Number of days to look back from today", 90),
				"limit":     intProp("Number of results to return", 10),
			},
			Required: []string{"query"},
		},
		{
			Name:        "searchgov_search",
			Description: "Run a broad search across .gov sites via Search.gov. Useful when no specialized source fits.",
			Parameters: map[string]any{
				"query": strProp("Search keywords"),
				"limit": intProp("Number of results to return", 10),
			},
			Required: []string{"query"},
		},
		{
			Name:        "fetch_url_content",
			Description: "Fetch and extract text content from any government URL. Use this as a fallback when you have a URL but need to read its content.",
			Parameters: map[string]any{
				"url":        strProp("The URL to fetch content from (should be a .gov or official government URL)"),
				"max_length": intProp("Optional maximum length of text to return. Increase for longer documents.", 15000),
				"full_text":  boolProp("Set true to return the full extracted text without truncation."),
			},
			Required: []string{"url"},
		},
		{
			Name:        "search_pdf_memory",
			Description: "Search indexed PDF content stored in memory for this session. Use this to recall details from PDFs already processed.",
			Parameters: map[string]any{
				"query": strProp("Search query for the PDF memory."),
				"top_k": intProp("Number of matches to return.", 5),
			},
			Required: []string{"query"},
		},
	}
}

// FilterForSources keeps tools whose source is selected plus the
// always-available tools.
func FilterForSources(declared []provider.Tool, selected map[string]bool) []provider.Tool {
	filtered := make([]provider.Tool, 0, len(declared))
	for _, tool := range declared {
		source, bound := toolSources[tool.Name]
		if !bound || selected[source] {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}

func shortenValue(value string, maxLen int) string {
	if len(value) <= maxLen {
		return value
	}
	return value[:maxLen-3] + "..."
}

func argLabel(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	if v, ok := args[key].(float64); ok {
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}

// Label renders a short display label for a tool call.
func Label(name string, args map[string]any) string {
	switch name {
	case "regs_search_documents":
		return "Search Regulations.gov documents: " + argLabel(args, "search_term")
	case "regs_search_dockets":
		return "Search Regulations.gov dockets: " + argLabel(args, "search_term")
	case "regs_get_document":
		return "Get document: " + argLabel(args, "document_id")
	case "regs_read_document_content":
		return "Read document content: " + argLabel(args, "document_id")
	case "govinfo_search":
		query := argLabel(args, "query")
		if query == "" {
			query = argLabel(args, "keywords")
		}
		return "Search GovInfo: " + query
	case "govinfo_package_summary":
		return "Get package: " + argLabel(args, "package_id")
	case "govinfo_read_package_content":
		return "Read package content: " + argLabel(args, "package_id")
	case "federal_register_search":
		return "Search Federal Register: " + argLabel(args, "query")
	case "federal_register_get_document":
		return "Get Federal Register document: " + argLabel(args, "document_number")
	case "congress_search_bills":
		return "Search Congress bills: " + argLabel(args, "query")
	case "congress_get_bill":
		return fmt.Sprintf("Get bill: %s %s", strings.ToUpper(argLabel(args, "bill_type")), argLabel(args, "bill_number"))
	case "congress_search_votes":
		return "Recent votes: " + argLabel(args, "chamber")
	case "usaspending_search":
		return "Search federal spending: " + argLabel(args, "keywords")
	case "fiscal_data_query":
		return "Query fiscal data: " + argLabel(args, "dataset")
	case "datagov_search":
		return "Search Data.gov: " + argLabel(args, "query")
	case "doj_search_press_releases":
		return "Search DOJ press releases: " + argLabel(args, "query")
	case "searchgov_search":
		return "Search .gov sites: " + argLabel(args, "query")
	case "fetch_url_content":
		return "Fetch URL: " + shortenValue(argLabel(args, "url"), 50)
	case "search_pdf_memory":
		return "Search PDF memory: " + shortenValue(argLabel(args, "query"), 50)
	default:
		return "Execute: " + name
	}
}

// PDFSearchLabel enriches the memory-search label with the top matched
// document when the preview names one.
func PDFSearchLabel(query string, preview map[string]any) string {
	base := "Search PDF memory: " + shortenValue(query, 50)
	docs, _ := preview["documents"].([]map[string]any)
	if len(docs) == 0 {
		if anyDocs, ok := preview["documents"].([]any); ok {
			for _, d := range anyDocs {
				if m, ok := d.(map[string]any); ok {
					docs = append(docs, m)
				}
			}
		}
	}
	if len(docs) == 0 {
		return base
	}
	docLabel, _ := docs[0]["doc_key"].(string)
	if docLabel == "" {
		docLabel, _ = docs[0]["pdf_url"].(string)
	}
	if docLabel == "" {
		return base
	}
	docLabel = shortenValue(docLabel, 50)
	if len(docs) > 1 {
		return fmt.Sprintf("%s (top: %s +%d)", base, docLabel, len(docs)-1)
	}
	return fmt.Sprintf("%s (top: %s)", base, docLabel)
}

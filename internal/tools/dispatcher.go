package tools

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/policyradar/policyradar/internal/fetch"
	"github.com/policyradar/policyradar/internal/memory"
	"github.com/policyradar/policyradar/internal/observe"
	"github.com/policyradar/policyradar/internal/sources"
)

const maxToolTextChars = 20000

// Deps holds the clients a Dispatcher calls into. Nil entries disable
// the corresponding tools gracefully.
type Deps struct {
	Regulations     *sources.Regulations
	GovInfo         *sources.GovInfo
	FederalRegister *sources.FederalRegister
	Congress        *sources.Congress
	USASpending     *sources.USASpending
	FiscalData      *sources.FiscalData
	DataGov         *sources.DataGov
	DOJ             *sources.DOJ
	SearchGov       *sources.SearchGov
	Fetcher         fetch.Fetcher
	Memory          *memory.Store
}

// Dispatcher executes tool calls for one orchestration call. It is
// request-scoped: the source accumulator belongs to a single session
// turn and is never shared across concurrent calls.
type Dispatcher struct {
	obs       *observe.Observer
	deps      Deps
	sessionID string
	embCfg    memory.EmbeddingConfig

	mu        sync.Mutex
	collected []sources.SourceItem
}

func NewDispatcher(obs *observe.Observer, deps Deps, sessionID string, embCfg memory.EmbeddingConfig) *Dispatcher {
	return &Dispatcher{
		obs:       obs,
		deps:      deps,
		sessionID: sessionID,
		embCfg:    embCfg,
	}
}

// Sources returns the accumulated citations, de-duplicated by ID in
// first-seen order.
func (d *Dispatcher) Sources() []sources.SourceItem {
	d.mu.Lock()
	defer d.mu.Unlock()
	seen := make(map[string]bool, len(d.collected))
	out := make([]sources.SourceItem, 0, len(d.collected))
	for _, item := range d.collected {
		if item.ID != "" && seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		out = append(out, item)
	}
	return out
}

// ClearSources resets the accumulator.
func (d *Dispatcher) ClearSources() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.collected = nil
}

func (d *Dispatcher) addSources(items ...sources.SourceItem) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.collected = append(d.collected, items...)
}

// Execute runs one tool call. It never returns an error: failures are
// embedded in the result so the model can see and react to them.
func (d *Dispatcher) Execute(ctx context.Context, name string, args map[string]any) (result, preview map[string]any) {
	if args == nil {
		args = map[string]any{}
	}
	d.obs.Log().Info().Str("tool", name).Msg("Executing tool")

	result, preview, err := d.dispatch(ctx, name, args)
	if err != nil {
		d.obs.Log().Warn().Str("tool", name).Str("error", err.Error()).Msg("Tool execution failed")
		return map[string]any{"error": err.Error()}, map[string]any{"error": err.Error()}
	}
	return result, preview
}

func (d *Dispatcher) dispatch(ctx context.Context, name string, args map[string]any) (map[string]any, map[string]any, error) {
	switch name {
	case "regs_search_documents":
		return d.execRegsSearchDocuments(ctx, args)
	case "regs_search_dockets":
		return d.execRegsSearchDockets(ctx, args)
	case "regs_get_document":
		return d.execRegsGetDocument(ctx, args)
	case "regs_read_document_content":
		return d.execRegsReadDocumentContent(ctx, args)
	case "govinfo_search":
		return d.execGovInfoSearch(ctx, args)
	case "govinfo_package_summary":
		return d.execGovInfoPackageSummary(ctx, args)
	case "govinfo_read_package_content":
		return d.execGovInfoReadPackageContent(ctx, args)
	case "federal_register_search":
		return d.execFederalRegisterSearch(ctx, args)
	case "federal_register_get_document":
		return d.execFederalRegisterGetDocument(ctx, args)
	case "congress_search_bills":
		return d.execCongressSearchBills(ctx, args)
	case "congress_get_bill":
		return d.execCongressGetBill(ctx, args)
	case "congress_search_votes":
		return d.execCongressSearchVotes(ctx, args)
	case "usaspending_search":
		return d.execUSASpendingSearch(ctx, args)
	case "fiscal_data_query":
		return d.execFiscalDataQuery(ctx, args)
	case "datagov_search":
		return d.execDataGovSearch(ctx, args)
	case "doj_search_press_releases":
		return d.execDOJSearch(ctx, args)
	case "searchgov_search":
		return d.execSearchGovSearch(ctx, args)
	case "fetch_url_content":
		return d.execFetchURLContent(ctx, args)
	case "search_pdf_memory":
		return d.execSearchPDFMemory(ctx, args)
	default:
		msg := "Unknown tool: " + name
		return map[string]any{"error": msg}, nil, nil
	}
}

// Argument helpers. The dispatcher must accept any superset of declared
// parameters: unknown keys are ignored, missing optional keys defaulted,
// and type mismatches coerced where reasonable.

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func argBool(args map[string]any, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}

// itemsPayload renders SourceItems into the compact listing shape tool
// results use.
func itemsPayload(items []sources.SourceItem) []map[string]any {
	out := make([]map[string]any, len(items))
	for i, item := range items {
		entry := map[string]any{
			"id":    item.ID,
			"title": item.Title,
			"url":   item.URL,
		}
		if item.Agency != "" {
			entry["agency"] = item.Agency
		}
		if item.Date != "" {
			entry["date"] = item.Date
		}
		if item.Excerpt != "" {
			entry["excerpt"] = item.Excerpt
		}
		out[i] = entry
	}
	return out
}

// listPreview is the standard search preview: count plus the first three
// titles truncated to 80 characters.
func listPreview(items []sources.SourceItem) map[string]any {
	titles := make([]string, 0, 3)
	for _, item := range items {
		if len(titles) == 3 {
			break
		}
		title := item.Title
		if len(title) > 80 {
			title = title[:80]
		}
		titles = append(titles, title)
	}
	return map[string]any{"count": len(items), "top_titles": titles}
}

func textPreview(text string) string {
	if text == "" {
		return "No content"
	}
	if len(text) > 150 {
		return text[:150] + "..."
	}
	return text
}

func (d *Dispatcher) execRegsSearchDocuments(ctx context.Context, args map[string]any) (map[string]any, map[string]any, error) {
	term := argString(args, "search_term")
	days := argInt(args, "days", 30)
	pageSize := argInt(args, "page_size", 10)

	dateGE, dateLE := sources.DateRange(days)
	_, items, err := d.deps.Regulations.SearchDocuments(ctx, term, dateGE, dateLE, pageSize)
	if err != nil {
		return nil, nil, err
	}
	d.addSources(items...)

	result := map[string]any{
		"count":      len(items),
		"date_range": map[string]any{"from": dateGE, "to": dateLE},
		"documents":  itemsPayload(items),
	}
	return result, listPreview(items), nil
}

func (d *Dispatcher) execRegsSearchDockets(ctx context.Context, args map[string]any) (map[string]any, map[string]any, error) {
	term := argString(args, "search_term")
	pageSize := argInt(args, "page_size", 10)

	_, items, err := d.deps.Regulations.SearchDockets(ctx, term, pageSize)
	if err != nil {
		return nil, nil, err
	}
	d.addSources(items...)

	result := map[string]any{
		"count":   len(items),
		"dockets": itemsPayload(items),
	}
	return result, listPreview(items), nil
}

func (d *Dispatcher) execRegsGetDocument(ctx context.Context, args map[string]any) (map[string]any, map[string]any, error) {
	documentID := argString(args, "document_id")

	doc, item, err := d.deps.Regulations.GetDocument(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	d.addSources(item)

	attrs, _ := doc["attributes"].(map[string]any)
	result := map[string]any{
		"id":     documentID,
		"title":  item.Title,
		"agency": item.Agency,
		"date":   item.Date,
		"url":    item.URL,
	}
	if attrs != nil {
		if summary, ok := attrs["summary"].(string); ok && summary != "" {
			result["summary"] = summary
		}
		if abstract, ok := attrs["abstract"].(string); ok && abstract != "" {
			result["abstract"] = abstract
		}
		if docType, ok := attrs["documentType"].(string); ok && docType != "" {
			result["document_type"] = docType
		}
	}

	title := item.Title
	if len(title) > 80 {
		title = title[:80]
	}
	preview := map[string]any{"title": title, "agency": item.Agency}
	return result, preview, nil
}

// regulationsFileURL picks the best downloadable rendition from the
// document's fileFormats, preferring text-like formats over PDF.
func regulationsFileURL(doc map[string]any) (fileURL, pdfURL string) {
	attrs, _ := doc["attributes"].(map[string]any)
	if attrs == nil {
		return "", ""
	}
	formats, _ := attrs["fileFormats"].([]any)
	byFormat := map[string]string{}
	for _, raw := range formats {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		format, _ := entry["format"].(string)
		u, _ := entry["fileUrl"].(string)
		if format != "" && u != "" {
			byFormat[strings.ToLower(format)] = u
		}
	}
	for _, preferred := range []string{"html", "htm", "txt", "xml", "pdf"} {
		if u, ok := byFormat[preferred]; ok {
			fileURL = u
			break
		}
	}
	return fileURL, byFormat["pdf"]
}

func (d *Dispatcher) execRegsReadDocumentContent(ctx context.Context, args map[string]any) (map[string]any, map[string]any, error) {
	documentID := argString(args, "document_id")
	pageURL := "https://www.regulations.gov/document/" + documentID

	var header []string
	var fileURL, pdfURL, title string
	doc, _, apiErr := d.deps.Regulations.GetDocument(ctx, documentID)
	if apiErr == nil {
		attrs, _ := doc["attributes"].(map[string]any)
		for _, field := range []struct{ key, label string }{
			{"title", "Title"},
			{"agencyId", "Agency"},
			{"documentType", "Document Type"},
			{"postedDate", "Posted"},
		} {
			if v, ok := attrs[field.key].(string); ok && v != "" {
				header = append(header, field.label+": "+v)
			}
		}
		if v, ok := attrs["summary"].(string); ok && v != "" {
			header = append(header, "\nSummary:\n"+v)
		}
		title, _ = attrs["title"].(string)
		fileURL, pdfURL = regulationsFileURL(doc)
	}

	var res fetch.Result
	if fileURL != "" {
		res = d.deps.Fetcher.FetchURL(ctx, fileURL, 15000)
	}
	if res.Text == "" {
		res = d.deps.Fetcher.FetchURL(ctx, pageURL, 15000)
	}
	if title == "" {
		title = res.Title
	}
	if res.PDFURL == "" && pdfURL != "" {
		res.PDFURL = pdfURL
	}

	fullText := res.Text
	if len(header) > 0 {
		apiContent := strings.Join(header, "\n")
		if fullText != "" {
			fullText = apiContent + "\n\n---\n\n" + fullText
		} else {
			fullText = apiContent
		}
	}

	item := sources.SourceItem{
		SourceType: "regulations_document",
		ID:         documentID,
		Title:      firstNonEmpty(title, "Document "+documentID),
		URL:        pageURL,
	}
	if fullText != "" {
		item.Excerpt = textPreview(fullText)
	}
	d.addSources(item)

	result := map[string]any{
		"document_id": documentID,
		"title":       title,
		"url":         pageURL,
		"full_text":   fullText,
	}
	if fullText == "" {
		result["error"] = firstNonEmpty(res.Error, errString(apiErr), "No content available.")
	}

	preview := map[string]any{
		"document_id": documentID,
		"text_length": len(fullText),
		"preview":     textPreview(fullText),
	}
	d.indexPDF(ctx, "regulations:"+documentID, title, res, preview)
	return result, preview, nil
}

func (d *Dispatcher) execGovInfoSearch(ctx context.Context, args map[string]any) (map[string]any, map[string]any, error) {
	query := argString(args, "query")
	keywords := argString(args, "keywords")
	base := firstNonEmpty(query, keywords)
	if base == "" {
		msg := "Missing search query."
		return map[string]any{"error": msg}, map[string]any{"error": msg}, nil
	}

	collection := argString(args, "collection")
	days := argInt(args, "days", 0)
	pageSize := argInt(args, "page_size", 10)

	full := sources.BuildQuery(base, collection, days)
	data, items, err := d.deps.GovInfo.Search(ctx, full, pageSize)
	if err != nil {
		return nil, nil, err
	}
	d.addSources(items...)

	result := map[string]any{
		"count":   len(items),
		"results": itemsPayload(items),
	}
	if total, ok := data["count"]; ok {
		result["total_count"] = total
	}
	return result, listPreview(items), nil
}

func (d *Dispatcher) execGovInfoPackageSummary(ctx context.Context, args map[string]any) (map[string]any, map[string]any, error) {
	packageID := argString(args, "package_id")

	data, item, err := d.deps.GovInfo.GetPackageSummary(ctx, packageID)
	if err != nil {
		return nil, nil, err
	}
	d.addSources(item)

	result := map[string]any{
		"package_id": packageID,
		"title":      item.Title,
		"url":        item.URL,
	}
	for _, key := range []string{"collectionCode", "publisher", "dateIssued", "lastModified", "abstract", "description"} {
		if v, ok := data[key].(string); ok && v != "" {
			result[key] = v
		}
	}

	title := item.Title
	if len(title) > 80 {
		title = title[:80]
	}
	preview := map[string]any{"title": title}
	if collection, ok := data["collectionCode"].(string); ok {
		preview["collection"] = collection
	}
	return result, preview, nil
}

func (d *Dispatcher) execGovInfoReadPackageContent(ctx context.Context, args map[string]any) (map[string]any, map[string]any, error) {
	packageID := argString(args, "package_id")
	detailsURL := "https://www.govinfo.gov/app/details/" + packageID

	title := "Package " + packageID
	if summary, item, err := d.deps.GovInfo.GetPackageSummary(ctx, packageID); err == nil {
		_ = summary
		if item.Title != "" {
			title = item.Title
		}
	}

	// Text renditions first; the PDF rendition is the fallback.
	var res fetch.Result
	for _, format := range []string{"htm", "txt", "xml", "pdf"} {
		res = d.deps.Fetcher.FetchURL(ctx, d.deps.GovInfo.PackageContentURL(packageID, format), 15000)
		if res.Text != "" {
			break
		}
	}

	item := sources.SourceItem{
		SourceType: "govinfo_package",
		ID:         packageID,
		Title:      title,
		URL:        detailsURL,
	}
	if res.Text != "" {
		item.Excerpt = textPreview(res.Text)
	}
	d.addSources(item)

	result := map[string]any{
		"package_id": packageID,
		"title":      title,
		"url":        detailsURL,
		"full_text":  res.Text,
	}
	if res.Text == "" {
		result["error"] = firstNonEmpty(res.Error, "No content available.")
	}

	preview := map[string]any{
		"package_id":  packageID,
		"text_length": len(res.Text),
		"preview":     textPreview(res.Text),
	}
	d.indexPDF(ctx, "govinfo:"+packageID, title, res, preview)
	return result, preview, nil
}

func (d *Dispatcher) execFederalRegisterSearch(ctx context.Context, args map[string]any) (map[string]any, map[string]any, error) {
	query := argString(args, "query")
	documentType := argString(args, "document_type")
	agency := argString(args, "agency")
	days := argInt(args, "days", 30)
	perPage := argInt(args, "per_page", 10)

	_, items, err := d.deps.FederalRegister.SearchDocuments(ctx, query, documentType, agency, days, perPage)
	if err != nil {
		return nil, nil, err
	}
	d.addSources(items...)

	result := map[string]any{
		"count":     len(items),
		"documents": itemsPayload(items),
	}
	return result, listPreview(items), nil
}

func (d *Dispatcher) execFederalRegisterGetDocument(ctx context.Context, args map[string]any) (map[string]any, map[string]any, error) {
	documentNumber := argString(args, "document_number")

	doc, item, err := d.deps.FederalRegister.GetDocument(ctx, documentNumber)
	if err != nil {
		return nil, nil, err
	}
	d.addSources(item)

	result := map[string]any{
		"document_number": documentNumber,
		"title":           item.Title,
		"agency":          item.Agency,
		"date":            item.Date,
		"url":             item.URL,
	}
	for _, key := range []string{"abstract", "type", "action", "significant"} {
		if v, ok := doc[key]; ok && v != nil {
			result[key] = v
		}
	}

	title := item.Title
	if len(title) > 80 {
		title = title[:80]
	}
	return result, map[string]any{"title": title, "agency": item.Agency}, nil
}

func (d *Dispatcher) execCongressSearchBills(ctx context.Context, args map[string]any) (map[string]any, map[string]any, error) {
	query := argString(args, "query")
	congress := argInt(args, "congress", 118)
	limit := argInt(args, "limit", 10)

	_, items, err := d.deps.Congress.SearchBills(ctx, query, congress, limit)
	if err != nil {
		return nil, nil, err
	}
	d.addSources(items...)

	result := map[string]any{
		"count": len(items),
		"bills": itemsPayload(items),
	}
	return result, listPreview(items), nil
}

func (d *Dispatcher) execCongressGetBill(ctx context.Context, args map[string]any) (map[string]any, map[string]any, error) {
	congress := argInt(args, "congress", 118)
	billType := strings.ToLower(argString(args, "bill_type"))
	billNumber := argInt(args, "bill_number", 0)

	bill, item, err := d.deps.Congress.GetBill(ctx, congress, billType, billNumber)
	if err != nil {
		return nil, nil, err
	}
	d.addSources(item)

	result := map[string]any{
		"congress":    congress,
		"bill_type":   billType,
		"bill_number": billNumber,
		"title":       item.Title,
		"url":         item.URL,
	}
	for _, key := range []string{"introducedDate", "latestAction", "policyArea", "sponsors"} {
		if v, ok := bill[key]; ok && v != nil {
			result[key] = v
		}
	}

	title := item.Title
	if len(title) > 80 {
		title = title[:80]
	}
	return result, map[string]any{"title": title}, nil
}

func (d *Dispatcher) execCongressSearchVotes(ctx context.Context, args map[string]any) (map[string]any, map[string]any, error) {
	chamber := argString(args, "chamber")
	congress := argInt(args, "congress", 118)
	limit := argInt(args, "limit", 10)

	_, items, err := d.deps.Congress.SearchVotes(ctx, chamber, congress, limit)
	if err != nil {
		return nil, nil, err
	}
	d.addSources(items...)

	result := map[string]any{
		"count": len(items),
		"votes": itemsPayload(items),
	}
	return result, listPreview(items), nil
}

func (d *Dispatcher) execUSASpendingSearch(ctx context.Context, args map[string]any) (map[string]any, map[string]any, error) {
	keywords := strings.Fields(argString(args, "keywords"))
	agency := argString(args, "agency")
	recipient := argString(args, "recipient")
	awardType := argString(args, "award_type")
	days := argInt(args, "days", 365)
	limit := argInt(args, "limit", 10)

	_, items, brief, err := d.deps.USASpending.SearchSpending(ctx, keywords, agency, recipient, awardType, days, limit)
	if err != nil {
		return nil, nil, err
	}
	d.addSources(items...)

	result := map[string]any{
		"count":   len(items),
		"summary": brief,
		"awards":  itemsPayload(items),
	}
	return result, listPreview(items), nil
}

func (d *Dispatcher) execFiscalDataQuery(ctx context.Context, args map[string]any) (map[string]any, map[string]any, error) {
	dataset := argString(args, "dataset")
	sortBy := argString(args, "sort_by")
	pageSize := argInt(args, "page_size", 10)

	filters := map[string]string{}
	if field := argString(args, "filter_field"); field != "" {
		if value := argString(args, "filter_value"); value != "" {
			filters[field] = value
		}
	}

	records, items, brief, err := d.deps.FiscalData.QueryDataset(ctx, dataset, filters, nil, sortBy, pageSize)
	if err != nil {
		return nil, nil, err
	}
	d.addSources(items...)

	result := map[string]any{
		"dataset": dataset,
		"count":   len(records),
		"summary": brief,
		"records": records,
	}
	preview := map[string]any{"dataset": dataset, "count": len(records)}
	return result, preview, nil
}

func (d *Dispatcher) execDataGovSearch(ctx context.Context, args map[string]any) (map[string]any, map[string]any, error) {
	query := argString(args, "query")
	organization := argString(args, "organization")
	format := argString(args, "format")
	rows := argInt(args, "rows", 10)

	_, items, err := d.deps.DataGov.SearchDatasets(ctx, query, organization, format, rows)
	if err != nil {
		return nil, nil, err
	}
	d.addSources(items...)

	result := map[string]any{
		"count":    len(items),
		"datasets": itemsPayload(items),
	}
	return result, listPreview(items), nil
}

func (d *Dispatcher) execDOJSearch(ctx context.Context, args map[string]any) (map[string]any, map[string]any, error) {
	query := argString(args, "query")
	component := argString(args, "component")
	days := argInt(args, "days", 90)
	limit := argInt(args, "limit", 10)

	_, items, err := d.deps.DOJ.SearchPressReleases(ctx, query, component, days, limit)
	if err != nil {
		return nil, nil, err
	}
	d.addSources(items...)

	result := map[string]any{
		"count":          len(items),
		"press_releases": itemsPayload(items),
	}
	return result, listPreview(items), nil
}

func (d *Dispatcher) execSearchGovSearch(ctx context.Context, args map[string]any) (map[string]any, map[string]any, error) {
	if d.deps.SearchGov == nil || !d.deps.SearchGov.Configured() {
		msg := "search.gov is not configured (affiliate and access key required)"
		return map[string]any{"error": msg}, map[string]any{"error": msg}, nil
	}

	query := argString(args, "query")
	limit := argInt(args, "limit", 10)

	_, items, err := d.deps.SearchGov.Search(ctx, query, limit)
	if err != nil {
		return nil, nil, err
	}
	d.addSources(items...)

	result := map[string]any{
		"count":   len(items),
		"results": itemsPayload(items),
	}
	return result, listPreview(items), nil
}

func (d *Dispatcher) execFetchURLContent(ctx context.Context, args map[string]any) (map[string]any, map[string]any, error) {
	rawURL := argString(args, "url")
	maxLength := argInt(args, "max_length", 15000)
	if maxLength <= 0 {
		maxLength = 15000
	}
	if argBool(args, "full_text") {
		maxLength = 0
	}

	res := d.deps.Fetcher.FetchURL(ctx, rawURL, maxLength)

	if res.Text != "" {
		d.addSources(sources.SourceItem{
			SourceType:  "web_page",
			ID:          res.URL,
			Title:       firstNonEmpty(res.Title, res.URL),
			URL:         res.URL,
			Excerpt:     textPreview(res.Text),
			PDFURL:      res.PDFURL,
			ContentType: res.ContentType,
		})
	}

	result := map[string]any{
		"url":       res.URL,
		"title":     res.Title,
		"full_text": res.Text,
	}
	if res.Error != "" {
		result["error"] = res.Error
	}

	preview := map[string]any{
		"url":         shortenValue(rawURL, 50),
		"text_length": len(res.Text),
		"preview":     textPreview(res.Text),
	}
	if res.Error != "" {
		preview["preview"] = res.Error
	}
	d.indexPDF(ctx, "url:"+res.URL, res.Title, res, preview)
	return result, preview, nil
}

func (d *Dispatcher) execSearchPDFMemory(ctx context.Context, args map[string]any) (map[string]any, map[string]any, error) {
	query := argString(args, "query")
	topK := argInt(args, "top_k", 5)

	if d.deps.Memory == nil {
		msg := "PDF memory is not available"
		return map[string]any{"error": msg}, map[string]any{"error": msg}, nil
	}

	hits := d.deps.Memory.Query(ctx, d.sessionID, query, topK, d.embCfg)

	matches := make([]map[string]any, len(hits))
	docs := make([]map[string]any, 0, len(hits))
	seenDocs := map[string]bool{}
	for i, hit := range hits {
		matches[i] = map[string]any{
			"text":     hit.Text,
			"score":    hit.Score,
			"metadata": hit.Metadata,
		}
		docKey := hit.Metadata["doc_key"]
		if docKey != "" && !seenDocs[docKey] {
			seenDocs[docKey] = true
			docs = append(docs, map[string]any{
				"doc_key": docKey,
				"pdf_url": hit.Metadata["pdf_url"],
			})
		}
	}

	result := map[string]any{
		"query":   query,
		"count":   len(hits),
		"matches": matches,
	}
	preview := map[string]any{
		"count":     len(hits),
		"documents": docs,
	}
	return result, preview, nil
}

// indexPDF stores PDF-derived text in session memory. The outcome is
// reported in the preview and never fails the tool call.
func (d *Dispatcher) indexPDF(ctx context.Context, docKey, title string, res fetch.Result, preview map[string]any) {
	if d.deps.Memory == nil || res.ContentFormat != "pdf" || res.Text == "" {
		return
	}

	meta := map[string]string{"pdf_url": res.PDFURL}
	if title != "" {
		meta["title"] = title
	}
	outcome := d.deps.Memory.AddDocument(ctx, d.sessionID, docKey, res.Text, meta, d.embCfg)

	indexed := map[string]any{"status": outcome.Status}
	if outcome.Reason != "" {
		indexed["reason"] = outcome.Reason
	}
	if outcome.Error != "" {
		indexed["error"] = outcome.Error
	}
	if outcome.Chunks > 0 {
		indexed["chunks"] = outcome.Chunks
	}
	preview["pdf_index"] = indexed
}

// truncateForModel cuts tool text at the model budget, biased toward
// ending on a sentence.
func truncateForModel(text string) (string, bool) {
	if len(text) <= maxToolTextChars {
		return text, false
	}
	cut := text[:maxToolTextChars]
	if idx := strings.LastIndex(cut, "."); idx > int(float64(maxToolTextChars)*0.8) {
		cut = cut[:idx+1]
	}
	return cut + "\n\n[Content truncated for model context...]", true
}

// PrepareOutput bounds the text fields of a tool result before it is
// serialized back into the conversation.
func PrepareOutput(toolName string, result map[string]any) map[string]any {
	prepared := make(map[string]any, len(result))
	for k, v := range result {
		prepared[k] = v
	}

	for _, key := range []string{"full_text", "text"} {
		text, ok := prepared[key].(string)
		if !ok || text == "" {
			continue
		}
		truncated, did := truncateForModel(text)
		if did {
			prepared[key] = truncated
			prepared[key+"_length"] = len(text)
			prepared[key+"_truncated"] = true
		}
	}
	return prepared
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

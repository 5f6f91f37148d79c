package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/maltedev/webscout/internal/browser"
	"github.com/maltedev/webscout/internal/cache"
	"github.com/maltedev/webscout/internal/database"
	"github.com/maltedev/webscout/internal/debuglog"
	"github.com/maltedev/webscout/internal/extractor"
	"github.com/maltedev/webscout/internal/messaging"
	"github.com/maltedev/webscout/internal/models"
	"github.com/maltedev/webscout/internal/settings"
	"github.com/maltedev/webscout/internal/shell"
	"github.com/maltedev/webscout/internal/site"
	"github.com/maltedev/webscout/internal/validation"
)

var ErrRendererUnavailable = errors.New("no renderer configured, html is required")

// ProductStore persists extracted products.
type ProductStore interface {
	InsertProducts(ctx context.Context, batchID uuid.UUID, site string, products []models.Product) ([]database.ProductRecord, error)
	ListProducts(ctx context.Context, filter database.ProductFilter) ([]database.ProductRecord, error)
}

type OutboxStats interface {
	Counts(ctx context.Context) (pending int64, deadLetter int64, err error)
}

type Deps struct {
	Extractor *extractor.Extractor
	Shell     *shell.Controller
	Debug     *debuglog.Handler
	// Renderer, Products and Outbox are optional.
	Renderer        browser.Renderer
	Products        ProductStore
	Outbox          OutboxStats
	ResponseTimeout time.Duration
}

type Handlers struct {
	extractor *extractor.Extractor
	shell     *shell.Controller
	debug     *debuglog.Handler
	renderer  browser.Renderer
	products  ProductStore
	outbox    OutboxStats
	timeout   time.Duration
	validate  *validation.Validator
	logger    *slog.Logger
}

func NewHandlers(deps Deps, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		extractor: deps.Extractor,
		shell:     deps.Shell,
		debug:     deps.Debug,
		renderer:  deps.Renderer,
		products:  deps.Products,
		outbox:    deps.Outbox,
		timeout:   deps.ResponseTimeout,
		validate:  validation.Default(),
		logger:    logger.With("component", "api"),
	}
}

// PageRequest identifies a page. Without html the page is rendered from url.
type PageRequest struct {
	URL  string `json:"url" validate:"required,url"`
	HTML string `json:"html"`
}

type ExtractRequest struct {
	PageRequest
	Site string `json:"site" validate:"omitempty,oneof=shopee tiktok"`
	// Mode list reads TikTok card grids; empty means the site's default.
	Mode string `json:"mode" validate:"omitempty,oneof=list detail"`
	// Save also persists the extracted products when a database is configured.
	Save bool `json:"save"`
}

type ExtractResponse struct {
	models.ExtractionResult
	Status  shell.Status `json:"status"`
	BatchID *uuid.UUID   `json:"batchId,omitempty"`
}

type CheckResponse struct {
	site.Detection
	Status shell.Status `json:"status"`
}

// CheckPage reports the detected site and whether the page holds products.
func (h *Handlers) CheckPage(w http.ResponseWriter, r *http.Request) {
	var req PageRequest
	if !h.decode(w, r, &req) {
		return
	}

	page, ok := h.loadPage(r.Context(), w, req)
	if !ok {
		return
	}

	detection := h.extractor.Detector().DetectSiteAndMode(page.Doc, page.URL)
	resp := CheckResponse{Detection: detection}
	switch {
	case !detection.Site.Known():
		resp.Status = shell.Status{Kind: shell.StatusInfo, Message: "Open a Shopee or TikTok page to extract products"}
	case detection.IsProductPage:
		resp.Status = shell.Status{Kind: shell.StatusInfo, Message: fmt.Sprintf("Detected %s page, start the extraction", detection.Site)}
	default:
		resp.Status = shell.Status{Kind: shell.StatusInfo, Message: "Open a product page to use the extractor"}
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// ExtractPage runs an explicit extraction and caches the result.
func (h *Handlers) ExtractPage(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if !h.decode(w, r, &req) {
		return
	}

	page, ok := h.loadPage(r.Context(), w, req.PageRequest)
	if !ok {
		return
	}

	s := site.None
	if req.Site != "" {
		s, _ = site.Parse(req.Site)
	} else {
		s = site.FromURL(req.URL)
	}

	ctrl, release := h.controllerFor(page)
	defer release()

	result, status := ctrl.ScrapeMode(r.Context(), s, site.Mode(req.Mode))
	resp := ExtractResponse{ExtractionResult: result, Status: status}

	if req.Save && result.Success {
		batchID, err := h.save(r.Context(), s, result.Products)
		if err != nil {
			h.logger.Error("failed to save products", "error", err, "site", s.String())
			resp.Status = shell.Status{Kind: shell.StatusError, Message: "Extracted products could not be saved"}
		} else {
			resp.BatchID = &batchID
		}
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// Navigate runs the automatic extraction flow for a freshly loaded page.
func (h *Handlers) Navigate(w http.ResponseWriter, r *http.Request) {
	var req PageRequest
	if !h.decode(w, r, &req) {
		return
	}

	page, ok := h.loadPage(r.Context(), w, req)
	if !ok {
		return
	}

	ctrl, release := h.controllerFor(page)
	defer release()

	result, status := ctrl.OnNavigation(r.Context(), req.URL)
	h.respondJSON(w, http.StatusOK, ExtractResponse{ExtractionResult: result, Status: status})
}

// AnalyzePage lists candidate title, price and image elements of a page.
func (h *Handlers) AnalyzePage(w http.ResponseWriter, r *http.Request) {
	var req PageRequest
	if !h.decode(w, r, &req) {
		return
	}

	page, ok := h.loadPage(r.Context(), w, req)
	if !ok {
		return
	}

	channel, release := h.channelFor(page)
	defer release()

	resp, err := channel.Send(r.Context(), messaging.AnalyzePage{})
	if err != nil {
		h.logger.Error("failed to analyze page", "error", err, "url", req.URL)
		h.respondError(w, http.StatusServiceUnavailable, "page did not respond")
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

type MessageRequest struct {
	PageRequest
	Message json.RawMessage `json:"message" validate:"required"`
}

// Message delivers a wire-format page request, {"action": ..., "site": ...},
// to the page and returns the page's reply unchanged.
func (h *Handlers) Message(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if !h.decode(w, r, &req) {
		return
	}

	msg, err := messaging.DecodeRequest(req.Message)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, ok := h.loadPage(r.Context(), w, req.PageRequest)
	if !ok {
		return
	}

	channel, release := h.channelFor(page)
	defer release()

	resp, err := channel.Send(r.Context(), msg)
	if err != nil {
		h.logger.Warn("page request unanswered", "action", msg.Action(), "error", err)
		h.respondError(w, http.StatusServiceUnavailable, "page did not respond, reload it and try again")
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) GetDebugInfo(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, messaging.DebugInfoResponse{DebugInfo: h.debugEntries(false)})
}

func (h *Handlers) FlushDebugInfo(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, messaging.DebugInfoResponse{DebugInfo: h.debugEntries(true)})
}

func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.shell.Settings(r.Context()))
}

// UpdateSettings writes the given keys and leaves the others untouched.
func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var values map[string]bool
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(values) == 0 {
		h.respondError(w, http.StatusBadRequest, "no settings given")
		return
	}
	for key := range values {
		if !models.IsSettingKey(key) {
			h.respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown setting %q", key))
			return
		}
	}

	var current models.Settings
	for key, value := range values {
		s, err := h.shell.ToggleSetting(r.Context(), key, value)
		if err != nil {
			h.logger.Error("failed to update setting", "error", err, "key", key)
			if errors.Is(err, settings.ErrUnknownKey) {
				h.respondError(w, http.StatusBadRequest, err.Error())
				return
			}
			h.respondError(w, http.StatusInternalServerError, "failed to update settings")
			return
		}
		current = s
	}

	h.respondJSON(w, http.StatusOK, current)
}

// GetProducts returns the cached records of a site as displayed.
func (h *Handlers) GetProducts(w http.ResponseWriter, r *http.Request) {
	s, ok := h.siteParam(w, r)
	if !ok {
		return
	}

	products, err := h.shell.Products(r.Context(), s)
	if errors.Is(err, cache.ErrCacheMiss) {
		h.respondJSON(w, http.StatusOK, []models.Product{})
		return
	}
	if err != nil {
		h.logger.Error("failed to read cached products", "error", err, "site", s.String())
		h.respondError(w, http.StatusInternalServerError, "failed to read products")
		return
	}

	h.respondJSON(w, http.StatusOK, products)
}

// ClearProducts drops the cached records of a site.
func (h *Handlers) ClearProducts(w http.ResponseWriter, r *http.Request) {
	s, ok := h.siteParam(w, r)
	if !ok {
		return
	}

	status := h.shell.ClearProducts(r.Context(), s)
	code := http.StatusOK
	if status.Kind == shell.StatusError {
		code = http.StatusInternalServerError
	}
	h.respondJSON(w, code, status)
}

// DownloadExport serves the cached records as a file.
func (h *Handlers) DownloadExport(w http.ResponseWriter, r *http.Request) {
	s, ok := h.siteParam(w, r)
	if !ok {
		return
	}
	format, err := shell.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		h.respondError(w, http.StatusNotFound, err.Error())
		return
	}

	doc, err := h.shell.Render(r.Context(), s, format)
	if errors.Is(err, shell.ErrNothingToExport) {
		h.respondError(w, http.StatusNotFound, "no products to export, extract products first")
		return
	}
	if err != nil {
		h.logger.Error("failed to render export", "error", err, "site", s.String())
		h.respondError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", doc.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(doc.Content)); err != nil {
		h.logger.Error("failed to write export", "error", err)
	}
}

type SaveExportRequest struct {
	Format string `json:"format" validate:"required,oneof=json csv"`
}

// SaveExport writes the cached records to the export sink.
func (h *Handlers) SaveExport(w http.ResponseWriter, r *http.Request) {
	s, ok := h.siteParam(w, r)
	if !ok {
		return
	}
	var req SaveExportRequest
	if !h.decode(w, r, &req) {
		return
	}

	var status shell.Status
	if shell.Format(req.Format) == shell.FormatCSV {
		status = h.shell.ExportCSV(r.Context(), s)
	} else {
		status = h.shell.ExportJSON(r.Context(), s)
	}

	code := http.StatusOK
	if status.Kind == shell.StatusError {
		code = http.StatusUnprocessableEntity
	}
	h.respondJSON(w, code, status)
}

type SaveProductsRequest struct {
	BatchID  string           `json:"batchId" validate:"omitempty,uuid"`
	Site     string           `json:"site" validate:"required,oneof=shopee tiktok"`
	Products []models.Product `json:"products" validate:"required,min=1,dive"`
}

type SaveProductsResponse struct {
	BatchID  uuid.UUID                `json:"batchId"`
	Products []database.ProductRecord `json:"products"`
}

// SaveProducts stores products sent by a client.
func (h *Handlers) SaveProducts(w http.ResponseWriter, r *http.Request) {
	if h.products == nil {
		h.respondError(w, http.StatusServiceUnavailable, "product storage is not configured")
		return
	}

	var req SaveProductsRequest
	if !h.decode(w, r, &req) {
		return
	}

	for i, p := range req.Products {
		if problems := p.Validate(); len(problems) > 0 {
			h.respondError(w, http.StatusBadRequest, fmt.Sprintf("product %d: %s", i, problems[0]))
			return
		}
	}

	batchID := uuid.Nil
	if req.BatchID != "" {
		batchID = uuid.MustParse(req.BatchID)
	}

	records, err := h.products.InsertProducts(r.Context(), batchID, req.Site, req.Products)
	if err != nil {
		h.logger.Error("failed to save products", "error", err, "site", req.Site)
		h.respondError(w, http.StatusInternalServerError, "failed to save products")
		return
	}

	resp := SaveProductsResponse{Products: records}
	if len(records) > 0 {
		resp.BatchID = records[0].BatchID
	}
	h.respondJSON(w, http.StatusCreated, resp)
}

// ListProductsQuery is filled from the query string by ListProducts.
type ListProductsQuery struct {
	Site   string `json:"site" validate:"omitempty,oneof=shopee tiktok"`
	Name   string `json:"name"`
	Seller string `json:"seller"`
	Limit  int    `json:"limit" validate:"gte=0,lte=1000"`
}

func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	if h.products == nil {
		h.respondError(w, http.StatusServiceUnavailable, "product storage is not configured")
		return
	}

	q := ListProductsQuery{
		Site:   r.URL.Query().Get("site"),
		Name:   r.URL.Query().Get("name"),
		Seller: r.URL.Query().Get("seller"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "limit must be a number")
			return
		}
		q.Limit = limit
	}
	if err := h.validate.Validate(q); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.products.ListProducts(r.Context(), database.ProductFilter{
		Site:   q.Site,
		Name:   q.Name,
		Seller: q.Seller,
		Limit:  q.Limit,
	})
	if err != nil {
		h.logger.Error("failed to list products", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list products")
		return
	}

	h.respondJSON(w, http.StatusOK, records)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":   "ok",
		"renderer": h.renderer != nil,
		"storage":  h.products != nil,
	}

	status := http.StatusOK
	if h.outbox != nil {
		pending, deadLetter, err := h.outbox.Counts(r.Context())
		if err != nil {
			h.logger.Error("failed to read outbox counts", "error", err)
			health["status"] = "error"
			health["message"] = "Outbox unavailable"
			status = http.StatusServiceUnavailable
		} else {
			health["outbox"] = map[string]interface{}{
				"pending":     pending,
				"dead_letter": deadLetter,
			}
			if pending > 1000 {
				health["status"] = "warning"
				health["message"] = "High number of pending outbox events"
			}
			if deadLetter > 100 {
				health["status"] = "error"
				health["message"] = "High number of dead letter events"
				status = http.StatusServiceUnavailable
			}
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) save(ctx context.Context, s site.Site, products []models.Product) (uuid.UUID, error) {
	if h.products == nil {
		return uuid.Nil, errors.New("product storage is not configured")
	}
	records, err := h.products.InsertProducts(ctx, uuid.Nil, s.String(), products)
	if err != nil {
		return uuid.Nil, err
	}
	if len(records) == 0 {
		return uuid.Nil, nil
	}
	return records[0].BatchID, nil
}

// loadPage parses the posted html or renders the url. It writes the error
// response itself and reports whether the caller may continue.
func (h *Handlers) loadPage(ctx context.Context, w http.ResponseWriter, req PageRequest) (messaging.Page, bool) {
	html := req.HTML
	if html == "" {
		if h.renderer == nil {
			h.respondError(w, http.StatusBadRequest, ErrRendererUnavailable.Error())
			return messaging.Page{}, false
		}
		rendered, err := h.renderer.Render(ctx, req.URL, site.FromURL(req.URL).ReadySelector())
		if err != nil {
			h.logger.Error("failed to render page", "error", err, "url", req.URL)
			h.respondError(w, http.StatusBadGateway, "failed to render page")
			return messaging.Page{}, false
		}
		html = rendered
	}

	page, err := messaging.LoadPage(html, req.URL)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return messaging.Page{}, false
	}
	return page, true
}

// channelFor attaches page to a fresh page context. release detaches it, so a
// request still running after a timeout sees the page as gone.
func (h *Handlers) channelFor(page messaging.Page) (messaging.Channel, func()) {
	pc := messaging.NewPageContext(h.extractor, h.debug, h.logger)
	pc.Attach(page)
	return messaging.NewLocalChannel(pc, h.timeout), pc.Detach
}

func (h *Handlers) controllerFor(page messaging.Page) (*shell.Controller, func()) {
	channel, release := h.channelFor(page)
	return h.shell.WithChannel(channel), release
}

func (h *Handlers) debugEntries(flush bool) []debuglog.Entry {
	if h.debug == nil {
		return []debuglog.Entry{}
	}
	if flush {
		return h.debug.Flush()
	}
	return h.debug.Entries()
}

func (h *Handlers) siteParam(w http.ResponseWriter, r *http.Request) (site.Site, bool) {
	s, err := site.Parse(chi.URLParam(r, "site"))
	if err != nil || !s.Known() {
		h.respondError(w, http.StatusNotFound, "unknown site")
		return site.None, false
	}
	return s, true
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Validate(dst); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/webscout/internal/cache"
	"github.com/maltedev/webscout/internal/database"
	"github.com/maltedev/webscout/internal/debuglog"
	"github.com/maltedev/webscout/internal/extractor"
	"github.com/maltedev/webscout/internal/messaging"
	"github.com/maltedev/webscout/internal/models"
	"github.com/maltedev/webscout/internal/settings"
	"github.com/maltedev/webscout/internal/shell"
	"github.com/maltedev/webscout/internal/site"
	"github.com/maltedev/webscout/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const shopeeSearch = `
<html><body>
  <div class="flex flex-col bg-white cursor-pointer h-full">
    <img loading="lazy" src="https://down-ph.img.susercontent.com/file/a.webp">
    <div class="line-clamp-2">LED Desk Lamp</div>
    <div class="text-shopee-primary"><span class="text-xs">₱</span><span class="text-base">1,299</span></div>
    <div class="text-shopee-black87">1.2k sold</div>
  </div>
  <div class="flex flex-col bg-white cursor-pointer h-full">
    <div class="line-clamp-2">USB Fan</div>
  </div>
</body></html>`

const shopeeURL = "https://shopee.ph/search?keyword=lamp"

type stubRenderer struct {
	html     string
	err      error
	url      string
	selector string
}

func (r *stubRenderer) Render(_ context.Context, url, waitSelector string) (string, error) {
	r.url = url
	r.selector = waitSelector
	return r.html, r.err
}

type MockProductStore struct {
	mock.Mock
}

func (m *MockProductStore) InsertProducts(ctx context.Context, batchID uuid.UUID, s string, products []models.Product) ([]database.ProductRecord, error) {
	args := m.Called(ctx, batchID, s, products)
	records, _ := args.Get(0).([]database.ProductRecord)
	return records, args.Error(1)
}

func (m *MockProductStore) ListProducts(ctx context.Context, filter database.ProductFilter) ([]database.ProductRecord, error) {
	args := m.Called(ctx, filter)
	records, _ := args.Get(0).([]database.ProductRecord)
	return records, args.Error(1)
}

type stubOutbox struct {
	pending, deadLetter int64
	err                 error
}

func (s stubOutbox) Counts(context.Context) (int64, int64, error) {
	return s.pending, s.deadLetter, s.err
}

type testServer struct {
	handler  http.Handler
	renderer *stubRenderer
	debug    *debuglog.Handler
	exports  string
}

func newTestServer(t *testing.T, mutate func(*Deps)) *testServer {
	t.Helper()

	debug := debuglog.NewHandler(nil, debuglog.Options{})
	logger := slog.New(debug)

	exports := t.TempDir()
	sink, err := storage.NewFileSink(exports)
	require.NoError(t, err)

	store := settings.NewMemoryStore()
	require.NoError(t, settings.Install(context.Background(), store))

	ext := extractor.New(logger)
	ctrl := shell.NewController(nil, store, cache.NewMemory(), sink, logger, shell.Options{DetectInterval: time.Millisecond})
	renderer := &stubRenderer{html: shopeeSearch}

	deps := Deps{
		Extractor:       ext,
		Shell:           ctrl,
		Debug:           debug,
		Renderer:        renderer,
		ResponseTimeout: time.Second,
	}
	if mutate != nil {
		mutate(&deps)
	}

	h := NewHandlers(deps, logger)
	return &testServer{
		handler:  NewRouter(h, RouterConfig{}),
		renderer: renderer,
		debug:    debug,
		exports:  exports,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func pageBody(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		outbox     OutboxStats
		wantCode   int
		wantStatus string
	}{
		{"no storage", nil, http.StatusOK, "ok"},
		{"outbox healthy", stubOutbox{pending: 3}, http.StatusOK, "ok"},
		{"pending backlog", stubOutbox{pending: 5000}, http.StatusOK, "warning"},
		{"dead letters", stubOutbox{deadLetter: 500}, http.StatusServiceUnavailable, "error"},
		{"outbox unavailable", stubOutbox{err: errors.New("connection refused")}, http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, func(d *Deps) { d.Outbox = tt.outbox })
			rec := srv.do(t, http.MethodGet, "/health", "")
			assert.Equal(t, tt.wantCode, rec.Code)

			var body map[string]interface{}
			decodeBody(t, rec, &body)
			assert.Equal(t, tt.wantStatus, body["status"])
		})
	}
}

func TestCheckPage(t *testing.T) {
	srv := newTestServer(t, nil)

	t.Run("posted html", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/api/v1/page/check", pageBody(t, PageRequest{URL: shopeeURL, HTML: shopeeSearch}))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp CheckResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, site.Shopee, resp.Site)
		assert.Equal(t, site.ModeList, resp.Mode)
		assert.True(t, resp.IsProductPage)
		assert.Empty(t, srv.renderer.url, "posted html must not be rendered")
	})

	t.Run("unsupported site", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/api/v1/page/check", pageBody(t, PageRequest{URL: "https://example.com", HTML: "<p>hi</p>"}))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp CheckResponse
		decodeBody(t, rec, &resp)
		assert.False(t, resp.IsProductPage)
		assert.Contains(t, resp.Status.Message, "Shopee or TikTok")
	})

	t.Run("missing url", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/api/v1/page/check", `{"html":"<p></p>"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "url must satisfy required")
	})

	t.Run("no renderer", func(t *testing.T) {
		srv := newTestServer(t, func(d *Deps) { d.Renderer = nil })
		rec := srv.do(t, http.MethodPost, "/api/v1/page/check", pageBody(t, PageRequest{URL: shopeeURL}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "html is required")
	})
}

func TestExtractAndExport(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodPost, "/api/v1/page/extract", pageBody(t, ExtractRequest{PageRequest: PageRequest{URL: shopeeURL}}))
	require.Equal(t, http.StatusOK, rec.Code)

	var extracted ExtractResponse
	decodeBody(t, rec, &extracted)
	assert.True(t, extracted.Success)
	require.Len(t, extracted.Products, 2)
	assert.Equal(t, "₱1,299", extracted.Products[0].Price)
	assert.Equal(t, shell.StatusSuccess, extracted.Status.Kind)
	assert.Nil(t, extracted.BatchID)

	assert.Equal(t, shopeeURL, srv.renderer.url)
	assert.Equal(t, site.ShopeeCard, srv.renderer.selector)

	t.Run("cached products honour showImages", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, "/api/v1/products/shopee", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "a.webp")

		rec = srv.do(t, http.MethodPut, "/api/v1/settings", `{"showImages":false}`)
		require.Equal(t, http.StatusOK, rec.Code)
		var s models.Settings
		decodeBody(t, rec, &s)
		assert.False(t, s.ShowImages)

		rec = srv.do(t, http.MethodGet, "/api/v1/products/shopee", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var products []models.Product
		decodeBody(t, rec, &products)
		require.Len(t, products, 2)
		assert.Nil(t, products[0].Image)
		assert.NotContains(t, rec.Body.String(), "a.webp")
	})

	t.Run("csv download", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, "/api/v1/products/shopee/export.csv", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/csv;charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="shopee_products.csv"`)
		assert.True(t, strings.HasPrefix(rec.Body.String(), "\uFEFFname,price,image,sold\r\n"))
	})

	t.Run("json download", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, "/api/v1/products/shopee/export.json", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var products []models.Product
		decodeBody(t, rec, &products)
		assert.Equal(t, extracted.Products, products)
	})

	t.Run("unknown format", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, "/api/v1/products/shopee/export.xlsx", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("save to sink", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/api/v1/products/shopee/export", `{"format":"csv"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var status shell.Status
		decodeBody(t, rec, &status)
		assert.Equal(t, filepath.Join(srv.exports, "shopee_products.csv"), status.Location)
		_, err := os.Stat(status.Location)
		assert.NoError(t, err)
	})

	t.Run("nothing cached for tiktok", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, "/api/v1/products/tiktok/export.json", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = srv.do(t, http.MethodPost, "/api/v1/products/tiktok/export", `{"format":"json"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		rec = srv.do(t, http.MethodGet, "/api/v1/products/tiktok", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})

	t.Run("unknown site", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, "/api/v1/products/lazada", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("clear cached products", func(t *testing.T) {
		rec := srv.do(t, http.MethodDelete, "/api/v1/products/shopee", "")
		require.Equal(t, http.StatusOK, rec.Code)

		rec = srv.do(t, http.MethodGet, "/api/v1/products/shopee", "")
		assert.JSONEq(t, `[]`, rec.Body.String())

		rec = srv.do(t, http.MethodGet, "/api/v1/products/shopee/export.json", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestExtractPageGridMode(t *testing.T) {
	srv := newTestServer(t, nil)
	grid := `
		<div class="tiktok-shop-card"><img src="https://p16.tiktokcdn.com/c1.jpg"><div class="product-title">Phone Stand</div><div class="price">$3.50</div></div>
		<div class="tiktok-shop-card"><div class="product-title">Cable</div></div>`

	req := ExtractRequest{PageRequest: PageRequest{URL: "https://www.tiktok.com/@gadgets", HTML: grid}, Mode: "list"}
	rec := srv.do(t, http.MethodPost, "/api/v1/page/extract", pageBody(t, req))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ExtractResponse
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Success)
	require.Len(t, resp.Products, 2)
	assert.Equal(t, "https://p16.tiktokcdn.com/c1.jpg", resp.Products[0].ImageURL())

	rec = srv.do(t, http.MethodGet, "/api/v1/products/tiktok", "")
	assert.Contains(t, rec.Body.String(), "Cable")

	rec = srv.do(t, http.MethodPost, "/api/v1/page/extract", `{"url":"https://www.tiktok.com/@gadgets","html":"<p></p>","mode":"grid"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtractPageSave(t *testing.T) {
	store := new(MockProductStore)
	batchID := uuid.New()
	store.On("InsertProducts", mock.Anything, uuid.Nil, "shopee", mock.MatchedBy(func(p []models.Product) bool { return len(p) == 2 })).
		Return([]database.ProductRecord{{BatchID: batchID}, {BatchID: batchID}}, nil)

	srv := newTestServer(t, func(d *Deps) { d.Products = store })

	req := ExtractRequest{PageRequest: PageRequest{URL: shopeeURL, HTML: shopeeSearch}, Site: "shopee", Save: true}
	rec := srv.do(t, http.MethodPost, "/api/v1/page/extract", pageBody(t, req))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ExtractResponse
	decodeBody(t, rec, &resp)
	require.NotNil(t, resp.BatchID)
	assert.Equal(t, batchID, *resp.BatchID)
	store.AssertExpectations(t)
}

func TestExtractPageFailures(t *testing.T) {
	t.Run("detail page without title", func(t *testing.T) {
		srv := newTestServer(t, nil)
		req := ExtractRequest{PageRequest: PageRequest{URL: "https://shop.tiktok.com/view/product/1", HTML: `<div class="price">$1</div>`}}
		rec := srv.do(t, http.MethodPost, "/api/v1/page/extract", pageBody(t, req))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success":false,"products":[],"status":{"kind":"error","message":"No products found"}}`, rec.Body.String())
	})

	t.Run("render failure", func(t *testing.T) {
		srv := newTestServer(t, nil)
		srv.renderer.err = errors.New("net::ERR_NAME_NOT_RESOLVED")
		rec := srv.do(t, http.MethodPost, "/api/v1/page/extract", pageBody(t, ExtractRequest{PageRequest: PageRequest{URL: shopeeURL}}))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("invalid site", func(t *testing.T) {
		srv := newTestServer(t, nil)
		rec := srv.do(t, http.MethodPost, "/api/v1/page/extract", `{"url":"https://shopee.ph","html":"<p></p>","site":"lazada"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "site must satisfy oneof")
	})
}

func TestNavigate(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodPost, "/api/v1/page/navigate", pageBody(t, PageRequest{URL: shopeeURL, HTML: shopeeSearch}))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ExtractResponse
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Len(t, resp.Products, 2)
}

func TestAnalyzePage(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodPost, "/api/v1/page/analyze", pageBody(t, PageRequest{
		URL:  "https://shop.tiktok.com/view/product/1",
		HTML: `<h1>Blender</h1><span class="price">$20</span>`,
	}))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp messaging.AnalyzeResponse
	decodeBody(t, rec, &resp)
	require.NotEmpty(t, resp.PossibleTitles)
	assert.Equal(t, "Blender", resp.PossibleTitles[0].Text)
}

func TestDebugInfo(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.do(t, http.MethodPost, "/api/v1/page/extract", pageBody(t, ExtractRequest{PageRequest: PageRequest{URL: shopeeURL, HTML: shopeeSearch}}))

	rec := srv.do(t, http.MethodGet, "/api/v1/debug", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info messaging.DebugInfoResponse
	decodeBody(t, rec, &info)
	assert.NotEmpty(t, info.DebugInfo)

	rec = srv.do(t, http.MethodDelete, "/api/v1/debug", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, srv.debug.Entries())
}

func TestUpdateSettings(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := srv.do(t, http.MethodPut, "/api/v1/settings", `{"darkMode":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPut, "/api/v1/settings", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/v1/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"autoExtract":true,"showImages":true}`, rec.Body.String())
}

func TestSaveProducts(t *testing.T) {
	products := []models.Product{{Name: "Lamp", Price: "₱1", Image: models.StringPtr("")}}

	t.Run("storage not configured", func(t *testing.T) {
		srv := newTestServer(t, nil)
		rec := srv.do(t, http.MethodPost, "/system/product", pageBody(t, SaveProductsRequest{Site: "shopee", Products: products}))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("saved", func(t *testing.T) {
		store := new(MockProductStore)
		batchID := uuid.New()
		store.On("InsertProducts", mock.Anything, batchID, "shopee", products).
			Return([]database.ProductRecord{{ID: uuid.New(), BatchID: batchID, Site: "shopee", Product: products[0]}}, nil)

		srv := newTestServer(t, func(d *Deps) { d.Products = store })
		rec := srv.do(t, http.MethodPost, "/system/product", pageBody(t, SaveProductsRequest{BatchID: batchID.String(), Site: "shopee", Products: products}))
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp SaveProductsResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, batchID, resp.BatchID)
		require.Len(t, resp.Products, 1)
		assert.Equal(t, "Lamp", resp.Products[0].Name)
	})

	t.Run("validation", func(t *testing.T) {
		store := new(MockProductStore)
		srv := newTestServer(t, func(d *Deps) { d.Products = store })

		tests := []struct {
			name string
			body string
		}{
			{"missing site", `{"products":[{"name":"Lamp","price":"1","image":null}]}`},
			{"no products", `{"site":"shopee","products":[]}`},
			{"bad batch id", `{"batchId":"nope","site":"shopee","products":[{"name":"Lamp","price":"1","image":null}]}`},
			{"nameless product", `{"site":"tiktok","products":[{"name":"","price":"1","image":null}]}`},
			{"relative image", `{"site":"tiktok","products":[{"name":"Lamp","price":"1","image":null,"images":["/rel.jpg"]}]}`},
			{"inline image", `{"site":"tiktok","products":[{"name":"Lamp","price":"1","image":null,"images":["data:image/gif;base64,x"]}]}`},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec := srv.do(t, http.MethodPost, "/system/product", tt.body)
				assert.Equal(t, http.StatusBadRequest, rec.Code)
			})
		}
		store.AssertNotCalled(t, "InsertProducts", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestListProducts(t *testing.T) {
	store := new(MockProductStore)
	store.On("ListProducts", mock.Anything, database.ProductFilter{Site: "tiktok", Name: "lamp", Seller: "Home", Limit: 20}).
		Return([]database.ProductRecord{{Site: "tiktok", Product: models.Product{Name: "Lamp"}}}, nil)

	srv := newTestServer(t, func(d *Deps) { d.Products = store })

	rec := srv.do(t, http.MethodGet, "/system/product/list?site=tiktok&name=lamp&seller=Home&limit=20", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []database.ProductRecord
	decodeBody(t, rec, &records)
	require.Len(t, records, 1)
	assert.Equal(t, "Lamp", records[0].Name)

	rec = srv.do(t, http.MethodGet, "/system/product/list?limit=many", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodGet, "/system/product/list?limit=5000", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "limit must satisfy lte=1000")

	store.AssertNumberOfCalls(t, "ListProducts", 1)
}

func TestMessage(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name     string
		message  string
		wantCode int
		wantBody string
	}{
		{"check", `{"action":"checkProductPage"}`, http.StatusOK, `"isProductPage":true`},
		{"legacy alias", `{"action":"scrapeShopeeProducts"}`, http.StatusOK, `"success":true`},
		{"unknown action", `{"action":"scrapeAmazon"}`, http.StatusBadRequest, "action must satisfy oneof"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"url":"` + shopeeURL + `","html":` + pageBody(t, shopeeSearch) + `,"message":` + tt.message + `}`
			rec := srv.do(t, http.MethodPost, "/api/v1/page/message", body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

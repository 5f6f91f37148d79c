// Package messaging is the request/response boundary between the controlling
// shell and the page context that owns a rendered document.
package messaging

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/maltedev/webscout/internal/debuglog"
	"github.com/maltedev/webscout/internal/extractor"
	"github.com/maltedev/webscout/internal/models"
	"github.com/maltedev/webscout/internal/site"
	"github.com/maltedev/webscout/internal/validation"
)

var (
	ErrNoResponse     = errors.New("no response from page context")
	ErrUnknownRequest = errors.New("unknown request")
)

const (
	ActionCheckProductPage = "checkProductPage"
	ActionExtract          = "extract"
	ActionGetDebugInfo     = "getDebugInfo"
	ActionAnalyze          = "analyze"
)

// Request is one of CheckProductPage, Extract, GetDebugInfo or AnalyzePage.
type Request interface {
	Action() string
	isRequest()
}

// CheckProductPage asks whether the attached page carries products. A zero
// Site means the site is taken from the page URL.
type CheckProductPage struct {
	Site site.Site
}

// Extract asks for the products of the attached page. A zero Mode means the
// site's default mode.
type Extract struct {
	Site site.Site
	Mode site.Mode
}

type GetDebugInfo struct{}

type AnalyzePage struct{}

func (CheckProductPage) Action() string { return ActionCheckProductPage }
func (Extract) Action() string          { return ActionExtract }
func (GetDebugInfo) Action() string     { return ActionGetDebugInfo }
func (AnalyzePage) Action() string      { return ActionAnalyze }

func (CheckProductPage) isRequest() {}
func (Extract) isRequest()          {}
func (GetDebugInfo) isRequest()     {}
func (AnalyzePage) isRequest()      {}

type Response interface {
	isResponse()
}

type CheckProductPageResponse struct {
	IsProductPage bool `json:"isProductPage"`
}

type ExtractResponse struct {
	models.ExtractionResult
}

type DebugInfoResponse struct {
	DebugInfo []debuglog.Entry `json:"debugInfo"`
}

type AnalyzeResponse struct {
	extractor.PageAnalysis
}

func (CheckProductPageResponse) isResponse() {}
func (ExtractResponse) isResponse()          {}
func (DebugInfoResponse) isResponse()        {}
func (AnalyzeResponse) isResponse()          {}

type wireRequest struct {
	Action string `json:"action" validate:"required,oneof=checkProductPage extract getDebugInfo analyze isProductPage isShopeeProductPage scrapeProducts scrapeShopeeProducts"`
	Site   string `json:"site,omitempty" validate:"omitempty,oneof=shopee tiktok"`
	Mode   string `json:"mode,omitempty" validate:"omitempty,oneof=list detail"`
}

// DecodeRequest parses the JSON form {"action": ..., "site": ..., "mode": ...}. The
// site-specific action names of the browser extension are accepted as
// aliases.
func DecodeRequest(data []byte) (Request, error) {
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	if err := validation.Default().Validate(w); err != nil {
		return nil, err
	}

	var s site.Site
	if w.Site != "" {
		parsed, err := site.Parse(w.Site)
		if err != nil {
			return nil, err
		}
		s = parsed
	}

	switch w.Action {
	case ActionCheckProductPage:
		return CheckProductPage{Site: s}, nil
	case ActionExtract:
		return Extract{Site: s, Mode: site.Mode(w.Mode)}, nil
	case ActionGetDebugInfo:
		return GetDebugInfo{}, nil
	case ActionAnalyze:
		return AnalyzePage{}, nil
	case "isProductPage":
		return CheckProductPage{Site: site.TikTok}, nil
	case "isShopeeProductPage":
		return CheckProductPage{Site: site.Shopee}, nil
	case "scrapeProducts":
		return Extract{Site: site.TikTok}, nil
	case "scrapeShopeeProducts":
		return Extract{Site: site.Shopee}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownRequest, w.Action)
}

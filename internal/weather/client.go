// Package weather implements the KMA special-report API client:
// paginated XML fetch, result-code handling, retries, and the mapping
// of raw feed items into warning events.
package weather

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"alertbridge/internal/alert"
	"alertbridge/internal/events"
	"alertbridge/internal/logger"
	"alertbridge/internal/ratelimit"
	"alertbridge/internal/retry"
)

// Error kinds reported to the orchestrator's failure histogram.
const (
	KindTimeout   = "timeout"
	KindConn      = "connection"
	KindParse     = "parse_error"
	KindAPIResult = "api_result_error"
	KindUnknown   = "unknown_error"
)

const (
	resultCodeSuccess     = "00"
	resultCodeNoData      = "03"
	resultCodeRateLimited = "22"

	defaultPageSize = 100

	// Sentinel region name meaning no mapping is configured.
	unknownRegionName = "알 수 없는 지역"
)

// Error is a classified fetch failure. Kind is one of the constants
// above or "http_<status>"; ResultCode is set for api_result_error.
type Error struct {
	Kind       string
	StatusCode int
	ResultCode string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind from a fetch failure, defaulting to
// unknown_error for foreign errors.
func KindOf(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}

// Options are the optional query filters forwarded to the feed.
type Options struct {
	WarningType string
	StationID   string
}

// Config is the client configuration. ServiceKey must be the raw
// (unencoded) key; it is encoded exactly once when the query string is
// built.
type Config struct {
	BaseURL        string
	ServiceKey     string
	PageSize       int
	MaxRetries     int
	RetryDelay     time.Duration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Options        Options
}

func (c Config) pageSize() int {
	if c.PageSize > 0 {
		return c.PageSize
	}
	return defaultPageSize
}

// Fetcher is the fetch contract the orchestrator depends on. Worker
// clients returned by NewWorkerClient do not share connection pools,
// so parallel regions never contend on transport state.
type Fetcher interface {
	FetchAlerts(ctx context.Context, regionCode, regionName, fromDate, toDate string) ([]alert.WarningEvent, error)
	NewWorkerClient() Fetcher
	Close()
}

// Client fetches warning events from the KMA special-report feed.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	log        *logger.Logger
	nameWarns  *onceCache
}

// NewClient builds the primary client. The limiter is shared by every
// worker client so the process-wide request rate stays bounded.
func NewClient(cfg Config, limiter *ratelimit.Limiter, log *logger.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: newHTTPClient(cfg),
		limiter:    limiter,
		log:        log.WithModule("weather_api"),
		nameWarns:  newOnceCache(),
	}
}

// NewWorkerClient returns a client with its own transport but the
// shared limiter and warning cache.
func (c *Client) NewWorkerClient() Fetcher {
	return &Client{
		cfg:        c.cfg,
		httpClient: newHTTPClient(c.cfg),
		limiter:    c.limiter,
		log:        c.log,
		nameWarns:  c.nameWarns,
	}
}

// Close releases idle transport connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func newHTTPClient(cfg Config) *http.Client {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	return &http.Client{
		Timeout: cfg.ConnectTimeout + cfg.ReadTimeout,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// FetchAlerts retrieves every warning event for one region across the
// given forecast-time range, walking pagination until totalCount is
// exhausted. NODATA on page 1 is an empty result, not an error.
func (c *Client) FetchAlerts(ctx context.Context, regionCode, regionName, fromDate, toDate string) ([]alert.WarningEvent, error) {
	pageNo := 1
	pageSize := c.cfg.pageSize()
	pageCount := 0
	totalCount := -1
	var all []alert.WarningEvent

	for {
		resp, err := c.fetchPage(ctx, regionCode, fromDate, toDate, pageNo, pageSize)
		if err != nil {
			return nil, err
		}

		resultCode := normalizeResultCode(resp.Header.ResultCode)
		if resultCode == resultCodeNoData {
			// Out-of-range pages report NODATA rather than an empty list.
			if pageNo == 1 {
				c.log.Event(events.AreaFetchSummary,
					"area_code", regionCode,
					"area_name", regionName,
					"fetched_items", 0,
					"page_count", 1,
					"total_count", 0)
				return nil, nil
			}
			break
		}
		if resultCode != resultCodeSuccess {
			return nil, &Error{
				Kind:       KindAPIResult,
				ResultCode: resultCode,
				Message: fmt.Sprintf("API response error %s: %s",
					resultCode, alert.ResultCodeName(resultCode)),
			}
		}

		items := resp.Body.Items.Item
		all = append(all, c.parseItems(items, regionCode, regionName)...)
		pageCount++

		if totalCount < 0 {
			totalCount = parseTotalCount(resp.Body.TotalCount)
		}
		if !hasNextPage(pageNo, pageSize, len(items), totalCount) {
			break
		}
		pageNo++
	}

	c.log.Event(events.AreaFetchSummary,
		"area_code", regionCode,
		"area_name", regionName,
		"fetched_items", len(all),
		"page_count", max(pageCount, 1),
		"total_count", totalCount)
	return all, nil
}

// fetchPage runs one paginated request under the retry policy. The
// rate-limited result code retries like a transport failure; every
// other non-success result code is terminal and judged by the caller.
func (c *Client) fetchPage(ctx context.Context, regionCode, fromDate, toDate string, pageNo, pageSize int) (*apiResponse, error) {
	params := c.buildParams(regionCode, fromDate, toDate, pageNo, pageSize)

	var resp *apiResponse
	err := retry.Do(ctx, c.cfg.MaxRetries, c.cfg.RetryDelay, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		r, err := c.doRequest(ctx, params)
		if err != nil {
			return err
		}
		if code := normalizeResultCode(r.Header.ResultCode); code == resultCodeRateLimited {
			return &Error{
				Kind:       KindAPIResult,
				ResultCode: code,
				Message: fmt.Sprintf("API response error %s: %s",
					code, alert.ResultCodeName(code)),
			}
		}
		resp = r
		return nil
	}, func(attempt int, wait time.Duration, err error) {
		c.log.EventWarn(events.AreaFetchRetry,
			"attempt", attempt,
			"max_retries", c.cfg.MaxRetries,
			"area_code", regionCode,
			"error_code", KindOf(err),
			"error", logger.RedactError(err),
			"backoff_sec", wait.Seconds())
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) buildParams(regionCode, fromDate, toDate string, pageNo, pageSize int) url.Values {
	params := url.Values{}
	params.Set("serviceKey", c.cfg.ServiceKey)
	params.Set("numOfRows", strconv.Itoa(pageSize))
	params.Set("pageNo", strconv.Itoa(pageNo))
	params.Set("dataType", "XML")
	params.Set("fromTmFc", fromDate)
	params.Set("toTmFc", toDate)
	params.Set("areaCode", regionCode)
	if c.cfg.Options.WarningType != "" {
		params.Set("warningType", c.cfg.Options.WarningType)
	}
	if c.cfg.Options.StationID != "" {
		params.Set("stnId", c.cfg.Options.StationID)
	}
	return params
}

func (c *Client) doRequest(ctx context.Context, params url.Values) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, retry.Permanent(&Error{
			Kind:    KindUnknown,
			Message: "failed to build request",
			Err:     err,
		})
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		apiErr := &Error{
			Kind:       fmt.Sprintf("http_%d", httpResp.StatusCode),
			StatusCode: httpResp.StatusCode,
			Message:    fmt.Sprintf("HTTP %d", httpResp.StatusCode),
		}
		// Client errors will not heal on retry.
		if httpResp.StatusCode >= 400 && httpResp.StatusCode < 500 {
			return nil, retry.Permanent(apiErr)
		}
		return nil, apiErr
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, classifyTransport(err)
	}

	var resp apiResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, &Error{
			Kind:    KindParse,
			Message: "failed to parse XML",
			Err:     err,
		}
	}
	return &resp, nil
}

func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return retry.Permanent(err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &Error{Kind: KindConn, Message: "request failed", Err: err}
	}
	return &Error{Kind: KindUnknown, Message: "request failed", Err: err}
}

// parseItems maps the raw feed items into warning events, resolving
// region names and code tables.
func (c *Client) parseItems(items []apiItem, regionCode, configuredName string) []alert.WarningEvent {
	out := make([]alert.WarningEvent, 0, len(items))
	for _, item := range items {
		resolvedName := c.resolveRegionName(regionCode, configuredName, strings.TrimSpace(item.AreaName))
		out = append(out, alert.WarningEvent{
			RegionCode:   regionCode,
			RegionName:   resolvedName,
			Kind:         c.mapCode("warnVar", item.WarnVar, alert.KindNames, regionCode, configuredName),
			Level:        c.mapCode("warnStress", item.WarnStress, alert.LevelNames, regionCode, configuredName),
			Action:       c.mapCode("command", item.Command, alert.ActionNames, regionCode, configuredName),
			Cancel:       c.mapCode("cancel", item.Cancel, alert.CancelNames, regionCode, configuredName),
			StartTime:    alert.FormatKoreanTime(item.StartTime),
			EndTime:      alert.FormatKoreanTime(item.EndTime),
			StationID:    strings.TrimSpace(item.StnID),
			AnnounceTime: strings.TrimSpace(item.TmFc),
			AnnounceSeq:  strings.TrimSpace(item.TmSeq),
		})
	}
	return out
}

// resolveRegionName picks the display name for a region: the configured
// mapping wins, then the name in the response, then the raw code.
// Mismatches and gaps warn once per distinct combination.
func (c *Client) resolveRegionName(regionCode, configuredName, responseName string) string {
	configured := strings.TrimSpace(configuredName)
	hasConfigured := configured != "" && configured != unknownRegionName

	if hasConfigured {
		if responseName != "" && configured != responseName {
			c.warnNameMapping(regionCode, "mismatch", configured, responseName, configured)
		}
		return configured
	}
	if responseName != "" {
		c.warnNameMapping(regionCode, "missing_mapping", configured, responseName, responseName)
		return responseName
	}
	c.warnNameMapping(regionCode, "missing_mapping_and_response", configured, "", regionCode)
	return regionCode
}

func (c *Client) warnNameMapping(regionCode, reason, configured, response, resolved string) {
	if !c.nameWarns.firstSeen(regionCode, reason, configured, response) {
		return
	}
	c.log.EventWarn(events.AreaNameMappingWarning,
		"area_code", regionCode,
		"reason", reason,
		"configured_area_name", configured,
		"response_area_name", response,
		"resolved_area_name", resolved)
}

func (c *Client) mapCode(field, rawCode string, table map[string]string, regionCode, regionName string) string {
	label, mapped := alert.MapCode(field, rawCode, table)
	if !mapped {
		c.log.EventWarn(events.AreaCodeUnmapped,
			"area_code", regionCode,
			"area_name", regionName,
			"field", field,
			"raw_code", strings.TrimSpace(rawCode),
			"fallback_value", label)
	}
	return label
}

// normalizeResultCode trims and zero-pads short numeric codes so "0"
// and "00" compare equal.
func normalizeResultCode(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return notAvailableCode
	}
	if len(code) == 1 && code[0] >= '0' && code[0] <= '9' {
		return "0" + code
	}
	return code
}

const notAvailableCode = "N/A"

func parseTotalCount(raw string) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value < 0 {
		return -1
	}
	return value
}

// hasNextPage decides pagination from totalCount when the feed
// provides it, falling back to a full-page heuristic.
func hasNextPage(pageNo, pageSize, itemsOnPage, totalCount int) bool {
	if itemsOnPage <= 0 {
		return false
	}
	if totalCount >= 0 {
		return pageNo*pageSize < totalCount
	}
	return itemsOnPage >= pageSize
}

// onceCache deduplicates one-shot warnings across worker clients.
type onceCache struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newOnceCache() *onceCache {
	return &onceCache{seen: map[string]struct{}{}}
}

func (c *onceCache) firstSeen(parts ...string) bool {
	key := strings.Join(parts, "\x00")
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[key]; ok {
		return false
	}
	c.seen[key] = struct{}{}
	return true
}

// apiResponse mirrors the feed's XML envelope.
type apiResponse struct {
	XMLName xml.Name `xml:"response"`
	Header  struct {
		ResultCode string `xml:"resultCode"`
		ResultMsg  string `xml:"resultMsg"`
	} `xml:"header"`
	Body struct {
		TotalCount string `xml:"totalCount"`
		Items      struct {
			Item []apiItem `xml:"item"`
		} `xml:"items"`
	} `xml:"body"`
}

type apiItem struct {
	AreaName   string `xml:"areaName"`
	WarnVar    string `xml:"warnVar"`
	WarnStress string `xml:"warnStress"`
	Command    string `xml:"command"`
	Cancel     string `xml:"cancel"`
	StartTime  string `xml:"startTime"`
	EndTime    string `xml:"endTime"`
	StnID      string `xml:"stnId"`
	TmSeq      string `xml:"tmSeq"`
	TmFc       string `xml:"tmFc"`
}

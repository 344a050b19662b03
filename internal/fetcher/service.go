package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"github.com/bnema/cbsync/internal/log"
	"github.com/bnema/cbsync/internal/models"
	"github.com/bnema/cbsync/internal/parser"
)

// ErrNoSource is returned when a filter has neither a rules URL nor a
// subscription URL.
var ErrNoSource = errors.New("no download source")

const optimizedSuffix = "_optimized"

// headerLines bounds how far into a list the header is searched
const headerLines = 50

// Locator resolves filter metadata by id
type Locator interface {
	Filter(id int) (models.FilterMetadata, bool)
}

// Header holds the metadata found in the leading comments of a rule list
type Header struct {
	Title   string
	Version string
}

// ParseHeader reads "! Title:" and "! Version:" comments at the top of a list
func ParseHeader(lines []string) Header {
	var h Header
	for i, line := range lines {
		if i >= headerLines {
			break
		}
		if !strings.HasPrefix(line, "!") {
			continue
		}
		body := strings.TrimSpace(strings.TrimPrefix(line, "!"))
		key, value, ok := strings.Cut(body, ":")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "title":
			h.Title = strings.TrimSpace(value)
		case "version":
			h.Version = strings.TrimSpace(value)
		}
	}
	return h
}

// Service is the remote side of the filter pipeline: metadata, rule lists
// and custom subscriptions.
type Service struct {
	fetcher *Fetcher
	cfg     models.FiltersConfig
	filters Locator
	logger  log.Logger
}

// NewService creates a Service downloading through f
func NewService(f *Fetcher, cfg models.FiltersConfig, filters Locator, logger log.Logger) *Service {
	if logger == nil {
		logger = log.GetLogger()
	}
	return &Service{fetcher: f, cfg: cfg, filters: filters, logger: logger}
}

type metadataDocument struct {
	Filters []models.FilterMetadata `json:"filters"`
}

// RemoteFilter is the remote state of one filter. Lines is set when the
// rules had to be downloaded to learn the version.
type RemoteFilter struct {
	Meta  models.FilterMetadata
	Lines []string
}

// FetchMetadata returns the remote metadata of the requested filters in the
// order asked. Filters unknown to the remote side are left out. Without a
// metadata URL, every list is downloaded and versions come from its header.
func (s *Service) FetchMetadata(ctx context.Context, ids []int) ([]RemoteFilter, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if s.cfg.MetadataURL == "" {
		return s.metadataFromHeaders(ctx, ids)
	}

	data, err := s.fetcher.Fetch(ctx, s.cfg.MetadataURL)
	if err != nil {
		return nil, err
	}

	var doc metadataDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &NetworkError{URL: s.cfg.MetadataURL, Err: fmt.Errorf("decoding metadata: %w", err)}
	}

	byID := make(map[int]models.FilterMetadata, len(doc.Filters))
	for _, f := range doc.Filters {
		byID[f.FilterID] = f
	}

	out := make([]RemoteFilter, 0, len(ids))
	for _, id := range ids {
		f, ok := byID[id]
		if !ok {
			s.logger.Debug(map[string]any{"filter_id": id}, "Filter missing from remote metadata")
			continue
		}
		out = append(out, RemoteFilter{Meta: f})
	}
	return out, nil
}

func (s *Service) metadataFromHeaders(ctx context.Context, ids []int) ([]RemoteFilter, error) {
	p := pool.NewWithResults[RemoteFilter]().
		WithErrors().
		WithContext(ctx).
		WithCancelOnError()

	for _, id := range ids {
		id := id
		p.Go(func(ctx context.Context) (RemoteFilter, error) {
			lines, err := s.FetchRules(ctx, id, true, s.cfg.UseOptimized)
			if err != nil {
				return RemoteFilter{}, fmt.Errorf("filter %d: %w", id, err)
			}
			h := ParseHeader(lines)
			return RemoteFilter{
				Meta:  models.FilterMetadata{FilterID: id, Name: h.Title, Version: h.Version},
				Lines: lines,
			}, nil
		})
	}

	fetched, err := p.Wait()
	if err != nil {
		return nil, err
	}

	byID := make(map[int]RemoteFilter, len(fetched))
	for _, f := range fetched {
		byID[f.Meta.FilterID] = f
	}
	out := make([]RemoteFilter, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out, nil
}

// FetchRules returns the rule lines of a filter. Unless forceRemote is set,
// a copy in the local directory is preferred.
func (s *Service) FetchRules(ctx context.Context, filterID int, forceRemote, useOptimized bool) ([]string, error) {
	suffix := ""
	if useOptimized {
		suffix = optimizedSuffix
	}

	if !forceRemote && s.cfg.LocalDir != "" {
		path := filepath.Join(s.cfg.LocalDir, strconv.Itoa(filterID)+suffix+".txt")
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			s.logger.Debug(map[string]any{"filter_id": filterID, "path": path}, "Using local filter copy")
			return parser.ReadLines(bytes.NewReader(data))
		case !errors.Is(err, os.ErrNotExist):
			return nil, err
		}
	}

	url, err := s.rulesURL(filterID, suffix)
	if err != nil {
		return nil, err
	}
	data, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return parser.ReadLines(bytes.NewReader(data))
}

func (s *Service) rulesURL(filterID int, suffix string) (string, error) {
	if f, ok := s.filters.Filter(filterID); ok && f.IsCustom() {
		return f.CustomURL, nil
	}
	if s.cfg.RulesURL != "" {
		r := strings.NewReplacer("{id}", strconv.Itoa(filterID), "{suffix}", suffix)
		return r.Replace(s.cfg.RulesURL), nil
	}
	if f, ok := s.filters.Filter(filterID); ok && f.SubscriptionURL != "" {
		return f.SubscriptionURL, nil
	}
	return "", fmt.Errorf("filter %d: %w", filterID, ErrNoSource)
}

// FetchCustomRules downloads a custom subscription and its header
func (s *Service) FetchCustomRules(ctx context.Context, url string) (Header, []string, error) {
	data, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return Header{}, nil, err
	}
	lines, err := parser.ReadLines(bytes.NewReader(data))
	if err != nil {
		return Header{}, nil, err
	}
	return ParseHeader(lines), lines, nil
}

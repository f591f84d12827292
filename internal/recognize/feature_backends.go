package recognize

import (
	"path/filepath"

	"screen-matcher/internal/config"
	"screen-matcher/internal/featurecache"
	"screen-matcher/internal/features"
	"screen-matcher/internal/imaging"
	"screen-matcher/internal/match"
)

// cachedFeatureComparer is the hot path: template features come from the
// cache, only the query is extracted per call.
type cachedFeatureComparer struct {
	store   *featurecache.Store
	ex      *features.Extractor
	matcher *match.Matcher
}

func (c *cachedFeatureComparer) Compare(templatePath, queryPath string) (match.Result, error) {
	rec, err := c.store.Lookup(filepath.Base(templatePath))
	if err != nil {
		return match.Result{}, err
	}

	query, err := c.ex.ExtractFile(queryPath)
	if err != nil {
		return match.Result{}, err
	}

	res := c.matcher.Match(rec.Set(), query)
	res.TemplateID = rec.TemplateID
	res.Algorithm = config.StrategyCachedFeatures
	return res, nil
}

func (c *cachedFeatureComparer) Close() error {
	return c.ex.Close()
}

// uncachedFeatureComparer runs the same geometric algorithm but re-extracts
// template features on every call. Used when no cache is available.
type uncachedFeatureComparer struct {
	ex      *features.Extractor
	matcher *match.Matcher
}

func (c *uncachedFeatureComparer) Compare(templatePath, queryPath string) (match.Result, error) {
	template, err := c.ex.ExtractFile(templatePath)
	if err != nil {
		return match.Result{}, err
	}

	query, err := c.ex.ExtractFile(queryPath)
	if err != nil {
		return match.Result{}, err
	}

	res := c.matcher.Match(template, query)
	res.TemplateID = imaging.Stem(templatePath)
	res.Algorithm = config.StrategyUncachedFeatures
	return res, nil
}

func (c *uncachedFeatureComparer) Close() error {
	return c.ex.Close()
}

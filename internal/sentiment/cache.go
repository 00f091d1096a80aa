package sentiment

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
	"github.com/fyrsmithlabs/feedbackd/internal/metrics"
)

// DefaultCacheSize is the number of record verdicts kept in memory.
const DefaultCacheSize = 4096

// CachingClassifier memoizes verdicts per record so repeated dashboard builds
// do not reclassify the same text. Concurrent lookups of one uncached record
// share a single call to the inner classifier.
type CachingClassifier struct {
	inner   Classifier
	cache   *lru.Cache[string, Result]
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewCachingClassifier wraps inner with an LRU cache of size entries.
func NewCachingClassifier(inner Classifier, size int, logger *zap.Logger) (*CachingClassifier, error) {
	if inner == nil {
		return nil, errors.New("classifier cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, Result](size)
	if err != nil {
		return nil, err
	}
	return &CachingClassifier{
		inner:   inner,
		cache:   cache,
		metrics: metrics.New(),
		logger:  logger,
	}, nil
}

// Classify passes text straight to the inner classifier.
func (c *CachingClassifier) Classify(ctx context.Context, text string) (Result, error) {
	return c.inner.Classify(ctx, text)
}

// ClassifyRecord returns the record's sentiment. A label already present on
// the record wins; otherwise the text is classified once per record and text.
func (c *CachingClassifier) ClassifyRecord(ctx context.Context, rec feedback.Record) (feedback.Sentiment, error) {
	if rec.Sentiment.Valid() {
		c.metrics.RecordSentimentLookup("preset")
		return rec.Sentiment, nil
	}
	if rec.ID == "" {
		res, err := c.inner.Classify(ctx, rec.Text)
		return res.Label, err
	}

	key := cacheKey(rec)
	if res, ok := c.cache.Get(key); ok {
		c.metrics.RecordSentimentLookup("hit")
		return res.Label, nil
	}
	c.metrics.RecordSentimentLookup("miss")

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		res, err := c.inner.Classify(ctx, rec.Text)
		if err != nil {
			return Result{}, err
		}
		c.cache.Add(key, res)
		return res, nil
	})
	if err != nil {
		c.logger.Debug("sentiment classification failed",
			zap.String("record_id", rec.ID),
			zap.Error(err))
		return "", err
	}
	c.metrics.SetSentimentCacheSize(c.cache.Len())
	return v.(Result).Label, nil
}

// Purge drops every cached verdict. Called after the lexicon changes.
func (c *CachingClassifier) Purge() {
	c.cache.Purge()
	c.metrics.SetSentimentCacheSize(0)
}

// Len reports the number of cached verdicts.
func (c *CachingClassifier) Len() int {
	return c.cache.Len()
}

func cacheKey(rec feedback.Record) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(rec.Text))
	return rec.ID + ":" + strconv.FormatUint(h.Sum64(), 36)
}

package recognize

import (
	"screen-matcher/internal/config"
	"screen-matcher/internal/imaging"
	"screen-matcher/internal/match"
	"screen-matcher/internal/phash"
)

// perceptualHashComparer is the traditional fallback: fastest, least
// discriminative. Hash distance converts directly to a similarity
// percentage.
type perceptualHashComparer struct{}

func (perceptualHashComparer) Compare(templatePath, queryPath string) (match.Result, error) {
	result := match.Result{
		TemplateID: imaging.Stem(templatePath),
		Algorithm:  config.StrategyPerceptualHash,
	}

	th, err := phash.FromFile(templatePath)
	if err != nil {
		return result, err
	}
	qh, err := phash.FromFile(queryPath)
	if err != nil {
		return result, err
	}

	result.Confidence = phash.Similarity(th, qh)
	return result, nil
}

func (perceptualHashComparer) Close() error {
	return nil
}

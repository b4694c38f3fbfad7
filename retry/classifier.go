package retry

import (
	flowerrors "github.com/davidroman0O/contestflow/errors"
)

// Classifier decides whether an error is transient
type Classifier interface {
	Retryable(err error) bool
}

// ClassifierFunc adapts a function to Classifier
type ClassifierFunc func(err error) bool

func (f ClassifierFunc) Retryable(err error) bool { return f(err) }

// CategoryClassifier is the configuration-driven allow/deny table. Abort
// wins over Retry, and a category in neither list is not retried.
type CategoryClassifier struct {
	Retry []flowerrors.Category
	Abort []flowerrors.Category
}

// NewCategoryClassifier parses category names from configuration
func NewCategoryClassifier(retryOn, abortOn []string) (*CategoryClassifier, error) {
	c := &CategoryClassifier{}
	for _, name := range retryOn {
		cat, err := flowerrors.ParseCategory(name)
		if err != nil {
			return nil, err
		}
		c.Retry = append(c.Retry, cat)
	}
	for _, name := range abortOn {
		cat, err := flowerrors.ParseCategory(name)
		if err != nil {
			return nil, err
		}
		c.Abort = append(c.Abort, cat)
	}
	return c, nil
}

// Decide reports the category of err and whether it is retried
func (c *CategoryClassifier) Decide(err error) (flowerrors.Category, bool) {
	cat := flowerrors.CategoryOf(err)
	if contains(c.Abort, cat) {
		return cat, false
	}
	return cat, contains(c.Retry, cat)
}

// Retryable implements Classifier
func (c *CategoryClassifier) Retryable(err error) bool {
	_, ok := c.Decide(err)
	return ok
}

func contains(list []flowerrors.Category, c flowerrors.Category) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}

// Never is a classifier that retries nothing
var Never Classifier = ClassifierFunc(func(error) bool { return false })

// Package media rewrites image references from the storage host to the
// delivery host.
package media

import (
	"strings"

	"github.com/vitrine-media/vitrine/pkg/models"
)

// Rewriter substitutes the From prefix of a reference with To. A nil
// Rewriter or an empty From leaves references untouched.
type Rewriter struct {
	From string
	To   string
}

// New returns a Rewriter, or nil when from is empty.
func New(from, to string) *Rewriter {
	if from == "" {
		return nil
	}
	return &Rewriter{From: from, To: to}
}

// Rewrite returns ref with its storage prefix replaced. References that do
// not start with From are returned as is.
func (r *Rewriter) Rewrite(ref string) string {
	if r == nil || r.From == "" {
		return ref
	}
	if rest, ok := strings.CutPrefix(ref, r.From); ok {
		return r.To + rest
	}
	return ref
}

// RewriteArticle returns a copy of a with every image reference rewritten.
// The input's Images slice is not modified.
func (r *Rewriter) RewriteArticle(a models.Article) models.Article {
	if r == nil || r.From == "" || len(a.Images) == 0 {
		return a
	}
	images := make([]string, len(a.Images))
	for i, ref := range a.Images {
		images[i] = r.Rewrite(ref)
	}
	a.Images = images
	return a
}

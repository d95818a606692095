// Package recipients turns a comma-separated list specification into the
// investor email addresses a campaign is sent to.
package recipients

import (
	"context"
	"strings"

	"github.com/ignite/campaign-mailer/internal/docstore"
	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
)

// Resolver reads investors from the document store.
type Resolver struct {
	store docstore.Store
	log   *logger.Logger
}

// NewResolver creates a resolver over store.
func NewResolver(store docstore.Store) *Resolver {
	return &Resolver{store: store, log: logger.Default().With("component", "recipients")}
}

// ParseListSpec splits spec on commas and trims each id. The empty spec and
// the "No Recipients" sentinel yield no ids. Empty tokens are dropped;
// duplicates are kept.
func ParseListSpec(spec string) []string {
	if spec == "" || spec == domain.NoRecipients {
		return nil
	}
	var ids []string
	for _, tok := range strings.Split(spec, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			ids = append(ids, tok)
		}
	}
	return ids
}

// Resolve returns the Partner Email of every investor whose listId is in
// spec, in query order. The ids are queried in chunks of
// docstore.MaxInValues. Investors without an address are skipped. Results
// are neither sorted nor de-duplicated across chunks. A failed query is
// logged and yields an empty result.
func (r *Resolver) Resolve(ctx context.Context, spec string) []string {
	ids := ParseListSpec(spec)
	if len(ids) == 0 {
		return []string{}
	}

	emails := []string{}
	for _, chunk := range docstore.Chunk(ids, docstore.MaxInValues) {
		values := make([]any, len(chunk))
		for i, id := range chunk {
			values[i] = id
		}
		docs, err := r.store.Query(ctx, domain.CollectionInvestors, docstore.In(domain.FieldListID, values...))
		if err != nil {
			r.log.Error("recipient lookup failed", "list_ids", strings.Join(chunk, ","), "error", err)
			return []string{}
		}
		for _, d := range docs {
			if email := docstore.String(d.Data[domain.FieldPartnerEmail]); email != "" {
				emails = append(emails, email)
			}
		}
	}
	return emails
}

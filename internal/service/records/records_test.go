package records_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-mailer/internal/docstore"
	"github.com/ignite/campaign-mailer/internal/docstore/memory"
	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/distlock"
	"github.com/ignite/campaign-mailer/internal/service/records"
)

func newService(store docstore.Store, opts ...records.Option) *records.Service {
	return records.New(store, distlock.NewProvider(nil, nil, time.Minute), opts...)
}

func TestClientLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := newService(memory.New())

	id, err := svc.CreateClient(ctx, map[string]any{"email": "a@x.com", "name": "Acme"})
	require.NoError(t, err)
	_, err = svc.CreateClient(ctx, map[string]any{"email": "b@x.com"})
	require.NoError(t, err)

	all, err := svc.ListClients(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := svc.ListClients(ctx, "a@x.com")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, id, filtered[0]["id"])
	assert.Equal(t, "Acme", filtered[0]["name"])
	assert.NotEmpty(t, filtered[0][domain.FieldCreatedAt])

	require.NoError(t, svc.DeleteClient(ctx, id))
	assert.ErrorIs(t, svc.DeleteClient(ctx, id), domain.ErrNotFound)
}

func TestCampaignLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := newService(memory.New())

	id, err := svc.CreateCampaign(ctx, map[string]any{"name": "Q3 letter"})
	require.NoError(t, err)

	c, err := svc.GetCampaign(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Q3 letter", c["name"])

	list, err := svc.ListCampaigns(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, svc.DeleteCampaign(ctx, id))
	_, err = svc.GetCampaign(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateContactListValidation(t *testing.T) {
	svc := newService(memory.New())
	for _, name := range []any{nil, "", 42} {
		_, err := svc.CreateContactList(context.Background(), name)
		assert.ErrorIs(t, err, domain.ErrValidation)
	}
}

func TestCreateContactListRejectsDuplicateName(t *testing.T) {
	ctx := context.Background()
	svc := newService(memory.New())

	_, err := svc.CreateContactList(ctx, "Q3 prospects")
	require.NoError(t, err)
	_, err = svc.CreateContactList(ctx, "Q3 prospects")
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.ErrorContains(t, err, `"Q3 prospects" already exists`)
}

func TestCreateContactListConcurrentSameName(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newService(store)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created, conflicts := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateContactList(ctx, "Q3 prospects")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
	assert.Equal(t, 9, conflicts)

	lists, err := svc.ListContactLists(ctx)
	require.NoError(t, err)
	assert.Len(t, lists, 1)
}

func TestDeleteContactListCascades(t *testing.T) {
	ctx := context.Background()
	store := memory.New().WithMaxBatchSize(4)
	svc := newService(store)

	listID, err := svc.CreateContactList(ctx, "Q3")
	require.NoError(t, err)
	other, err := svc.CreateContactList(ctx, "Q4")
	require.NoError(t, err)

	var investors []map[string]any
	for i := 0; i < 9; i++ {
		investors = append(investors, map[string]any{
			domain.FieldPartnerEmail: fmt.Sprintf("p%d@x.com", i),
			domain.FieldListID:       listID,
		})
	}
	investors = append(investors, map[string]any{domain.FieldPartnerEmail: "keep@x.com", domain.FieldListID: other})
	_, err = svc.CreateInvestors(ctx, investors)
	require.NoError(t, err)

	n, err := svc.DeleteContactList(ctx, listID)
	require.NoError(t, err)
	assert.Equal(t, 9, n)

	left, err := svc.ListInvestors(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "keep@x.com", left[0][domain.FieldPartnerEmail])

	lists, err := svc.ListContactLists(ctx)
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.Equal(t, "Q4", lists[0].ListName)

	_, err = svc.DeleteContactList(ctx, listID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateInvestorsValidatesBeforeWriting(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newService(store)

	_, err := svc.CreateInvestors(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.CreateInvestors(ctx, []map[string]any{
		{domain.FieldPartnerEmail: "a@x.com", domain.FieldListID: "L1"},
		{domain.FieldPartnerEmail: "b@x.com"},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	all, err := svc.ListInvestors(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestUpdateInvestor(t *testing.T) {
	ctx := context.Background()
	svc := newService(memory.New())
	ids, err := svc.CreateInvestors(ctx, []map[string]any{
		{domain.FieldPartnerEmail: "a@x.com", domain.FieldListID: "L1"},
	})
	require.NoError(t, err)

	fields, err := svc.UpdateInvestor(ctx, ids[0], map[string]any{domain.FieldListID: "L2", "Company": "Acme"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Company", "listId"}, fields)

	all, err := svc.ListInvestors(ctx)
	require.NoError(t, err)
	assert.Equal(t, "L2", all[0][domain.FieldListID])
	assert.Equal(t, "a@x.com", all[0][domain.FieldPartnerEmail])

	_, err = svc.UpdateInvestor(ctx, ids[0], map[string]any{})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.UpdateInvestor(ctx, ids[0], map[string]any{"partnerEmail": ""})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.UpdateInvestor(ctx, "missing", map[string]any{"Company": "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, svc.DeleteInvestor(ctx, ids[0]))
	assert.ErrorIs(t, svc.DeleteInvestor(ctx, ids[0]), domain.ErrNotFound)
}

type fakeArchiver struct {
	body string
	err  error
}

func (f *fakeArchiver) Archive(_ context.Context, listID, filename string, body io.Reader, size int64) (string, error) {
	b, _ := io.ReadAll(body)
	f.body = string(b)
	if f.err != nil {
		return "", f.err
	}
	return "uploads/" + listID + "/" + filename, nil
}

func TestImportCSVBatchesRows(t *testing.T) {
	ctx := context.Background()
	store := memory.New().WithMaxBatchSize(2)
	arch := &fakeArchiver{}
	svc := newService(store, records.WithArchiver(arch))

	csvData := "\ufeffPartner Email,Company\n" +
		"a@x.com,Acme\n" +
		"\n" +
		"b@x.com,Beta\n" +
		"c@x.com,\"Gamma, Inc\"\n"
	res, err := svc.ImportCSV(ctx, "L1", "q3.csv", strings.NewReader(csvData))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 2, res.Batches)
	assert.Equal(t, "uploads/L1/q3.csv", res.ArchiveKey)
	assert.Equal(t, csvData, arch.body)

	docs, err := store.Query(ctx, domain.CollectionInvestors, docstore.Eq(domain.FieldListID, "L1"))
	require.NoError(t, err)
	require.Len(t, docs, 3)
	var companies []any
	for _, d := range docs {
		companies = append(companies, d.Data["Company"])
	}
	assert.ElementsMatch(t, []any{"Acme", "Beta", "Gamma, Inc"}, companies)
}

func TestImportCSVRowListIDWins(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newService(store)

	_, err := svc.ImportCSV(ctx, "L1", "f.csv", strings.NewReader("Partner Email,listId\na@x.com,L9\n"))
	require.NoError(t, err)
	docs, err := store.Query(ctx, domain.CollectionInvestors, docstore.Eq(domain.FieldListID, "L9"))
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestImportCSVRejectsMalformedInput(t *testing.T) {
	svc := newService(memory.New())

	_, err := svc.ImportCSV(context.Background(), "", "f.csv", strings.NewReader("a\n1\n"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.ImportCSV(context.Background(), "L1", "f.csv", strings.NewReader("a,b\n1,2,3\n"))
	require.ErrorIs(t, err, domain.ErrValidation)
	var ce *records.CSVError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.Line)

	_, err = svc.ImportCSV(context.Background(), "L1", "f.csv", strings.NewReader(""))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestImportCSVArchiveFailureIsNotFatal(t *testing.T) {
	svc := newService(memory.New(), records.WithArchiver(&fakeArchiver{err: errors.New("access denied")}))
	res, err := svc.ImportCSV(context.Background(), "L1", "f.csv", strings.NewReader("Partner Email\na@x.com\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Empty(t, res.ArchiveKey)
}

func TestCounts(t *testing.T) {
	ctx := context.Background()
	svc := newService(memory.New())
	_, err := svc.CreateClient(ctx, map[string]any{"email": "a@x.com"})
	require.NoError(t, err)
	_, err = svc.CreateContactList(ctx, "Q3")
	require.NoError(t, err)
	_, err = svc.CreateInvestors(ctx, []map[string]any{
		{domain.FieldPartnerEmail: "a@x.com", domain.FieldListID: "L1"},
		{domain.FieldPartnerEmail: "b@x.com", domain.FieldListID: "L1"},
	})
	require.NoError(t, err)

	c, err := svc.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Counts{Clients: 1, InvestorLists: 2, TotalContacts: 1}, *c)
}

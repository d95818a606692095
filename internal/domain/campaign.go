package domain

import "time"

// Collection names used in the document store.
const (
	CollectionInvestors     = "investors"
	CollectionContactLists  = "contactLists"
	CollectionCampaigns     = "campaignLists"
	CollectionClients       = "clients"
	CollectionEmailTracking = "emailTracking"
)

// Well-known document fields. Investor documents are otherwise free-form:
// every column of an imported CSV is stored under its header name.
const (
	FieldPartnerEmail = "Partner Email"
	FieldListID       = "listId"
	FieldListName     = "listName"
	FieldCreatedAt    = "createdAt"
	FieldClientEmail  = "email"
)

// NoRecipients is the list specification a caller sends when a campaign has
// no contact list selected.
const NoRecipients = "No Recipients"

// Record is a schemaless document as returned to API callers: the stored
// fields plus the document id.
type Record map[string]any

// ContactList groups investors under a unique name.
type ContactList struct {
	ID        string `json:"id"`
	ListName  string `json:"listName"`
	CreatedAt string `json:"createdAt"`
}

// Counts is the dashboard summary of stored records.
type Counts struct {
	Clients       int `json:"clients"`
	InvestorLists int `json:"investorLists"`
	TotalContacts int `json:"totalContacts"`
}

// TimestampLayout is ISO-8601 in UTC with millisecond precision, the format
// of every stored timestamp.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp formats t with TimestampLayout.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

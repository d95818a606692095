package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/pkg/httputil"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
	"github.com/ignite/campaign-mailer/internal/service/records"
)

// listResponse is the envelope of the contact-list routes.
type listResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	ID      string `json:"id,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CreateClient handles POST /clients
func (h *Handlers) CreateClient(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if !httputil.Decode(w, r, &body) {
		return
	}
	id, err := h.records.CreateClient(r.Context(), body)
	if err != nil {
		respondError(w, err, "", "Failed to add client")
		return
	}
	httputil.Created(w, httputil.MessageResponse{ID: id, Message: "Client added successfully"})
}

// ListClients handles GET /clients?email=
func (h *Handlers) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.records.ListClients(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		respondError(w, err, "", "Failed to fetch clients")
		return
	}
	httputil.OK(w, clients)
}

// DeleteClient handles DELETE /clients/{id}
func (h *Handlers) DeleteClient(w http.ResponseWriter, r *http.Request) {
	if err := h.records.DeleteClient(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, err, "Client not found", "Failed to delete client")
		return
	}
	httputil.Message(w, "Client deleted successfully")
}

// CreateCampaign handles POST /campaign
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if !httputil.Decode(w, r, &body) {
		return
	}
	id, err := h.records.CreateCampaign(r.Context(), body)
	if err != nil {
		respondError(w, err, "", "Failed to add campaign")
		return
	}
	httputil.Created(w, httputil.MessageResponse{ID: id, Message: "Campaign added successfully"})
}

// ListCampaigns handles GET /campaign
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := h.records.ListCampaigns(r.Context())
	if err != nil {
		respondError(w, err, "", "Failed to fetch campaigns")
		return
	}
	httputil.OK(w, campaigns)
}

// GetCampaign handles GET /campaign/{id}
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.records.GetCampaign(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrNotFound) {
		httputil.JSON(w, http.StatusNotFound, map[string]string{"message": "Campaign not found"})
		return
	}
	if err != nil {
		respondError(w, err, "", "Failed to fetch campaign")
		return
	}
	httputil.OK(w, c)
}

// DeleteCampaign handles DELETE /campaign/{id}
func (h *Handlers) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.records.DeleteCampaign(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		httputil.JSON(w, http.StatusNotFound, listResponse{Message: "Campaign not found"})
	case err != nil:
		logger.Error("delete campaign failed", "campaign_id", id, "error", err)
		httputil.JSON(w, http.StatusInternalServerError, listResponse{Message: "Failed to delete campaign", Error: err.Error()})
	default:
		httputil.OK(w, listResponse{Success: true, Message: "Campaign deleted successfully", Data: map[string]string{"id": id}})
	}
}

// CreateContactList handles POST /contact-lists
func (h *Handlers) CreateContactList(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if !httputil.Decode(w, r, &body) {
		return
	}
	id, err := h.records.CreateContactList(r.Context(), body[domain.FieldListName])
	if err != nil {
		status := statusOf(err)
		resp := listResponse{Message: err.Error()}
		if status == http.StatusInternalServerError {
			logger.Error("create contact list failed", "error", err)
			resp = listResponse{Message: "Failed to save contact list", Error: err.Error()}
		}
		httputil.JSON(w, status, resp)
		return
	}
	httputil.Created(w, listResponse{Success: true, Message: "Contact list created successfully", ID: id})
}

// ListContactLists handles GET /contact-lists. No lists is a 404.
func (h *Handlers) ListContactLists(w http.ResponseWriter, r *http.Request) {
	lists, err := h.records.ListContactLists(r.Context())
	if err != nil {
		logger.Error("list contact lists failed", "error", err)
		httputil.JSON(w, http.StatusInternalServerError, listResponse{Message: "Failed to fetch contact lists", Error: err.Error()})
		return
	}
	if len(lists) == 0 {
		httputil.JSON(w, http.StatusNotFound, listResponse{Message: "No contact lists found"})
		return
	}
	httputil.OK(w, listResponse{Success: true, Data: lists})
}

// DeleteContactList handles DELETE /contact-lists/{id}
func (h *Handlers) DeleteContactList(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.records.DeleteContactList(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		httputil.JSON(w, http.StatusNotFound, listResponse{Message: fmt.Sprintf("Contact list with ID %s not found", id)})
	case err != nil:
		logger.Error("delete contact list failed", "list_id", id, "error", err)
		httputil.JSON(w, http.StatusInternalServerError, listResponse{Message: "Failed to delete contact list and related data", Error: err.Error()})
	default:
		httputil.OK(w, listResponse{
			Success: true,
			Message: fmt.Sprintf("Contact list %s deleted along with %d investors.", id, n),
		})
	}
}

// CreateInvestors handles POST /investors with a JSON array body.
func (h *Handlers) CreateInvestors(w http.ResponseWriter, r *http.Request) {
	var body []map[string]any
	if err := decodeJSON(r, &body); err != nil {
		httputil.BadRequest(w, "Invalid request: Array of investor data is required")
		return
	}
	ids, err := h.records.CreateInvestors(r.Context(), body)
	if err != nil {
		respondError(w, err, "", "Failed to add investors")
		return
	}
	httputil.Created(w, map[string]any{
		"ids":     ids,
		"message": fmt.Sprintf("Successfully added %d investors", len(ids)),
	})
}

// ListInvestors handles GET /investors. No investors is a 404 with an
// empty data array.
func (h *Handlers) ListInvestors(w http.ResponseWriter, r *http.Request) {
	investors, err := h.records.ListInvestors(r.Context())
	if err != nil {
		respondError(w, err, "", "Failed to retrieve investors")
		return
	}
	if len(investors) == 0 {
		httputil.JSON(w, http.StatusNotFound, map[string]any{
			"message": "No investors found", "totalCount": 0, "data": investors,
		})
		return
	}
	httputil.OK(w, map[string]any{
		"message":    "Successfully retrieved all investors",
		"totalCount": len(investors),
		"data":       investors,
	})
}

// UpdateInvestor handles PUT /investors/{id}
func (h *Handlers) UpdateInvestor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body map[string]any
	if !httputil.Decode(w, r, &body) {
		return
	}
	fields, err := h.records.UpdateInvestor(r.Context(), id, body)
	if err != nil {
		respondError(w, err, "Investor not found", "Failed to update investor")
		return
	}
	httputil.OK(w, map[string]any{
		"message":       "Successfully updated investor with ID: " + id,
		"updatedFields": fields,
	})
}

// DeleteInvestor handles DELETE /investors/{id}
func (h *Handlers) DeleteInvestor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.records.DeleteInvestor(r.Context(), id); err != nil {
		respondError(w, err, "Investor not found", "Failed to delete investor")
		return
	}
	httputil.Message(w, "Successfully deleted investor with ID: "+id)
}

// UploadCSV handles POST /upload-csv: a multipart "file" plus "listId".
func (h *Handlers) UploadCSV(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.Error(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		httputil.BadRequest(w, "No file uploaded")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.BadRequest(w, "No file uploaded")
		return
	}
	defer file.Close()

	listID := r.FormValue(domain.FieldListID)
	if listID == "" {
		httputil.BadRequest(w, "listId is required")
		return
	}

	res, err := h.records.ImportCSV(r.Context(), listID, header.Filename, file)
	var csvErr *records.CSVError
	switch {
	case errors.As(err, &csvErr):
		httputil.JSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "Invalid CSV format", Details: csvErr.Error()})
	case err != nil:
		respondError(w, err, "", "Failed to upload CSV")
	default:
		resp := map[string]any{
			"success": true,
			"message": fmt.Sprintf("CSV uploaded successfully! %d records inserted.", res.Inserted),
		}
		if res.ArchiveKey != "" {
			resp["archiveKey"] = res.ArchiveKey
		}
		httputil.Created(w, resp)
	}
}

// Stats handles GET /stats
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	c, err := h.records.Counts(r.Context())
	if err != nil {
		respondError(w, err, "", "Failed to fetch stats")
		return
	}
	httputil.OK(w, c)
}
